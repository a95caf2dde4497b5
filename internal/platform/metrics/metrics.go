package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the detector pipeline.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	framesCapturedTotal  prometheus.Counter
	framesProcessedTotal prometheus.Counter
	framesSkippedTotal   prometheus.Counter
	captureErrorsTotal   prometheus.Counter
	encodeErrorsTotal    prometheus.Counter
	reloadsTotal         prometheus.Counter
	streamClients        prometheus.Gauge
	pipelineFPS          prometheus.Gauge
}

// New creates and registers Prometheus metrics for the detector.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	framesCapturedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_frames_captured_total",
		Help: "Total number of frames read from the capture source",
	})
	framesProcessedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_frames_processed_total",
		Help: "Total number of frames run through feature matching",
	})
	framesSkippedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_frames_skipped_total",
		Help: "Total number of frames skipped by the decimation policy",
	})
	captureErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_capture_errors_total",
		Help: "Total number of failed or timed-out capture reads",
	})
	encodeErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_encode_errors_total",
		Help: "Total number of annotated frames that failed JPEG encoding",
	})
	reloadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_reference_reloads_total",
		Help: "Total number of reference slots successfully reloaded",
	})
	streamClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "detector_stream_clients",
		Help: "Number of currently connected MJPEG stream clients",
	})
	pipelineFPS := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "detector_pipeline_fps",
		Help: "Current published frame rate of the processing loop",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		framesCapturedTotal,
		framesProcessedTotal,
		framesSkippedTotal,
		captureErrorsTotal,
		encodeErrorsTotal,
		reloadsTotal,
		streamClients,
		pipelineFPS,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		framesCapturedTotal:  framesCapturedTotal,
		framesProcessedTotal: framesProcessedTotal,
		framesSkippedTotal:   framesSkippedTotal,
		captureErrorsTotal:   captureErrorsTotal,
		encodeErrorsTotal:    encodeErrorsTotal,
		reloadsTotal:         reloadsTotal,
		streamClients:        streamClients,
		pipelineFPS:          pipelineFPS,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncFramesCaptured increments the captured frames counter.
func (m *Metrics) IncFramesCaptured() {
	m.framesCapturedTotal.Inc()
}

// IncFramesProcessed increments the processed frames counter.
func (m *Metrics) IncFramesProcessed() {
	m.framesProcessedTotal.Inc()
}

// IncFramesSkipped increments the decimation-skipped frames counter.
func (m *Metrics) IncFramesSkipped() {
	m.framesSkippedTotal.Inc()
}

// IncCaptureErrors increments the capture error counter.
func (m *Metrics) IncCaptureErrors() {
	m.captureErrorsTotal.Inc()
}

// IncEncodeErrors increments the encode error counter.
func (m *Metrics) IncEncodeErrors() {
	m.encodeErrorsTotal.Inc()
}

// IncReloads increments the successful reference reload counter.
func (m *Metrics) IncReloads() {
	m.reloadsTotal.Inc()
}

// AddStreamClient adjusts the connected stream client gauge by delta.
func (m *Metrics) AddStreamClient(delta int) {
	m.streamClients.Add(float64(delta))
}

// SetPipelineFPS sets the pipeline frame rate gauge.
func (m *Metrics) SetPipelineFPS(fps float64) {
	m.pipelineFPS.Set(fps)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
