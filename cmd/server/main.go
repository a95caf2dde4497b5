package main

import (
	"context"
	"image"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logo-detector/internal/detector"
	"logo-detector/internal/platform/config"
	"logo-detector/internal/platform/logger"
	"logo-detector/internal/platform/metrics"
	"logo-detector/internal/web"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// reference is one configured slot=path pair, order significant.
type reference struct {
	slot detector.SlotID
	path string
}

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	source := config.GetEnv("STREAM_SOURCE", "")
	refSpec := config.GetEnv("REFERENCES", "")
	ratio := config.GetEnvFloat("RATIO_THRESH", detector.DefaultRatioThresh)
	minGood := config.GetEnvInt("GOOD_MATCH_THRESH", detector.DefaultGoodMatchThresh)
	width := config.GetEnvInt("FRAME_WIDTH", 320)
	height := config.GetEnvInt("FRAME_HEIGHT", 240)
	quality := config.GetEnvInt("JPEG_QUALITY", 90)
	processEvery := config.GetEnvInt("PROCESS_EVERY", 1)
	readTimeout := config.GetEnvDuration("READ_TIMEOUT_MS", 2*time.Second)
	streamPoll := config.GetEnvDuration("STREAM_POLL_MS", 33*time.Millisecond)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	if source == "" {
		log.Error("STREAM_SOURCE is required (device index or stream URL)")
		os.Exit(1)
	}

	refs, err := parseReferences(refSpec)
	if err != nil {
		log.Error("invalid REFERENCES", "error", err)
		os.Exit(1)
	}

	met := metrics.New()

	slots := make([]detector.SlotID, 0, len(refs))
	for _, ref := range refs {
		slots = append(slots, ref.slot)
	}
	refSet := detector.NewReferenceSet(slots, detector.NewSIFTExtractor())

	// Initial template load: a slot that fails to load stays empty and is
	// simply never reported as detected.
	for _, ref := range refs {
		mat, rerr := detector.ReadImageFile(ref.path)
		if rerr != nil {
			log.Warn("reference not loaded", "slot", string(ref.slot), "path", ref.path, "error", rerr)
			continue
		}
		if lerr := refSet.Load(ref.slot, mat); lerr != nil {
			log.Warn("reference not loaded", "slot", string(ref.slot), "path", ref.path, "error", lerr)
		} else {
			log.Info("reference loaded", "slot", string(ref.slot), "path", ref.path)
		}
		mat.Close()
	}

	// No detection without a capture source: this failure is fatal.
	src, err := detector.OpenCapture(source, image.Pt(width, height), readTimeout)
	if err != nil {
		log.Error("cannot open capture source", "source", source, "error", err)
		os.Exit(1)
	}

	matcher := detector.NewMatcher(detector.NewSIFTExtractor(), ratio, minGood)
	defer matcher.Close()
	annotator := detector.NewAnnotator(image.Pt(width, height), quality)
	shared := detector.NewSharedState()

	pipe := detector.NewPipeline(src, refSet, matcher, annotator, shared, log, met, detector.PipelineConfig{
		ProcessEvery: processEvery,
	})

	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		if rerr := pipe.Run(pipeCtx); rerr != nil {
			log.Error("pipeline exited", "error", rerr)
		}
	}()

	h := detector.NewHandler(shared, refSet, log, met, streamPoll)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler(nil).ServeHTTP)
	r.Get("/stream", h.Stream)
	r.Get("/stats", h.Stats)
	r.Get("/stats.html", h.StatsHTML)
	r.Post("/reload", h.Reload)
	r.Handle("/static/*", http.FileServer(http.FS(web.Static)))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/static/index.html", http.StatusFound)
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if serr := srv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			log.Error("server error", "error", serr)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"source", source,
		"slots", len(slots),
		"process_every", processEvery,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping pipeline and draining connections")

	cancelPipe()
	select {
	case <-pipeDone:
	case <-time.After(shutdownTimeout):
		log.Warn("pipeline did not stop in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// parseReferences parses REFERENCES ("slot=path" pairs, comma separated,
// order preserved). An empty spec is allowed: the detector then runs with no
// reference slots and annotates frames with keypoints only.
func parseReferences(spec string) ([]reference, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var out []reference
	seen := make(map[detector.SlotID]bool)
	for _, pair := range strings.Split(spec, ",") {
		slot, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		slot = strings.TrimSpace(slot)
		path = strings.TrimSpace(path)
		if !ok || slot == "" || path == "" {
			return nil, errInvalidReferenceSpec(pair)
		}
		id := detector.SlotID(slot)
		if seen[id] {
			return nil, errInvalidReferenceSpec(pair)
		}
		seen[id] = true
		out = append(out, reference{slot: id, path: path})
	}
	return out, nil
}

type errInvalidReferenceSpec string

func (e errInvalidReferenceSpec) Error() string {
	return "expected comma-separated slot=path pairs, got " + string(e)
}
