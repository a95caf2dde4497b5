package detector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"logo-detector/internal/platform/metrics"
)

// PipelineState is the lifecycle state of the processing loop.
type PipelineState int32

const (
	StateStarting PipelineState = iota
	StateRunning
	StateRecovering
	StateStopped
)

// String implements fmt.Stringer; the value also appears in Statistics.
func (s PipelineState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRecovering:
		return "recovering"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// PipelineConfig tunes the processing loop.
type PipelineConfig struct {
	// ProcessEvery runs a full match/annotate cycle only on every Nth frame;
	// skipped frames republish the last annotation so the published rate
	// tracks the incoming rate. 1 processes every frame.
	ProcessEvery int
	// MaxConsecutiveTimeouts is how many consecutive failed reads trigger
	// the single bounded reopen attempt.
	MaxConsecutiveTimeouts int
	// FPSWindow is the minimum length of the window used to average the
	// published frame rate.
	FPSWindow time.Duration
}

// matchEngine and frameAnnotator are the narrow views of Matcher and
// Annotator the loop depends on, so tests can substitute fakes.
type matchEngine interface {
	Match(frame Frame, refs []*ReferenceTemplate) (MatchOutcome, error)
}

type frameAnnotator interface {
	Annotate(frame Frame, outcome MatchOutcome) ([]byte, error)
}

// Pipeline is the single long-lived driver of the capture/match/annotate/
// publish cycle. It is the only reader of its Source and the only writer of
// its SharedState. Reference reloads happen elsewhere; the loop always
// matches against the current ReferenceSet snapshot.
type Pipeline struct {
	src       Source
	refs      *ReferenceSet
	matcher   matchEngine
	annotator frameAnnotator
	shared    *SharedState
	log       *slog.Logger
	met       *metrics.Metrics
	cfg       PipelineConfig

	state    atomic.Int32
	memProbe func() (float64, bool)
}

// NewPipeline wires a pipeline in the Starting state. met may be nil.
func NewPipeline(src Source, refs *ReferenceSet, m matchEngine, a frameAnnotator, shared *SharedState, log *slog.Logger, met *metrics.Metrics, cfg PipelineConfig) *Pipeline {
	if cfg.ProcessEvery < 1 {
		cfg.ProcessEvery = 1
	}
	if cfg.MaxConsecutiveTimeouts < 1 {
		cfg.MaxConsecutiveTimeouts = 3
	}
	if cfg.FPSWindow <= 0 {
		cfg.FPSWindow = time.Second
	}
	p := &Pipeline{
		src:       src,
		refs:      refs,
		matcher:   m,
		annotator: a,
		shared:    shared,
		log:       log,
		met:       met,
		cfg:       cfg,
		memProbe:  processMemoryMB,
	}
	p.state.Store(int32(StateStarting))
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

func (p *Pipeline) setState(s PipelineState) {
	p.state.Store(int32(s))
}

// Run drives the loop until ctx is cancelled or the source fails beyond
// recovery. The capture handle is released on every exit path. On a fatal
// source failure the error is recorded in Statistics and returned; readers
// keep seeing the last published values either way.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.src.Close()
	p.setState(StateRunning)

	var (
		frameCount   int64
		consecutive  int
		published    int
		windowStart  = time.Now()
		fps          float64
		lastEncoded  []byte
		lastCounts   = p.zeroCounts()
		lastDetected = p.zeroDetected()
	)

	for {
		select {
		case <-ctx.Done():
			p.stop(nil)
			return nil
		default:
		}

		frame, err := p.src.Read()
		if err != nil {
			consecutive++
			if p.met != nil {
				p.met.IncCaptureErrors()
			}
			p.log.Warn("frame read failed",
				slog.String("error", err.Error()),
				slog.Int("consecutive", consecutive))

			if consecutive < p.cfg.MaxConsecutiveTimeouts {
				continue
			}

			p.setState(StateRecovering)
			p.log.Info("reopening capture source")
			if rerr := p.src.Reopen(); rerr != nil {
				p.stop(rerr)
				return rerr
			}
			consecutive = 0
			p.setState(StateRunning)
			continue
		}
		consecutive = 0
		frameCount++
		if p.met != nil {
			p.met.IncFramesCaptured()
		}

		if frameCount%int64(p.cfg.ProcessEvery) != 0 {
			// Decimated frame: echo the previous annotation with fresh
			// stats so the visible stream stays smooth.
			if p.met != nil {
				p.met.IncFramesSkipped()
			}
			frame.Close()
			if lastEncoded != nil {
				p.publish(lastEncoded, lastCounts, lastDetected, fps)
				published++
			}
		} else {
			snapshot := p.refs.Snapshot()
			outcome, merr := p.matcher.Match(frame, snapshot)
			if merr != nil {
				p.log.Debug("frame features unavailable", slog.String("error", merr.Error()))
				frame.Close()
				continue
			}

			encoded, aerr := p.annotator.Annotate(frame, outcome)
			frame.Close()
			if aerr != nil {
				// Skip this cycle's publish; previous values stay visible.
				if p.met != nil {
					p.met.IncEncodeErrors()
				}
				p.log.Warn("annotation failed", slog.String("error", aerr.Error()))
				continue
			}

			lastEncoded = encoded
			lastCounts, lastDetected = outcomeStats(outcome)
			if p.met != nil {
				p.met.IncFramesProcessed()
			}
			p.publish(encoded, lastCounts, lastDetected, fps)
			published++
		}

		if elapsed := time.Since(windowStart); elapsed >= p.cfg.FPSWindow {
			fps = float64(published) / elapsed.Seconds()
			published = 0
			windowStart = time.Now()
			if p.met != nil {
				p.met.SetPipelineFPS(fps)
			}
		}
	}
}

// publish assembles a Statistics snapshot and hands it to SharedState
// together with the encoded frame.
func (p *Pipeline) publish(encoded []byte, counts map[SlotID]int, detected map[SlotID]bool, fps float64) {
	stats := Statistics{
		FPS:        fps,
		Matches:    counts,
		Detected:   detected,
		LastUpdate: float64(time.Now().UnixNano()) / float64(time.Second),
		State:      p.State().String(),
	}
	if mem, ok := p.memProbe(); ok {
		stats.MemMB = &mem
	}
	p.shared.Publish(encoded, stats)
}

// stop transitions to Stopped, recording err (if any) in the statistics so
// readers can see why the stream froze. The last frame stays published.
func (p *Pipeline) stop(err error) {
	p.setState(StateStopped)
	stats := p.shared.Stats()
	stats.State = StateStopped.String()
	if err != nil {
		stats.LastError = err.Error()
		p.log.Error("pipeline stopped", slog.String("error", err.Error()))
	} else {
		p.log.Info("pipeline stopped")
	}
	p.shared.PublishStats(stats)
}

func (p *Pipeline) zeroCounts() map[SlotID]int {
	counts := make(map[SlotID]int, len(p.refs.Slots()))
	for _, s := range p.refs.Slots() {
		counts[s] = 0
	}
	return counts
}

func (p *Pipeline) zeroDetected() map[SlotID]bool {
	detected := make(map[SlotID]bool, len(p.refs.Slots()))
	for _, s := range p.refs.Slots() {
		detected[s] = false
	}
	return detected
}

func outcomeStats(outcome MatchOutcome) (map[SlotID]int, map[SlotID]bool) {
	counts := make(map[SlotID]int, len(outcome.Results))
	detected := make(map[SlotID]bool, len(outcome.Results))
	for _, res := range outcome.Results {
		counts[res.Template.Slot] = res.Count
		detected[res.Template.Slot] = res.Detected
	}
	return counts, detected
}
