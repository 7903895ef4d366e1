package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"peoplecounter/internal/detection"
	"peoplecounter/internal/metrics"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/source"
	"peoplecounter/internal/stream"
)

// Options wires a Pipeline to its collaborators. Source, Provider and
// Tracker are required; everything else has a usable zero value.
type Options struct {
	Source    source.Source
	Provider  detection.Provider
	Tracker   *occupancy.Tracker
	Publisher occupancy.Publisher
	Sink      stream.Sink
	Bus       *EventBus
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger

	InputShape       detection.InputShape
	InferenceTimeout time.Duration
	JPEGQuality      int
	StatusOverlay    bool
}

// Pipeline runs the per-frame loop: decode, infer, track, publish, forward.
// Run owns the tracker; other goroutines only see Snapshot copies.
type Pipeline struct {
	src       source.Source
	provider  detection.Provider
	tracker   *occupancy.Tracker
	publisher occupancy.Publisher
	sink      stream.Sink
	bus       *EventBus
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *zap.Logger

	shape            detection.InputShape
	inferenceTimeout time.Duration
	jpegQuality      int
	statusOverlay    bool

	snapshotMu sync.RWMutex
	snapshot   Snapshot
}

// New creates a pipeline
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Provider == nil || opts.Tracker == nil {
		return nil, errors.New("pipeline requires a source, a provider and a tracker")
	}
	if opts.Sink == nil {
		opts.Sink = stream.Discard{}
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 5 * time.Second
	}

	return &Pipeline{
		src:              opts.Source,
		provider:         opts.Provider,
		tracker:          opts.Tracker,
		publisher:        opts.Publisher,
		sink:             opts.Sink,
		bus:              opts.Bus,
		metrics:          opts.Metrics,
		clock:            opts.Clock,
		logger:           opts.Logger.Named("pipeline"),
		shape:            opts.InputShape,
		inferenceTimeout: opts.InferenceTimeout,
		jpegQuality:      opts.JPEGQuality,
		statusOverlay:    opts.StatusOverlay,
	}, nil
}

// Bus returns the event bus results are published on
func (p *Pipeline) Bus() *EventBus {
	return p.bus
}

// Snapshot returns a copy of the latest occupancy state
func (p *Pipeline) Snapshot() Snapshot {
	p.snapshotMu.RLock()
	defer p.snapshotMu.RUnlock()
	return p.snapshot
}

// Run processes frames until the source is exhausted or ctx is cancelled.
// Both end the run cleanly; an open episode at that point is dropped.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("processing loop started",
		zap.String("backend", p.provider.Name()),
		zap.Float64("threshold", p.tracker.Threshold()))

	for {
		frame, err := p.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, source.ErrEndOfStream):
				p.logger.Info("input exhausted", zap.Any("snapshot", p.Snapshot()))
				return nil
			case ctx.Err() != nil:
				p.logger.Info("processing loop cancelled")
				return nil
			default:
				return fmt.Errorf("failed to read frame: %w", err)
			}
		}
		p.metrics.FramesRead.Add(1)

		p.processFrame(ctx, frame)

		if ctx.Err() != nil {
			p.logger.Info("processing loop cancelled")
			return nil
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame *source.Frame) {
	dets, inferenceTime, err := p.infer(ctx, frame)
	now := p.clock.Now()

	if err != nil {
		p.metrics.FramesFailed.Add(1)
		p.logger.Warn("inference failed",
			zap.Uint64("seq", frame.Seq),
			zap.Duration("elapsed", inferenceTime),
			zap.Error(err))

		p.forward(ctx, frame, stream.ToRGBA(frame.Image), false)
		p.updateSnapshot(func(s *Snapshot) {
			s.FramesFailed++
			s.LastFrameSeq = frame.Seq
			s.UpdatedAt = now
		})
		p.bus.Publish(&Result{Seq: frame.Seq, Timestamp: now, Failed: true, Err: err})
		return
	}

	p.metrics.FramesProcessed.Add(1)
	p.metrics.ObserveInference(inferenceTime)

	step := p.tracker.Observe(dets, now)
	p.metrics.SetPresence(step.Summary.PeopleCount, step.Present)
	p.logTransition(frame.Seq, step)

	p.publish(ctx, step.Metrics)

	var status string
	if p.statusOverlay {
		status = fmt.Sprintf("Inference time: %.1fms  count %d  total %d",
			float64(inferenceTime.Microseconds())/1000, step.Metrics.Count, step.Metrics.Total)
	}
	p.forward(ctx, frame, stream.Annotate(frame.Image, dets, p.tracker.Threshold(), status), true)

	stats := p.tracker.Stats()
	p.updateSnapshot(func(s *Snapshot) {
		s.Count = step.Metrics.Count
		s.Total = step.Metrics.Total
		s.Duration = step.Metrics.Duration
		s.Present = step.Present
		s.PeopleCounted = stats.TotalPeopleCounted
		if avg, ok := stats.AverageDurationSeconds(); ok {
			s.AverageSeconds = &avg
		}
		s.FramesProcessed++
		s.LastFrameSeq = frame.Seq
		s.UpdatedAt = now
	})

	p.bus.Publish(&Result{
		Seq:         frame.Seq,
		Timestamp:   now,
		Detections:  dets,
		Summary:     step.Summary,
		Transition:  step.Transition,
		Metrics:     step.Metrics,
		Present:     step.Present,
		InferenceMs: float64(inferenceTime.Microseconds()) / 1000,
	})
}

// infer preprocesses the frame and runs one bounded inference request
func (p *Pipeline) infer(ctx context.Context, frame *source.Frame) ([]occupancy.Detection, time.Duration, error) {
	payload, err := detection.Prepare(frame.Image, p.shape, p.jpegQuality)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.inferenceTimeout)
	defer cancel()

	start := p.clock.Now()
	dets, err := p.provider.Detect(ctx, payload)
	return dets, p.clock.Since(start), err
}

func (p *Pipeline) logTransition(seq uint64, step occupancy.Step) {
	switch step.Transition.Kind {
	case occupancy.TransitionStarted:
		p.logger.Info("presence started",
			zap.Uint64("seq", seq),
			zap.Int("people", step.Summary.PeopleCount))
	case occupancy.TransitionEnded:
		ended := step.Transition.Ended
		p.metrics.ObserveEpisode(ended.Duration, ended.PeakCount, p.averageSeconds())
		p.logger.Info("presence ended",
			zap.Uint64("seq", seq),
			zap.Duration("duration", ended.Duration),
			zap.Int("peak", ended.PeakCount),
			zap.Int("total", step.Metrics.Total),
			zap.Int("average", step.Metrics.Duration))
	}
}

func (p *Pipeline) averageSeconds() float64 {
	avg, _ := p.tracker.Stats().AverageDurationSeconds()
	return avg
}

// publish sends the frame's metrics. Failures are counted and logged only.
func (p *Pipeline) publish(ctx context.Context, m occupancy.Metrics) {
	if p.publisher == nil {
		return
	}
	sent := len(m.Messages())
	if err := occupancy.Publish(ctx, p.publisher, m); err != nil {
		failed := len(multierr.Errors(err))
		sent -= failed
		p.metrics.PublishErrors.Add(uint64(failed))
		p.logger.Debug("publish failed", zap.Error(err))
	}
	if sent > 0 {
		p.metrics.MessagesPublished.Add(uint64(sent))
	}
}

func (p *Pipeline) forward(ctx context.Context, frame *source.Frame, img *image.RGBA, annotated bool) {
	out := &stream.Frame{
		Seq:       frame.Seq,
		Image:     img,
		Timestamp: frame.Timestamp,
		Annotated: annotated,
	}
	if err := p.sink.WriteFrame(ctx, out); err != nil {
		p.metrics.SinkErrors.Add(1)
		p.logger.Debug("sink write failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
	}
}

func (p *Pipeline) updateSnapshot(fn func(s *Snapshot)) {
	p.snapshotMu.Lock()
	fn(&p.snapshot)
	p.snapshotMu.Unlock()
}
