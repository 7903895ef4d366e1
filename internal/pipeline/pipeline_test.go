package pipeline

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peoplecounter/internal/database"
	"peoplecounter/internal/detection"
	"peoplecounter/internal/metrics"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/source"
	"peoplecounter/internal/stream"
)

// scriptedSource yields n frames, advancing the mock clock by step before
// every frame but the first
type scriptedSource struct {
	n    int
	seq  uint64
	mock *clock.Mock
	step time.Duration
	err  error
}

func (s *scriptedSource) Next(ctx context.Context) (*source.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int(s.seq) >= s.n {
		if s.err != nil {
			return nil, s.err
		}
		return nil, source.ErrEndOfStream
	}
	if s.seq > 0 {
		s.mock.Add(s.step)
	}
	s.seq++
	return &source.Frame{
		Seq:       s.seq,
		Image:     image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Timestamp: s.mock.Now(),
	}, nil
}

func (s *scriptedSource) Close() error { return nil }

// scriptedProvider returns one canned response per call
type scriptedProvider struct {
	frames []providerReply
	calls  int
}

type providerReply struct {
	dets []occupancy.Detection
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Load(context.Context) (detection.InputShape, error) {
	return detection.InputShape{Width: 4, Height: 4}, nil
}
func (p *scriptedProvider) Detect(ctx context.Context, _ []byte) ([]occupancy.Detection, error) {
	r := p.frames[p.calls]
	p.calls++
	return r.dets, r.err
}
func (p *scriptedProvider) IsHealthy(context.Context) bool { return true }
func (p *scriptedProvider) Close() error                   { return nil }

func person(score float64) occupancy.Detection {
	return occupancy.Detection{Score: score, Box: occupancy.Box{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5}}
}

func replies(pattern ...bool) []providerReply {
	out := make([]providerReply, len(pattern))
	for i, present := range pattern {
		if present {
			out[i] = providerReply{dets: []occupancy.Detection{person(0.9)}}
		} else {
			out[i] = providerReply{dets: []occupancy.Detection{person(0.3)}}
		}
	}
	return out
}

type message struct {
	topic   string
	payload any
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message{topic, payload})
	return r.err
}

type recordingSink struct {
	frames []*stream.Frame
}

func (r *recordingSink) WriteFrame(_ context.Context, f *stream.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) Close() error { return nil }

type harness struct {
	pipeline  *Pipeline
	provider  *scriptedProvider
	publisher *recordingPublisher
	sink      *recordingSink
	metrics   *metrics.Metrics
	mock      *clock.Mock
	results   []*Result
}

func newHarness(t *testing.T, confirm int, script []providerReply) *harness {
	t.Helper()
	mock := clock.NewMock()
	h := &harness{
		provider:  &scriptedProvider{frames: script},
		publisher: &recordingPublisher{},
		sink:      &recordingSink{},
		metrics:   metrics.New(),
		mock:      mock,
	}

	bus := NewEventBus()
	bus.Subscribe(ResultHandlerFunc(func(r *Result) { h.results = append(h.results, r) }))

	p, err := New(Options{
		Source:           &scriptedSource{n: len(script), mock: mock, step: time.Second},
		Provider:         h.provider,
		Tracker:          occupancy.NewTracker(0.5, confirm, occupancy.CountModeLive),
		Publisher:        h.publisher,
		Sink:             h.sink,
		Bus:              bus,
		Metrics:          h.metrics,
		Clock:            mock,
		Logger:           zap.NewNop(),
		InputShape:       detection.InputShape{Width: 4, Height: 4},
		InferenceTimeout: time.Second,
		StatusOverlay:    true,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *harness) topics(topic string) []any {
	var out []any
	for _, m := range h.publisher.messages {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func TestPipelineEndToEndScenario(t *testing.T) {
	h := newHarness(t, 2, replies(true, true, false, false, true, true, true, false, false))
	require.NoError(t, h.pipeline.Run(context.Background()))

	require.Len(t, h.results, 9)
	var kinds []occupancy.TransitionKind
	for _, r := range h.results {
		kinds = append(kinds, r.Transition.Kind)
	}
	assert.Equal(t, []occupancy.TransitionKind{
		occupancy.TransitionNone, occupancy.TransitionStarted,
		occupancy.TransitionNone, occupancy.TransitionEnded,
		occupancy.TransitionNone, occupancy.TransitionStarted,
		occupancy.TransitionNone, occupancy.TransitionNone, occupancy.TransitionEnded,
	}, kinds)
	assert.Equal(t, 2*time.Second, h.results[3].Transition.Ended.Duration)
	assert.Equal(t, 3*time.Second, h.results[8].Transition.Ended.Duration)

	persons := h.topics(occupancy.TopicPerson)
	require.Len(t, persons, 9)
	assert.Equal(t, occupancy.PersonPayload{Count: 1, Total: 0}, persons[0])
	assert.Equal(t, occupancy.PersonPayload{Count: 0, Total: 1}, persons[3])
	assert.Equal(t, occupancy.PersonPayload{Count: 0, Total: 2}, persons[8])

	durations := h.topics(occupancy.TopicDuration)
	require.Len(t, durations, 6, "duration published from the first Ended onwards")
	assert.Equal(t, occupancy.DurationPayload{Duration: 2}, durations[0])
	assert.Equal(t, occupancy.DurationPayload{Duration: 3}, durations[5])

	snap := h.pipeline.Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 3, snap.Duration)
	assert.False(t, snap.Present)
	require.NotNil(t, snap.AverageSeconds)
	assert.InDelta(t, 2.5, *snap.AverageSeconds, 1e-9)
	assert.Equal(t, uint64(9), snap.FramesProcessed)
	assert.Equal(t, uint64(9), snap.LastFrameSeq)

	require.Len(t, h.sink.frames, 9)
	for i, f := range h.sink.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.True(t, f.Annotated)
	}

	assert.Equal(t, uint64(9), h.metrics.FramesRead.Load())
	assert.Equal(t, uint64(2), h.metrics.EpisodesTotal.Load())
	assert.Equal(t, uint64(15), h.metrics.MessagesPublished.Load())
}

func TestPipelineFailedInferenceIsNotEvidence(t *testing.T) {
	script := replies(true, true, true)
	script[1] = providerReply{err: context.DeadlineExceeded}

	h := newHarness(t, 2, script)
	require.NoError(t, h.pipeline.Run(context.Background()))

	require.Len(t, h.results, 3)
	assert.True(t, h.results[1].Failed)
	assert.Equal(t, occupancy.TransitionStarted, h.results[2].Transition.Kind,
		"detection run continues across a failed frame")

	assert.Len(t, h.topics(occupancy.TopicPerson), 2, "no telemetry for the failed frame")

	require.Len(t, h.sink.frames, 3)
	assert.False(t, h.sink.frames[1].Annotated)
	assert.True(t, h.sink.frames[2].Annotated)

	assert.Equal(t, uint64(1), h.metrics.FramesFailed.Load())
	assert.Equal(t, uint64(1), h.pipeline.Snapshot().FramesFailed)
}

func TestPipelinePublishFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, 1, replies(true, false))
	h.publisher.err = errors.New("broker down")

	require.NoError(t, h.pipeline.Run(context.Background()))
	assert.Len(t, h.results, 2)
	assert.Equal(t, uint64(3), h.metrics.PublishErrors.Load())
	assert.Equal(t, uint64(0), h.metrics.MessagesPublished.Load())
}

func TestPipelineOpenEpisodeDroppedAtEnd(t *testing.T) {
	h := newHarness(t, 1, replies(true, true, true))
	require.NoError(t, h.pipeline.Run(context.Background()))

	snap := h.pipeline.Snapshot()
	assert.True(t, snap.Present)
	assert.Equal(t, 0, snap.Total)
	assert.Nil(t, snap.AverageSeconds)
	assert.Empty(t, h.topics(occupancy.TopicDuration))
}

func TestPipelineCancellation(t *testing.T) {
	h := newHarness(t, 1, replies(true, true, true))
	ctx, cancel := context.WithCancel(context.Background())
	h.pipeline.bus.Subscribe(ResultHandlerFunc(func(*Result) { cancel() }))

	require.NoError(t, h.pipeline.Run(ctx))
	assert.Len(t, h.results, 1, "loop exits after the current frame")
}

func TestPipelineSourceError(t *testing.T) {
	mock := clock.NewMock()
	p, err := New(Options{
		Source:   &scriptedSource{mock: mock, err: errors.New("device vanished")},
		Provider: &scriptedProvider{},
		Tracker:  occupancy.NewTracker(0.5, 1, ""),
		Clock:    mock,
	})
	require.NoError(t, err)
	assert.Error(t, p.Run(context.Background()))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestJournalRecordsEpisodes(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	runID := uuid.NewString()
	require.NoError(t, db.SaveRun(ctx, &database.RunRecord{ID: runID, Input: "x.mp4", Model: "m.xml", StartedAt: time.Now()}))

	h := newHarness(t, 2, replies(true, true, false, false, true, true, true, false, false))
	start := h.mock.Now()
	h.pipeline.Bus().SubscribeFiltered(TransitionsOnly, NewJournal(db, runID, zap.NewNop()))
	require.NoError(t, h.pipeline.Run(ctx))

	eps, err := db.ListEpisodes(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, eps, 2)

	assert.Equal(t, 2, eps[0].Seq)
	assert.Equal(t, 3.0, eps[0].DurationSeconds)
	assert.InDelta(t, 2.5, eps[0].AverageSeconds, 1e-9)
	assert.True(t, start.Add(5*time.Second).Equal(eps[0].StartedAt))
	assert.True(t, start.Add(8*time.Second).Equal(eps[0].EndedAt))

	assert.Equal(t, 1, eps[1].Seq)
	assert.Equal(t, 2.0, eps[1].DurationSeconds)
	assert.Equal(t, 1, eps[1].PeakCount)
}

func TestEventBusChannelSubscription(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1, nil)

	bus.Publish(&Result{Seq: 1})
	bus.Publish(&Result{Seq: 2})
	bus.Publish(nil)

	r := <-ch
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, 1, bus.SubscriberCount())
	assert.Equal(t, uint64(1), bus.Dropped())

	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())
	unsubscribe()

	bus.Subscribe(ResultHandlerFunc(func(*Result) {}))
	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	late, _ := bus.SubscribeChannel(1, nil)
	_, ok = <-late
	assert.False(t, ok)
}

func TestEventBusOrderAndFilter(t *testing.T) {
	bus := NewEventBus()
	var order []string
	bus.Subscribe(ResultHandlerFunc(func(*Result) { order = append(order, "first") }))
	bus.SubscribeFiltered(TransitionsOnly, ResultHandlerFunc(func(*Result) { order = append(order, "transition") }))
	bus.Subscribe(ResultHandlerFunc(func(*Result) { order = append(order, "last") }))

	bus.Publish(&Result{Seq: 1})
	assert.Equal(t, []string{"first", "last"}, order)

	order = nil
	bus.Publish(&Result{Seq: 2, Transition: occupancy.Transition{Kind: occupancy.TransitionStarted}})
	assert.Equal(t, []string{"first", "transition", "last"}, order)

	order = nil
	bus.Publish(&Result{Seq: 3, Failed: true})
	assert.Equal(t, []string{"first", "last"}, order)
}
