package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peoplecounter/internal/database"
	"peoplecounter/internal/occupancy"
)

// Journal records every closed episode in an EpisodeStore. It subscribes
// to the EventBus and tracks its own running average so it never touches
// the processing loop's state.
type Journal struct {
	store   EpisodeStore
	runID   string
	timeout time.Duration
	logger  *zap.Logger

	seq        int
	cumulative float64
}

// NewJournal creates a journal for one run
func NewJournal(store EpisodeStore, runID string, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		store:   store,
		runID:   runID,
		timeout: 2 * time.Second,
		logger:  logger.Named("journal"),
	}
}

// OnResult implements ResultHandler
func (j *Journal) OnResult(result *Result) {
	if result == nil || result.Transition.Kind != occupancy.TransitionEnded {
		return
	}

	ended := result.Transition.Ended
	j.seq++
	j.cumulative += ended.Seconds()

	ep := &database.EpisodeRecord{
		ID:              uuid.NewString(),
		RunID:           j.runID,
		Seq:             j.seq,
		StartedAt:       result.Timestamp.Add(-ended.Duration),
		EndedAt:         result.Timestamp,
		DurationSeconds: ended.Seconds(),
		PeakCount:       ended.PeakCount,
		AverageSeconds:  j.cumulative / float64(j.seq),
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.store.SaveEpisode(ctx, ep); err != nil {
		j.logger.Warn("failed to record episode", zap.Int("seq", ep.Seq), zap.Error(err))
		return
	}
	j.logger.Debug("episode recorded",
		zap.String("id", ep.ID),
		zap.Int("seq", ep.Seq),
		zap.Float64("duration_seconds", ep.DurationSeconds))
}

var _ ResultHandler = (*Journal)(nil)
