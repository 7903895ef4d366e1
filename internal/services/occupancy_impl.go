package services

import (
	"context"
	"fmt"

	"peoplecounter/internal/database"
	"peoplecounter/internal/pipeline"
)

const (
	defaultEpisodeLimit = 50
	maxEpisodeLimit     = 1000
)

// SnapshotSource exposes the latest occupancy snapshot
type SnapshotSource interface {
	Snapshot() pipeline.Snapshot
}

// EpisodeLister reads closed episodes from the journal
type EpisodeLister interface {
	ListEpisodes(ctx context.Context, runID string, limit int) ([]*database.EpisodeRecord, error)
	CountEpisodes(ctx context.Context, runID string) (int, error)
}

// EpisodesResult is a page of closed episodes, newest first
type EpisodesResult struct {
	RunID    string                    `json:"run_id"`
	Total    int                       `json:"total"`
	Episodes []*database.EpisodeRecord `json:"episodes"`
}

// OccupancyImplementation implements the occupancy service
type OccupancyImplementation struct {
	snapshots SnapshotSource
	episodes  EpisodeLister
	runID     string
}

// NewOccupancyService creates a new occupancy service implementation.
// episodes may be nil when no journal is configured.
func NewOccupancyService(snapshots SnapshotSource, episodes EpisodeLister, runID string) *OccupancyImplementation {
	return &OccupancyImplementation{
		snapshots: snapshots,
		episodes:  episodes,
		runID:     runID,
	}
}

// Current returns the latest occupancy snapshot
func (o *OccupancyImplementation) Current(ctx context.Context) (*pipeline.Snapshot, error) {
	snap := o.snapshots.Snapshot()
	return &snap, nil
}

// Episodes lists the episodes closed during this run. limit 0 selects the
// default page size.
func (o *OccupancyImplementation) Episodes(ctx context.Context, limit int) (*EpisodesResult, error) {
	switch {
	case limit < 0:
		return nil, BadRequest("limit must not be negative")
	case limit == 0:
		limit = defaultEpisodeLimit
	case limit > maxEpisodeLimit:
		return nil, BadRequest(fmt.Sprintf("limit must be at most %d", maxEpisodeLimit))
	}

	result := &EpisodesResult{RunID: o.runID, Episodes: []*database.EpisodeRecord{}}
	if o.episodes == nil {
		return result, nil
	}

	episodes, err := o.episodes.ListEpisodes(ctx, o.runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	total, err := o.episodes.CountEpisodes(ctx, o.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count episodes: %w", err)
	}
	result.Episodes = episodes
	result.Total = total
	return result, nil
}
