package pipeline

import (
	"context"

	"peoplecounter/internal/database"
)

// ResultHandler receives per-frame results from the EventBus
type ResultHandler interface {
	OnResult(result *Result)
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *Result)

// OnResult calls f(result)
func (f ResultHandlerFunc) OnResult(result *Result) { f(result) }

// EpisodeStore persists closed episodes
type EpisodeStore interface {
	SaveEpisode(ctx context.Context, ep *database.EpisodeRecord) error
}
