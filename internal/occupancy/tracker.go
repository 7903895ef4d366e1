package occupancy

import (
	"time"
)

// Step is everything the tracker derived from one frame
type Step struct {
	Summary    FrameSummary
	Transition Transition
	Metrics    Metrics
	Present    bool
}

// Tracker owns the debounce and dwell state for one stream.
// It is not safe for concurrent use; the processing loop is its only owner.
type Tracker struct {
	threshold     float64
	confirmFrames int
	countMode     CountMode

	debounce DebounceState
	stats    DwellStats
}

// NewTracker creates a tracker in the Absent state with empty stats
func NewTracker(threshold float64, confirmFrames int, countMode CountMode) *Tracker {
	if confirmFrames < 1 {
		confirmFrames = 1
	}
	if countMode == "" {
		countMode = CountModeLive
	}
	return &Tracker{
		threshold:     threshold,
		confirmFrames: confirmFrames,
		countMode:     countMode,
	}
}

// Observe runs summarize -> debounce -> accumulate for one frame
func (t *Tracker) Observe(detections []Detection, now time.Time) Step {
	summary := Summarize(detections, t.threshold)
	transition := t.debounce.Observe(summary, now, t.confirmFrames)
	if transition.Kind == TransitionEnded {
		t.stats = t.stats.OnEpisodeEnded(transition.Ended)
	}

	return Step{
		Summary:    summary,
		Transition: transition,
		Metrics:    t.metrics(summary),
		Present:    t.debounce.PersonPresent,
	}
}

func (t *Tracker) metrics(summary FrameSummary) Metrics {
	count := summary.PeopleCount
	if t.countMode == CountModePresence {
		count = 0
		if t.debounce.PersonPresent {
			count = 1
		}
	}
	return Metrics{
		Count:    count,
		Total:    t.stats.TotalEpisodes,
		Duration: t.stats.LastPublishedDuration,
	}
}

// Stats returns a copy of the dwell statistics
func (t *Tracker) Stats() DwellStats {
	return t.stats
}

// State returns a copy of the debounce state
func (t *Tracker) State() DebounceState {
	return t.debounce
}

// Threshold returns the probability threshold used for summarizing
func (t *Tracker) Threshold() float64 {
	return t.threshold
}
