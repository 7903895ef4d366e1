package occupancy

import (
	"time"
)

// TransitionKind identifies what, if anything, changed on a frame
type TransitionKind int

const (
	// TransitionNone - no presence change on this frame
	TransitionNone TransitionKind = iota
	// TransitionStarted - a presence episode was confirmed
	TransitionStarted
	// TransitionEnded - the current presence episode was confirmed over
	TransitionEnded
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionStarted:
		return "started"
	case TransitionEnded:
		return "ended"
	default:
		return "none"
	}
}

// Ended carries the measurements of a closed episode
type Ended struct {
	Duration  time.Duration
	PeakCount int
}

// Seconds returns the episode duration in seconds
func (e Ended) Seconds() float64 {
	return e.Duration.Seconds()
}

// Transition is the result of observing one frame.
// Ended is only meaningful when Kind is TransitionEnded, Start when it is TransitionStarted.
type Transition struct {
	Kind  TransitionKind
	Start time.Time
	Ended Ended
}

// DebounceState is the presence state machine's memory.
// The zero value is a valid Absent state with zeroed counters.
type DebounceState struct {
	PersonPresent              bool
	ConsecutiveDetectionFrames int
	ConsecutiveEmptyFrames     int
	EpisodeStart               time.Time // zero when no episode is open
	PeakCount                  int
}

// Observe feeds one frame into the state machine.
// A state change is only accepted after confirmFrames consecutive frames agree;
// confirmFrames below 1 is treated as 1.
func (s *DebounceState) Observe(summary FrameSummary, now time.Time, confirmFrames int) Transition {
	if confirmFrames < 1 {
		confirmFrames = 1
	}

	if summary.IsDetectionFrame {
		s.ConsecutiveDetectionFrames++
		s.ConsecutiveEmptyFrames = 0
	} else {
		s.ConsecutiveEmptyFrames++
		s.ConsecutiveDetectionFrames = 0
	}

	if s.PersonPresent && summary.PeopleCount > s.PeakCount {
		s.PeakCount = summary.PeopleCount
	}

	switch {
	case !s.PersonPresent && s.ConsecutiveDetectionFrames == confirmFrames:
		s.PersonPresent = true
		s.EpisodeStart = now
		s.resetRuns()
		s.PeakCount = summary.PeopleCount
		return Transition{Kind: TransitionStarted, Start: now}

	case s.PersonPresent && s.ConsecutiveEmptyFrames == confirmFrames:
		ended := Ended{
			Duration:  now.Sub(s.EpisodeStart),
			PeakCount: s.PeakCount,
		}
		s.PersonPresent = false
		s.EpisodeStart = time.Time{}
		s.resetRuns()
		return Transition{Kind: TransitionEnded, Ended: ended}
	}

	return Transition{Kind: TransitionNone}
}

func (s *DebounceState) resetRuns() {
	s.ConsecutiveDetectionFrames = 0
	s.ConsecutiveEmptyFrames = 0
}
