package occupancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func frame(present bool) FrameSummary {
	if present {
		return FrameSummary{PeopleCount: 1, IsDetectionFrame: true}
	}
	return FrameSummary{}
}

func TestObserveStartsOnKthDetectionFrame(t *testing.T) {
	for k := 1; k <= 20; k++ {
		var s DebounceState
		for i := 0; i < k-1; i++ {
			tr := s.Observe(frame(true), at(i), k)
			require.Equal(t, TransitionNone, tr.Kind, "k=%d frame=%d", k, i)
		}
		tr := s.Observe(frame(true), at(k-1), k)
		require.Equal(t, TransitionStarted, tr.Kind, "k=%d", k)
		assert.Equal(t, at(k-1), tr.Start)
		assert.True(t, s.PersonPresent)
		assert.Zero(t, s.ConsecutiveDetectionFrames)
		assert.Zero(t, s.ConsecutiveEmptyFrames)

		// further detection frames never start a second episode
		for i := 0; i < 3*k; i++ {
			assert.Equal(t, TransitionNone, s.Observe(frame(true), at(k+i), k).Kind)
		}
	}
}

func TestObserveEndsOnKthEmptyFrame(t *testing.T) {
	for k := 1; k <= 20; k++ {
		s := DebounceState{PersonPresent: true, EpisodeStart: at(0), PeakCount: 1}
		for i := 0; i < k-1; i++ {
			tr := s.Observe(frame(false), at(10+i), k)
			require.Equal(t, TransitionNone, tr.Kind, "k=%d frame=%d", k, i)
		}
		tr := s.Observe(frame(false), at(10+k-1), k)
		require.Equal(t, TransitionEnded, tr.Kind, "k=%d", k)
		assert.Equal(t, time.Duration(10+k-1)*time.Second, tr.Ended.Duration)
		assert.False(t, s.PersonPresent)
		assert.True(t, s.EpisodeStart.IsZero())
		assert.Zero(t, s.ConsecutiveEmptyFrames)

		for i := 0; i < 3*k; i++ {
			assert.Equal(t, TransitionNone, s.Observe(frame(false), at(100+i), k).Kind)
		}
	}
}

func TestObserveToleratesSingleFlicker(t *testing.T) {
	for k := 2; k <= 10; k++ {
		var s DebounceState
		now := 0
		for i := 0; i < k; i++ {
			s.Observe(frame(true), at(now), k)
			now++
		}
		require.True(t, s.PersonPresent)

		// one missed frame between two detection runs
		for i := 0; i < 5; i++ {
			assert.Equal(t, TransitionNone, s.Observe(frame(true), at(now), k).Kind)
			now++
		}
		assert.Equal(t, TransitionNone, s.Observe(frame(false), at(now), k).Kind)
		now++
		for i := 0; i < 5; i++ {
			assert.Equal(t, TransitionNone, s.Observe(frame(true), at(now), k).Kind)
			now++
		}
		assert.True(t, s.PersonPresent, "k=%d", k)
	}
}

func TestObserveIgnoresSpuriousDetection(t *testing.T) {
	var s DebounceState
	for i := 0; i < 10; i++ {
		present := i == 4
		assert.Equal(t, TransitionNone, s.Observe(frame(present), at(i), 3).Kind)
	}
	assert.False(t, s.PersonPresent)
}

func TestObserveTracksPeakCount(t *testing.T) {
	var s DebounceState
	counts := []int{3, 1, 2, 4, 2, 0, 0}
	var last Transition
	for i, c := range counts {
		last = s.Observe(FrameSummary{PeopleCount: c, IsDetectionFrame: c > 0}, at(i), 2)
		if i == 1 {
			require.Equal(t, TransitionStarted, last.Kind)
			// reset to the triggering frame's count, earlier frames do not leak in
			assert.Equal(t, 1, s.PeakCount)
		}
	}
	require.Equal(t, TransitionEnded, last.Kind)
	assert.Equal(t, 4, last.Ended.PeakCount)
	assert.Equal(t, 5*time.Second, last.Ended.Duration)
}

func TestObserveClampsConfirmFrames(t *testing.T) {
	var s DebounceState
	assert.Equal(t, TransitionStarted, s.Observe(frame(true), at(0), 0).Kind)
	assert.Equal(t, TransitionEnded, s.Observe(frame(false), at(1), -3).Kind)
}

func TestObserveDurationIsExact(t *testing.T) {
	var s DebounceState
	start := epoch.Add(1234567 * time.Microsecond)
	s.Observe(frame(true), start.Add(-time.Millisecond), 2)
	require.Equal(t, TransitionStarted, s.Observe(frame(true), start, 2).Kind)

	end := start.Add(90*time.Minute + 17*time.Millisecond)
	s.Observe(frame(false), end.Add(-time.Millisecond), 2)
	tr := s.Observe(frame(false), end, 2)
	require.Equal(t, TransitionEnded, tr.Kind)
	assert.Equal(t, end.Sub(start), tr.Ended.Duration)
}

func TestOpenEpisodeIsNotFlushed(t *testing.T) {
	var s DebounceState
	for i := 0; i < 5; i++ {
		s.Observe(frame(true), at(i), 2)
	}
	// stream ends after one empty frame; nothing is emitted
	assert.Equal(t, TransitionNone, s.Observe(frame(false), at(5), 2).Kind)
	assert.True(t, s.PersonPresent)
}

func TestTransitionKindString(t *testing.T) {
	assert.Equal(t, "none", TransitionNone.String())
	assert.Equal(t, "started", TransitionStarted.String())
	assert.Equal(t, "ended", TransitionEnded.String())
}
