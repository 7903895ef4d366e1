package occupancy

import (
	"math"
)

// DwellStats aggregates closed episodes for the lifetime of one stream.
// Only the running sum is kept, never the individual durations.
type DwellStats struct {
	TotalEpisodes             int     `json:"total_episodes"`
	TotalPeopleCounted        int     `json:"total_people_counted"`
	CumulativeDurationSeconds float64 `json:"cumulative_duration_seconds"`
	LastPublishedDuration     int     `json:"last_published_duration"`
}

// OnEpisodeEnded returns the stats updated with one closed episode
func (s DwellStats) OnEpisodeEnded(ended Ended) DwellStats {
	s.TotalEpisodes++
	s.TotalPeopleCounted += ended.PeakCount
	s.CumulativeDurationSeconds += ended.Seconds()
	s.LastPublishedDuration = int(math.Round(s.CumulativeDurationSeconds / float64(s.TotalEpisodes)))
	return s
}

// AverageDurationSeconds returns the exact mean episode duration.
// ok is false until the first episode has closed.
func (s DwellStats) AverageDurationSeconds() (avg float64, ok bool) {
	if s.TotalEpisodes == 0 {
		return 0, false
	}
	return s.CumulativeDurationSeconds / float64(s.TotalEpisodes), true
}
