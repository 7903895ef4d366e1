package pipeline

import (
	"time"

	"peoplecounter/internal/occupancy"
)

// Result is the outcome of processing one frame, delivered on the EventBus
type Result struct {
	Seq         uint64                 `json:"seq"`
	Timestamp   time.Time              `json:"timestamp"`
	Detections  []occupancy.Detection  `json:"-"`
	Summary     occupancy.FrameSummary `json:"summary"`
	Transition  occupancy.Transition   `json:"-"`
	Metrics     occupancy.Metrics      `json:"metrics"`
	Present     bool                   `json:"present"`
	InferenceMs float64                `json:"inference_ms"`
	Failed      bool                   `json:"failed"`
	Err         error                  `json:"-"`
}

// Snapshot is a read-only copy of the occupancy state for HTTP handlers
type Snapshot struct {
	Count           int       `json:"count"`
	Total           int       `json:"total"`
	Duration        int       `json:"duration"`
	Present         bool      `json:"present"`
	AverageSeconds  *float64  `json:"average_seconds,omitempty"`
	PeopleCounted   int       `json:"people_counted"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesFailed    uint64    `json:"frames_failed"`
	LastFrameSeq    uint64    `json:"last_frame_seq"`
	UpdatedAt       time.Time `json:"updated_at"`
}
