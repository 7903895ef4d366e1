package occupancy

// Box is a bounding box in normalized [0,1] image coordinates
type Box struct {
	X1 float64 `json:"x1"` // Left
	Y1 float64 `json:"y1"` // Top
	X2 float64 `json:"x2"` // Right
	Y2 float64 `json:"y2"` // Bottom
}

// Detection is a single scored box produced by the detector for one frame
type Detection struct {
	Score float64 `json:"score"`
	Box   Box     `json:"box"`
}

// FrameSummary reduces one frame's detections to what the debouncer needs
type FrameSummary struct {
	PeopleCount      int  `json:"people_count"`
	IsDetectionFrame bool `json:"is_detection_frame"`
}

// Summarize counts the detections scoring strictly above threshold.
// It is pure and does not depend on the order of detections.
func Summarize(detections []Detection, threshold float64) FrameSummary {
	count := 0
	for _, d := range detections {
		if d.Score > threshold {
			count++
		}
	}
	return FrameSummary{
		PeopleCount:      count,
		IsDetectionFrame: count > 0,
	}
}

// Accepted returns the detections that pass the threshold, in input order.
// Used to decide which boxes get drawn on the outgoing frame.
func Accepted(detections []Detection, threshold float64) []Detection {
	accepted := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Score > threshold {
			accepted = append(accepted, d)
		}
	}
	return accepted
}
