package detection

import (
	"fmt"

	"peoplecounter/internal/occupancy"
)

// SSDRowSize is the width of one row of an SSD DetectionOutput blob:
// [image_id, label, confidence, x_min, y_min, x_max, y_max]
const SSDRowSize = 7

// DecodeSSD turns a flat [N,7] DetectionOutput blob into detections.
// A row with image_id < 0 terminates the list. When label is non-negative only
// rows with that label are kept.
func DecodeSSD(values []float64, label int) ([]occupancy.Detection, error) {
	if len(values)%SSDRowSize != 0 {
		return nil, fmt.Errorf("ssd output length %d is not a multiple of %d", len(values), SSDRowSize)
	}

	detections := make([]occupancy.Detection, 0, len(values)/SSDRowSize)
	for i := 0; i < len(values); i += SSDRowSize {
		row := values[i : i+SSDRowSize]
		if row[0] < 0 {
			break
		}
		if label >= 0 && int(row[1]) != label {
			continue
		}
		detections = append(detections, occupancy.Detection{
			Score: row[2],
			Box: occupancy.Box{
				X1: clamp01(row[3]),
				Y1: clamp01(row[4]),
				X2: clamp01(row[5]),
				Y2: clamp01(row[6]),
			},
		})
	}
	return detections, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
