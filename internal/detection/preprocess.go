package detection

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// Prepare resizes a decoded frame to the network input size and encodes it
// as JPEG for submission. A zero shape keeps the original size.
func Prepare(img image.Image, shape InputShape, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	src := img
	if !shape.IsZero() {
		b := img.Bounds()
		if b.Dx() != shape.Width || b.Dy() != shape.Height {
			src = imaging.Resize(img, shape.Width, shape.Height, imaging.Linear)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
