package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
)

// ImageSource yields a single still image and then ends
type ImageSource struct {
	path string
	img  image.Image
	done bool
}

// OpenImage decodes a still image; the returned source yields it once
func OpenImage(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return &ImageSource{path: path, img: img}, nil
}

// Next returns the image on the first call and ErrEndOfStream afterwards
func (s *ImageSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, ErrEndOfStream
	}
	s.done = true
	return &Frame{Seq: 1, Image: s.img, Timestamp: time.Now()}, nil
}

// Path returns the file the image was read from
func (s *ImageSource) Path() string { return s.path }

// Close is a no-op
func (s *ImageSource) Close() error { return nil }

var _ Source = (*ImageSource)(nil)
