package stream

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
)

// ImageFile writes each frame to a JPEG file, replacing the previous one.
// Used for single-image input.
type ImageFile struct {
	path    string
	quality int
}

// NewImageFile creates the sink; the parent directory is created on demand
func NewImageFile(path string, quality int) *ImageFile {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &ImageFile{path: path, quality: quality}
}

// WriteFrame encodes frame to the output path
func (s *ImageFile) WriteFrame(_ context.Context, frame *Frame) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output image: %w", err)
	}
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode output image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Path returns the output file path
func (s *ImageFile) Path() string { return s.path }

// Close is a no-op
func (s *ImageFile) Close() error { return nil }
