// Package source decodes video input into frames for the processing loop.
package source

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEndOfStream is returned by Next once the input is exhausted or can no
// longer be decoded
var ErrEndOfStream = errors.New("end of stream")

// CameraInput is the input value that selects the default camera
const CameraInput = "CAM"

// Frame is one decoded input frame
type Frame struct {
	Seq       uint64
	Image     image.Image
	JPEG      []byte // encoded form as read from the input, may be nil
	Timestamp time.Time
}

// Source yields frames in order. Next blocks until a frame is available,
// the input ends (ErrEndOfStream) or ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Config describes where frames come from
type Config struct {
	Input        string
	CameraDevice string
	FPS          int
	Width        int
	Height       int
	FFmpegPath   string
	Prefetch     int
}

// IsImage reports whether input names a still image
func IsImage(input string) bool {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}

// Open returns the source for cfg.Input: a one-frame source for still
// images, an ffmpeg decoder otherwise. With Prefetch > 0 frames are decoded
// ahead of the consumer.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		src Source
		err error
	)
	if IsImage(cfg.Input) {
		src, err = OpenImage(cfg.Input)
	} else {
		src, err = StartFFmpeg(ctx, cfg, logger)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Prefetch > 0 {
		return NewPrefetch(ctx, src, cfg.Prefetch), nil
	}
	return src, nil
}
