// Package stream carries annotated frames to the downstream video sinks.
package stream

import (
	"context"
	"image"
	"time"

	"go.uber.org/multierr"
)

// Frame is an output frame, annotated when inference succeeded
type Frame struct {
	Seq       uint64
	Image     *image.RGBA
	Timestamp time.Time
	Annotated bool
}

// Sink consumes frames in order, once per input frame
type Sink interface {
	WriteFrame(ctx context.Context, frame *Frame) error
	Close() error
}

// Multi fans a frame out to several sinks
type Multi []Sink

// WriteFrame writes to every sink, even after a failure
func (m Multi) WriteFrame(ctx context.Context, frame *Frame) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.WriteFrame(ctx, frame))
	}
	return err
}

// Close closes every sink
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Discard drops every frame
type Discard struct{}

func (Discard) WriteFrame(context.Context, *Frame) error { return nil }
func (Discard) Close() error                             { return nil }
