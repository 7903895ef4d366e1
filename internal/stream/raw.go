package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// Pixel formats understood by RawWriter
const (
	PixelFormatBGR24 = "bgr24"
	PixelFormatRGB24 = "rgb24"
)

// RawWriter writes packed 24-bit pixels to w, one frame after another,
// for piping into e.g. ffserver/ffmpeg -f rawvideo
type RawWriter struct {
	w      *bufio.Writer
	closer io.Closer
	bgr    bool
	buf    []byte
}

// NewRawWriter creates a raw frame writer
func NewRawWriter(w io.Writer, pixelFormat string) (*RawWriter, error) {
	var bgr bool
	switch pixelFormat {
	case PixelFormatBGR24, "":
		bgr = true
	case PixelFormatRGB24:
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", pixelFormat)
	}

	rw := &RawWriter{w: bufio.NewWriterSize(w, 1<<20), bgr: bgr}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}
	return rw, nil
}

// WriteFrame writes the frame's pixels and flushes
func (r *RawWriter) WriteFrame(_ context.Context, frame *Frame) error {
	img := frame.Image
	b := img.Bounds()
	need := b.Dx() * b.Dy() * 3
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	out := r.buf[:need]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			if r.bgr {
				out[i], out[i+1], out[i+2] = p[2], p[1], p[0]
			} else {
				out[i], out[i+1], out[i+2] = p[0], p[1], p[2]
			}
			i += 3
		}
	}

	if _, err := r.w.Write(out); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", frame.Seq, err)
	}
	return r.w.Flush()
}

// Close flushes buffered output. Standard streams are left open.
func (r *RawWriter) Close() error {
	if err := r.w.Flush(); err != nil {
		return err
	}
	if r.closer != nil && !isStdStream(r.closer) {
		return r.closer.Close()
	}
	return nil
}

func isStdStream(c io.Closer) bool {
	f, ok := c.(*os.File)
	return ok && (f == os.Stdout || f == os.Stderr)
}
