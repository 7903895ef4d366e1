package source

import (
	"bytes"
	"io"
)

const (
	readChunkSize  = 8192
	maxFrameBuffer = 32 << 20
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// jpegStream splits a concatenated MJPEG byte stream (ffmpeg image2pipe)
// into individual JPEG images
type jpegStream struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func newJPEGStream(r io.Reader) *jpegStream {
	return &jpegStream{
		r:     r,
		buf:   make([]byte, 0, 1<<20),
		chunk: make([]byte, readChunkSize),
	}
}

// next returns the next complete JPEG. io.EOF is returned once the
// underlying reader ends; a trailing partial image is discarded.
func (s *jpegStream) next() ([]byte, error) {
	for {
		if frame := extractJPEGFrame(&s.buf); frame != nil {
			return frame, nil
		}
		if len(s.buf) > maxFrameBuffer {
			s.buf = s.buf[:0]
		}

		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
			continue
		}
		if err != nil {
			if frame := extractJPEGFrame(&s.buf); frame != nil {
				return frame, nil
			}
			return nil, err
		}
	}
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer.
// Bytes preceding the start marker are dropped.
func extractJPEGFrame(buffer *[]byte) []byte {
	start := bytes.Index(*buffer, jpegSOI)
	if start == -1 {
		if len(*buffer) > 0 && (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = (*buffer)[len(*buffer)-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	end := bytes.Index((*buffer)[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			*buffer = append((*buffer)[:0], (*buffer)[start:]...)
		}
		return nil
	}
	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, (*buffer)[start:end])
	*buffer = append((*buffer)[:0], (*buffer)[end:]...)
	return frame
}
