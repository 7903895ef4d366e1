package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// slowReader hands out at most n bytes per Read
type slowReader struct {
	r io.Reader
	n int
}

func (s *slowReader) Read(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	return s.r.Read(p)
}

func TestJPEGStreamSplitsConcatenatedImages(t *testing.T) {
	a := encodeJPEG(t, 16, 8)
	b := encodeJPEG(t, 8, 16)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01})
	stream.Write(a)
	stream.Write(b)
	stream.Write(a[:10])

	s := newJPEGStream(&slowReader{r: &stream, n: 7})

	got, err := s.next()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = s.next()
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = s.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestExtractJPEGFrameKeepsPartialMarker(t *testing.T) {
	buf := []byte{0x10, 0x20, 0xFF}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Equal(t, []byte{0xFF}, buf)

	buf = append(buf, 0xD8, 0x01, 0xFF, 0xD9, 0x42)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, extractJPEGFrame(&buf))
	assert.Equal(t, []byte{0x42}, buf)
}

func TestFFmpegSourceDecodesFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeJPEG(t, 32, 24))
	stream.Write(encodeJPEG(t, 32, 24))

	src := newFFmpegSource(io.NopCloser(&stream), zap.NewNop())
	ctx := context.Background()

	for seq := uint64(1); seq <= 2; seq++ {
		frame, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, seq, frame.Seq)
		assert.Equal(t, 32, frame.Image.Bounds().Dx())
		assert.NotEmpty(t, frame.JPEG)
	}

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.NoError(t, src.Close())
}

func TestFFmpegSourceCorruptFrameEndsStream(t *testing.T) {
	stream := bytes.NewReader([]byte{0xFF, 0xD8, 0x00, 0x00, 0xFF, 0xD9})
	src := newFFmpegSource(io.NopCloser(stream), zap.NewNop())

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		exclude string
	}{
		{
			name: "camera alias",
			cfg:  Config{Input: CameraInput, CameraDevice: "/dev/video2", FPS: 15, Width: 640, Height: 480},
			want: []string{"-f", "v4l2", "-video_size", "640x480", "-framerate", "15", "-i", "/dev/video2"},
		},
		{
			name: "camera default device",
			cfg:  Config{Input: CameraInput},
			want: []string{"-f", "v4l2", "-framerate", "10", "-i", "/dev/video0"},
		},
		{
			name: "rtsp",
			cfg:  Config{Input: "rtsp://cam/stream", FPS: 5},
			want: []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream", "-r", "5"},
		},
		{
			name:    "file keeps native rate",
			cfg:     Config{Input: "resources/video.mp4", FPS: 5},
			want:    []string{"-i", "resources/video.mp4"},
			exclude: "-r",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ffmpegArgs(tt.cfg)
			assert.Equal(t, tt.want, args[:len(tt.want)])
			assert.Equal(t, "-", args[len(args)-1])
			assert.Contains(t, args, "image2pipe")
			if tt.exclude != "" {
				assert.NotContains(t, args, tt.exclude)
			}
		})
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a/b/frame.JPG"))
	assert.True(t, IsImage("x.png"))
	assert.False(t, IsImage("video.mp4"))
	assert.False(t, IsImage(CameraInput))
}

func TestImageSourceYieldsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	img := image.NewRGBA(image.Rect(0, 0, 10, 6))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	src, err := Open(context.Background(), Config{Input: path}, nil)
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, frame.Image.Bounds().Dx())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestOpenImageMissing(t *testing.T) {
	_, err := OpenImage(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

// countingSource yields n blank frames
type countingSource struct {
	n      int
	seq    uint64
	closed bool
}

func (c *countingSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int(c.seq) >= c.n {
		return nil, ErrEndOfStream
	}
	c.seq++
	return &Frame{Seq: c.seq}, nil
}

func (c *countingSource) Close() error {
	c.closed = true
	return nil
}

func TestPrefetchPreservesOrder(t *testing.T) {
	inner := &countingSource{n: 5}
	p := NewPrefetch(context.Background(), inner, 2)

	for want := uint64(1); want <= 5; want++ {
		frame, err := p.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, frame.Seq)
	}
	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.NoError(t, p.Close())
	assert.True(t, inner.closed)
}

func TestPrefetchCloseWhileBlocked(t *testing.T) {
	inner := &countingSource{n: 100}
	p := NewPrefetch(context.Background(), inner, 1)

	frame, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)

	require.NoError(t, p.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Next(ctx)
	assert.True(t, err == nil || errors.Is(err, ErrEndOfStream) || errors.Is(err, context.Canceled))
}
