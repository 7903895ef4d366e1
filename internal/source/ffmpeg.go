package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FFmpegSource decodes any input ffmpeg understands (file, RTSP, HTTP, V4L2)
// by reading its image2pipe MJPEG output
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stream *jpegStream
	logger *zap.Logger
	seq    uint64

	closeOnce sync.Once
	closeErr  error
}

// StartFFmpeg launches ffmpeg for cfg.Input
func StartFFmpeg(ctx context.Context, cfg Config, logger *zap.Logger) (*FFmpegSource, error) {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	logger = logger.Named("source")

	args := ffmpegArgs(cfg)
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()

	logger.Info("decoder started",
		zap.String("input", cfg.Input),
		zap.Strings("args", args))

	src := newFFmpegSource(stdout, logger)
	src.cmd = cmd
	return src, nil
}

func newFFmpegSource(stdout io.ReadCloser, logger *zap.Logger) *FFmpegSource {
	return &FFmpegSource{
		stdout: stdout,
		stream: newJPEGStream(stdout),
		logger: logger,
	}
}

// Next returns the next decoded frame
func (s *FFmpegSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.stream.next()
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
			s.logger.Warn("decoder read failed", zap.Error(err))
		}
		return nil, ErrEndOfStream
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("frame decode failed", zap.Uint64("seq", s.seq+1), zap.Error(err))
		return nil, ErrEndOfStream
	}

	s.seq++
	return &Frame{
		Seq:       s.seq,
		Image:     img,
		JPEG:      data,
		Timestamp: time.Now(),
	}, nil
}

// Close stops ffmpeg and reaps the process
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.stdout.Close()
		if s.cmd == nil || s.cmd.Process == nil {
			return
		}
		_ = s.cmd.Process.Kill()
		if err := s.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

// ffmpegArgs builds the decoder command line for the configured input
func ffmpegArgs(cfg Config) []string {
	input := cfg.Input
	fps := cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}

	switch {
	case input == CameraInput || strings.HasPrefix(input, "/dev/video"):
		device := input
		if device == CameraInput {
			device = cfg.CameraDevice
		}
		if device == "" {
			device = "/dev/video0"
		}
		args := []string{"-f", "v4l2"}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", fps), "-i", device)
		return append(args, output...)

	case strings.HasPrefix(input, "rtsp://"):
		args := []string{"-rtsp_transport", "tcp", "-i", input, "-r", fmt.Sprintf("%d", fps)}
		return append(args, output...)

	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		args := []string{"-i", input, "-r", fmt.Sprintf("%d", fps)}
		return append(args, output...)

	default:
		// files are decoded at their native rate, every frame
		args := []string{"-i", input}
		return append(args, output...)
	}
}

var _ Source = (*FFmpegSource)(nil)
