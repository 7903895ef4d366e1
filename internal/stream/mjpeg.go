package stream

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// MJPEGBroadcaster serves annotated frames to HTTP clients as an MJPEG
// stream and keeps the latest one for snapshots
type MJPEGBroadcaster struct {
	quality int
	logger  *zap.Logger

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	currentFrame []byte
	frameMu      sync.RWMutex
	frameSeq     atomic.Uint64
}

// NewMJPEGBroadcaster creates a broadcaster encoding at the given JPEG quality
func NewMJPEGBroadcaster(quality int, logger *zap.Logger) *MJPEGBroadcaster {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MJPEGBroadcaster{
		quality: quality,
		logger:  logger.Named("mjpeg"),
		clients: make(map[chan []byte]bool),
	}
}

// WriteFrame encodes the frame and hands it to every connected client.
// Slow clients skip frames; the processing loop is never blocked.
func (m *MJPEGBroadcaster) WriteFrame(_ context.Context, frame *Frame) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
	}
	data := buf.Bytes()

	m.frameMu.Lock()
	m.currentFrame = data
	m.frameMu.Unlock()
	m.frameSeq.Store(frame.Seq)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// CurrentFrame returns the latest encoded frame, or nil before the first one
func (m *MJPEGBroadcaster) CurrentFrame() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.currentFrame
}

// CurrentSeq returns the sequence number of the latest frame
func (m *MJPEGBroadcaster) CurrentSeq() uint64 {
	return m.frameSeq.Load()
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGBroadcaster) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Close disconnects all stream clients
func (m *MJPEGBroadcaster) Close() error {
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
		delete(m.clients, ch)
	}
	m.clientsMu.Unlock()
	return nil
}

// ServeHTTP streams frames as multipart/x-mixed-replace
func (m *MJPEGBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientCh := make(chan []byte, 5)
	m.clientsMu.Lock()
	m.clients[clientCh] = true
	m.clientsMu.Unlock()

	defer func() {
		m.clientsMu.Lock()
		delete(m.clients, clientCh)
		m.clientsMu.Unlock()
	}()

	m.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			m.logger.Debug("client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			writePart(w, frame)
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
	w.Write(frame)
	fmt.Fprintf(w, "\r\n")
}

// SnapshotHandler serves the latest frame as a single JPEG
type SnapshotHandler struct {
	broadcaster *MJPEGBroadcaster
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(b *MJPEGBroadcaster) *SnapshotHandler {
	return &SnapshotHandler{broadcaster: b}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.broadcaster.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("X-Frame-Seq", fmt.Sprintf("%d", h.broadcaster.CurrentSeq()))
	w.Write(frame)
}
