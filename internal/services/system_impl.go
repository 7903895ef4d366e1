package services

import (
	"context"
	"time"

	"peoplecounter/internal/metrics"
)

// RunInfo describes the static configuration of the current run
type RunInfo struct {
	RunID     string `json:"run_id"`
	Input     string `json:"input"`
	Model     string `json:"model"`
	Device    string `json:"device"`
	Backend   string `json:"backend"`
	CountMode string `json:"count_mode"`
}

// ClientCounter reports connected streaming clients
type ClientCounter interface {
	ClientCount() int
}

// SystemStatus is the overall service status
type SystemStatus struct {
	RunInfo
	ModelLoaded       bool    `json:"model_loaded"`
	ModelLoadTimeMs   uint64  `json:"model_load_time_ms"`
	FramesRead        uint64  `json:"frames_read"`
	FramesProcessed   uint64  `json:"frames_processed"`
	FramesFailed      uint64  `json:"frames_failed"`
	MessagesPublished uint64  `json:"messages_published"`
	PublishErrors     uint64  `json:"publish_errors"`
	WebSocketClients  int     `json:"websocket_clients"`
	StreamClients     int     `json:"stream_clients"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	info      RunInfo
	metrics   *metrics.Metrics
	ws        ClientCounter
	video     ClientCounter
	startTime time.Time
	now       func() time.Time
}

// NewSystemService creates a new system service implementation. ws and video
// may be nil when those outputs are disabled.
func NewSystemService(info RunInfo, m *metrics.Metrics, ws, video ClientCounter) *SystemImplementation {
	return &SystemImplementation{
		info:      info,
		metrics:   m,
		ws:        ws,
		video:     video,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		RunInfo:       s.info,
		UptimeSeconds: s.now().Sub(s.startTime).Seconds(),
	}
	if s.metrics != nil {
		status.ModelLoaded = s.metrics.ModelLoaded.Load() == 1
		status.ModelLoadTimeMs = s.metrics.ModelLoadTimeMs.Load()
		status.FramesRead = s.metrics.FramesRead.Load()
		status.FramesProcessed = s.metrics.FramesProcessed.Load()
		status.FramesFailed = s.metrics.FramesFailed.Load()
		status.MessagesPublished = s.metrics.MessagesPublished.Load()
		status.PublishErrors = s.metrics.PublishErrors.Load()
	}
	if s.ws != nil {
		status.WebSocketClients = s.ws.ClientCount()
	}
	if s.video != nil {
		status.StreamClients = s.video.ClientCount()
	}
	return status, nil
}
