package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"peoplecounter/internal/occupancy"
)

// personClass is the class name a multi-class backend uses for people
const personClass = "person"

// HTTPProvider talks to an inference service over HTTP:
//
//	POST /models/load  JSON ModelRequest -> loadResponse
//	POST /detect       multipart "file"  -> detectResponse
//	GET  /health                         -> healthResponse
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	request  ModelRequest
	logger   *zap.Logger

	mu          sync.RWMutex
	loaded      bool
	shape       InputShape
	healthCheck time.Time
}

type httpDetection struct {
	Class      string    `json:"class,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2], normalized
}

type detectResponse struct {
	Detections      []httpDetection `json:"detections"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
}

type loadResponse struct {
	Input      InputShape `json:"input"`
	LoadTimeMs float64    `json:"load_time_ms"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewHTTPProvider creates an HTTP inference client. cfg.Timeout bounds each
// request in addition to the caller's context.
func NewHTTPProvider(cfg Config, logger *zap.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		request:  NewModelRequest(cfg),
		logger:   logger.Named("detector.http"),
	}
}

// Name returns the backend identifier
func (p *HTTPProvider) Name() string { return "http" }

// Load asks the service to load the configured model
func (p *HTTPProvider) Load(ctx context.Context) (InputShape, error) {
	body, err := json.Marshal(p.request)
	if err != nil {
		return InputShape{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/models/load", bytes.NewReader(body))
	if err != nil {
		return InputShape{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return InputShape{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return InputShape{}, fmt.Errorf("%w: status %d: %s", ErrModelLoad, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InputShape{}, fmt.Errorf("%w: failed to decode load response: %v", ErrModelLoad, err)
	}

	p.mu.Lock()
	p.loaded = true
	p.shape = out.Input
	p.healthCheck = time.Now()
	p.mu.Unlock()

	p.logger.Info("model loaded",
		zap.String("model", p.request.Model),
		zap.String("device", p.request.Device),
		zap.Int("width", out.Input.Width),
		zap.Int("height", out.Input.Height),
		zap.Float64("load_time_ms", out.LoadTimeMs))
	return out.Input, nil
}

// Detect submits one frame and returns the person detections
func (p *HTTPProvider) Detect(ctx context.Context, frame []byte) ([]occupancy.Detection, error) {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(frame); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/detect", &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	detections := make([]occupancy.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Class != "" && d.Class != personClass {
			continue
		}
		if len(d.BBox) != 4 {
			continue
		}
		detections = append(detections, occupancy.Detection{
			Score: d.Confidence,
			Box: occupancy.Box{
				X1: clamp01(d.BBox[0]), Y1: clamp01(d.BBox[1]),
				X2: clamp01(d.BBox[2]), Y2: clamp01(d.BBox[3]),
			},
		})
	}

	p.logger.Debug("inference complete",
		zap.Int("detections", len(detections)),
		zap.Float64("inference_time_ms", result.InferenceTimeMs))
	return detections, nil
}

// IsHealthy checks the service health endpoint, caching success for 30s
func (p *HTTPProvider) IsHealthy(ctx context.Context) bool {
	p.mu.RLock()
	if p.loaded && time.Since(p.healthCheck) < 30*time.Second {
		p.mu.RUnlock()
		return true
	}
	p.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || !health.ModelLoaded {
		return false
	}

	p.mu.Lock()
	p.healthCheck = time.Now()
	p.mu.Unlock()
	return true
}

// Close releases idle connections
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
