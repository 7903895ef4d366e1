package detection

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"peoplecounter/internal/occupancy"
)

var (
	// ErrModelLoad is returned when the backend cannot load the model
	ErrModelLoad = errors.New("model load failed")
	// ErrNotLoaded is returned when Detect is called before Load
	ErrNotLoaded = errors.New("model not loaded")
)

// InputShape is the spatial size the network expects its input resized to
type InputShape struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the backend did not declare an input size
func (s InputShape) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Provider is the inference backend seen from the processing loop.
// Detect blocks until the request completes or ctx expires.
type Provider interface {
	// Name returns the backend identifier ("http", "grpc")
	Name() string

	// Load asks the backend to load the model and reports its input shape
	Load(ctx context.Context) (InputShape, error)

	// Detect runs one inference on an encoded, preprocessed frame
	Detect(ctx context.Context, frame []byte) ([]occupancy.Detection, error)

	// IsHealthy returns true if the backend answered its last health check
	IsHealthy(ctx context.Context) bool

	// Close releases backend resources
	Close() error
}

// Config describes which backend to talk to and what to load on it
type Config struct {
	Backend      string
	Endpoint     string
	Model        string
	Device       string
	CPUExtension string
	Timeout      time.Duration
}

// ModelRequest is the load request shared by every backend
type ModelRequest struct {
	Model        string `json:"model"`
	Weights      string `json:"weights,omitempty"`
	Device       string `json:"device"`
	CPUExtension string `json:"cpu_extension,omitempty"`
}

// NewModelRequest derives the load request from the configuration.
// IR models (.xml) carry their weights in a sibling .bin file.
func NewModelRequest(cfg Config) ModelRequest {
	req := ModelRequest{
		Model:        cfg.Model,
		Device:       cfg.Device,
		CPUExtension: cfg.CPUExtension,
	}
	if req.Device == "" {
		req.Device = "CPU"
	}
	if strings.EqualFold(filepath.Ext(cfg.Model), ".xml") {
		req.Weights = strings.TrimSuffix(cfg.Model, filepath.Ext(cfg.Model)) + ".bin"
	}
	return req
}

// New creates the provider selected by cfg.Backend
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "http", "":
		return NewHTTPProvider(cfg, logger), nil
	case "grpc":
		return NewGRPCProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}
