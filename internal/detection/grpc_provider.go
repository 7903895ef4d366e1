package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"peoplecounter/internal/occupancy"
)

// gRPC method names of the inference service. Messages are google.protobuf.Struct
// so no generated stubs are needed on either side.
const (
	GRPCService       = "peoplecounter.detection.v1.DetectionService"
	GRPCMethodLoad    = "/" + GRPCService + "/LoadModel"
	GRPCMethodDetect  = "/" + GRPCService + "/Detect"
	grpcHealthTimeout = 2 * time.Second
)

// GRPCProvider calls an inference service over gRPC. Detect responses carry
// the raw SSD output as a flat "rows" list of stride SSDRowSize.
type GRPCProvider struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	request  ModelRequest
	logger   *zap.Logger

	mu         sync.RWMutex
	loaded     bool
	healthy    bool
	lastHealth time.Time
}

// NewGRPCProvider creates the client connection. The connection is lazy; the
// first RPC (normally Load) establishes it.
func NewGRPCProvider(cfg Config, logger *zap.Logger, opts ...grpc.DialOption) (*GRPCProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection client: %w", err)
	}

	return &GRPCProvider{
		endpoint: cfg.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		request:  NewModelRequest(cfg),
		logger:   logger.Named("detector.grpc"),
	}, nil
}

// Name returns the backend identifier
func (p *GRPCProvider) Name() string { return "grpc" }

// Load asks the service to load the configured model
func (p *GRPCProvider) Load(ctx context.Context) (InputShape, error) {
	req, err := structpb.NewStruct(map[string]any{
		"model":         p.request.Model,
		"weights":       p.request.Weights,
		"device":        p.request.Device,
		"cpu_extension": p.request.CPUExtension,
	})
	if err != nil {
		return InputShape{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	resp := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, GRPCMethodLoad, req, resp); err != nil {
		return InputShape{}, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	fields := resp.GetFields()
	shape := InputShape{
		Width:  int(fields["input_width"].GetNumberValue()),
		Height: int(fields["input_height"].GetNumberValue()),
	}

	p.mu.Lock()
	p.loaded = true
	p.healthy = true
	p.lastHealth = time.Now()
	p.mu.Unlock()

	p.logger.Info("model loaded",
		zap.String("endpoint", p.endpoint),
		zap.String("model", p.request.Model),
		zap.String("device", p.request.Device),
		zap.Int("width", shape.Width),
		zap.Int("height", shape.Height),
		zap.Float64("load_time_ms", fields["load_time_ms"].GetNumberValue()))
	return shape, nil
}

// Detect submits one frame and decodes the SSD rows of the response
func (p *GRPCProvider) Detect(ctx context.Context, frame []byte) ([]occupancy.Detection, error) {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	req, err := structpb.NewStruct(map[string]any{
		"image": base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, GRPCMethodDetect, req, resp); err != nil {
		p.markUnhealthy()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}

	rows := resp.GetFields()["rows"].GetListValue().GetValues()
	flat := make([]float64, len(rows))
	for i, v := range rows {
		flat[i] = v.GetNumberValue()
	}
	detections, err := DecodeSSD(flat, -1)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("inference complete",
		zap.Int("detections", len(detections)),
		zap.Float64("inference_time_ms", resp.GetFields()["inference_time_ms"].GetNumberValue()))
	return detections, nil
}

// IsHealthy queries the standard gRPC health service, caching the result for 30s
func (p *GRPCProvider) IsHealthy(ctx context.Context) bool {
	p.mu.RLock()
	if time.Since(p.lastHealth) < 30*time.Second {
		healthy := p.healthy
		p.mu.RUnlock()
		return healthy
	}
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, grpcHealthTimeout)
	defer cancel()

	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCService})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING

	p.mu.Lock()
	p.healthy = healthy
	p.lastHealth = time.Now()
	p.mu.Unlock()
	return healthy
}

func (p *GRPCProvider) markUnhealthy() {
	p.mu.Lock()
	p.healthy = false
	p.lastHealth = time.Now()
	p.mu.Unlock()
}

// Close closes the client connection
func (p *GRPCProvider) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
