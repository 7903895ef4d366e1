package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/source"
)

// Config is the full runtime configuration
type Config struct {
	Input     InputConfig     `mapstructure:"input"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Occupancy OccupancyConfig `mapstructure:"occupancy"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Output    OutputConfig    `mapstructure:"output"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// InputConfig describes the video source
type InputConfig struct {
	Source       string `mapstructure:"source"`        // file path, URL, image, or "CAM"
	CameraDevice string `mapstructure:"camera_device"` // device used for "CAM"
	FPS          int    `mapstructure:"fps"`           // capture rate for live sources
	Width        int    `mapstructure:"width"`         // capture size for live sources
	Height       int    `mapstructure:"height"`
	Prefetch     int    `mapstructure:"prefetch"` // decoded frames buffered ahead of inference
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	JPEGQuality  int    `mapstructure:"jpeg_quality"` // quality of frames sent to the detector
}

// DetectorConfig describes the inference backend
type DetectorConfig struct {
	Backend          string        `mapstructure:"backend"` // "http" or "grpc"
	Endpoint         string        `mapstructure:"endpoint"`
	Model            string        `mapstructure:"model"`
	Device           string        `mapstructure:"device"`
	CPUExtension     string        `mapstructure:"cpu_extension"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
}

// OccupancyConfig tunes the debouncer
type OccupancyConfig struct {
	ProbThreshold float64 `mapstructure:"prob_threshold"`
	ConfirmFrames int     `mapstructure:"confirm_frames"`
	CountMode     string  `mapstructure:"count_mode"`
}

// TelemetryConfig selects and configures the metrics publisher(s)
type TelemetryConfig struct {
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	KeepAlive   time.Duration `mapstructure:"keepalive"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	PublishWait time.Duration `mapstructure:"publish_wait"`
}

// RedisConfig configures the Redis pub/sub publisher
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// OutputConfig configures the video sinks
type OutputConfig struct {
	Stdout      bool   `mapstructure:"stdout"`       // raw frames to stdout
	PixelFormat string `mapstructure:"pixel_format"` // bgr24 or rgb24
	Image       string `mapstructure:"image"`        // single-image mode output path
	MJPEG       bool   `mapstructure:"mjpeg"`        // serve annotated frames over HTTP
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Debug   bool   `mapstructure:"debug"`
}

// StoreConfig configures the episode journal
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AuthConfig configures API authentication
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// LogConfig configures logging
type LogConfig struct {
	Mode string `mapstructure:"mode"` // "release" or "debug"
}

// New returns a viper instance with defaults and environment binding applied.
// Callers may Set overrides (e.g. from CLI flags) before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PEOPLECOUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML config file into v
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.camera_device", "/dev/video0")
	v.SetDefault("input.fps", 10)
	v.SetDefault("input.width", 768)
	v.SetDefault("input.height", 432)
	v.SetDefault("input.prefetch", 2)
	v.SetDefault("input.ffmpeg_path", "ffmpeg")
	v.SetDefault("input.jpeg_quality", 90)

	v.SetDefault("detector.backend", "http")
	v.SetDefault("detector.endpoint", "http://localhost:8000")
	v.SetDefault("detector.device", "CPU")
	v.SetDefault("detector.load_timeout", 60*time.Second)
	v.SetDefault("detector.inference_timeout", 5*time.Second)

	v.SetDefault("occupancy.prob_threshold", 0.5)
	v.SetDefault("occupancy.confirm_frames", 20)
	v.SetDefault("occupancy.count_mode", string(occupancy.CountModeLive))

	v.SetDefault("telemetry.mqtt.enabled", true)
	v.SetDefault("telemetry.mqtt.broker", "tcp://localhost:3001")
	v.SetDefault("telemetry.mqtt.client_id", "peoplecounter")
	v.SetDefault("telemetry.mqtt.keepalive", 60*time.Second)
	v.SetDefault("telemetry.mqtt.qos", 0)
	v.SetDefault("telemetry.mqtt.publish_wait", 0)
	v.SetDefault("telemetry.redis.enabled", false)
	v.SetDefault("telemetry.redis.addr", "localhost:6379")

	v.SetDefault("output.stdout", true)
	v.SetDefault("output.pixel_format", "bgr24")
	v.SetDefault("output.image", "images/output.jpg")
	v.SetDefault("output.mjpeg", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "localhost:8080")

	v.SetDefault("store.dsn", "file::memory:?cache=shared")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.jwt_expiry", 24*time.Hour)

	v.SetDefault("log.mode", "debug")
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	if c.Input.Source == "" {
		return fmt.Errorf("input source is required")
	}
	if c.Detector.Model == "" {
		return fmt.Errorf("model path is required")
	}
	switch c.Detector.Backend {
	case "http", "grpc":
	default:
		return fmt.Errorf("unknown detector backend %q (valid: http|grpc)", c.Detector.Backend)
	}
	if c.Occupancy.ProbThreshold < 0 || c.Occupancy.ProbThreshold > 1 {
		return fmt.Errorf("prob_threshold must be within [0,1], got %v", c.Occupancy.ProbThreshold)
	}
	if c.Occupancy.ConfirmFrames < 1 {
		return fmt.Errorf("confirm_frames must be at least 1, got %d", c.Occupancy.ConfirmFrames)
	}
	if _, err := occupancy.ParseCountMode(c.Occupancy.CountMode); err != nil {
		return err
	}
	switch c.Output.PixelFormat {
	case "bgr24", "rgb24":
	default:
		return fmt.Errorf("unknown pixel format %q (valid: bgr24|rgb24)", c.Output.PixelFormat)
	}
	if c.Input.Prefetch < 0 {
		return fmt.Errorf("prefetch must not be negative")
	}
	if c.Telemetry.MQTT.QoS < 0 || c.Telemetry.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return fmt.Errorf("auth is enabled but no password is configured")
	}
	return nil
}

// IsCamera reports whether the input refers to the live camera
func (c InputConfig) IsCamera() bool {
	return c.Source == "CAM"
}

// IsImage reports whether the input is a single still image
func (c InputConfig) IsImage() bool {
	return source.IsImage(c.Source)
}
