package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesFailed    atomic.Uint64

	// Telemetry counters
	MessagesPublished atomic.Uint64
	PublishErrors     atomic.Uint64
	SinkErrors        atomic.Uint64

	// Occupancy state
	PeopleCount    atomic.Int64
	PersonPresent  atomic.Uint64 // 0 = absent, 1 = present
	EpisodesTotal  atomic.Uint64
	PeopleCounted  atomic.Uint64
	averageSeconds atomic.Uint64 // float64 bits

	// Model
	ModelLoaded     atomic.Uint64 // 0 = not loaded, 1 = loaded
	ModelLoadTimeMs atomic.Uint64

	inferenceSeconds prometheus.Histogram
	episodeSeconds   prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peoplecounter_inference_duration_seconds",
			Help:    "Per-frame inference latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		episodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peoplecounter_episode_duration_seconds",
			Help:    "Duration of closed presence episodes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("peoplecounter_frames_read_total", "Total frames decoded from the input", &m.FramesRead)
	m.counter("peoplecounter_frames_processed_total", "Total frames with a successful inference", &m.FramesProcessed)
	m.counter("peoplecounter_frames_failed_total", "Total frames whose inference failed or timed out", &m.FramesFailed)
	m.counter("peoplecounter_messages_published_total", "Total telemetry messages delivered", &m.MessagesPublished)
	m.counter("peoplecounter_publish_errors_total", "Total telemetry publish failures", &m.PublishErrors)
	m.counter("peoplecounter_sink_errors_total", "Total video sink write failures", &m.SinkErrors)
	m.counter("peoplecounter_episodes_total", "Total closed presence episodes", &m.EpisodesTotal)
	m.counter("peoplecounter_people_counted_total", "Sum of peak people counts over closed episodes", &m.PeopleCounted)

	m.gauge("peoplecounter_people_count", "People detected in the latest frame",
		func() float64 { return float64(m.PeopleCount.Load()) })
	m.gauge("peoplecounter_person_present", "Debounced presence (0=absent, 1=present)",
		func() float64 { return float64(m.PersonPresent.Load()) })
	m.gauge("peoplecounter_average_duration_seconds", "Average episode duration",
		func() float64 { return m.AverageSeconds() })
	m.gauge("peoplecounter_model_loaded", "Model loaded (0=no, 1=yes)",
		func() float64 { return float64(m.ModelLoaded.Load()) })
	m.gauge("peoplecounter_model_load_time_ms", "Model load time in milliseconds",
		func() float64 { return float64(m.ModelLoadTimeMs.Load()) })

	m.registry.MustRegister(m.inferenceSeconds, m.episodeSeconds)
}

// ObserveInference records one inference latency
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceSeconds.Observe(d.Seconds())
}

// ObserveEpisode records a closed episode and the resulting average
func (m *Metrics) ObserveEpisode(duration time.Duration, peak int, average float64) {
	m.EpisodesTotal.Add(1)
	m.PeopleCounted.Add(uint64(peak))
	m.episodeSeconds.Observe(duration.Seconds())
	m.averageSeconds.Store(math.Float64bits(average))
}

// AverageSeconds returns the last recorded average episode duration
func (m *Metrics) AverageSeconds() float64 {
	return math.Float64frombits(m.averageSeconds.Load())
}

// SetPresence records the latest frame count and debounced presence
func (m *Metrics) SetPresence(count int, present bool) {
	m.PeopleCount.Store(int64(count))
	if present {
		m.PersonPresent.Store(1)
	} else {
		m.PersonPresent.Store(0)
	}
}

// SetModelLoaded records a successful model load
func (m *Metrics) SetModelLoaded(loadTime time.Duration) {
	m.ModelLoadTimeMs.Store(uint64(loadTime.Milliseconds()))
	m.ModelLoaded.Store(1)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
