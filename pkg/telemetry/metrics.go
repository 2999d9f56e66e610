package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for genproj.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	config MetricsConfig

	// Generation metrics
	generationsStarted   prometheus.Counter
	generationsCompleted *prometheus.CounterVec
	generationDuration   *prometheus.HistogramVec
	triggersRejected     prometheus.Counter

	// Build tool output metrics
	outputLines *prometheus.CounterVec
	exitCodes   *prometheus.CounterVec

	// Watch metrics
	watchEvents *prometheus.CounterVec

	// System metrics
	busy prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		generationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_started_total",
				Help:      "Total number of project file generations started",
			},
		),
		generationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_completed_total",
				Help:      "Total number of project file generations completed, by outcome",
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of project file generation in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		triggersRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_rejected_total",
				Help:      "Total number of triggers refused because a generation was running",
			},
		),
		outputLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_tool_output_lines_total",
				Help:      "Total number of lines read from the build tool, by stream",
			},
			[]string{"stream"},
		),
		exitCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_tool_exits_total",
				Help:      "Total number of build tool exits, by exit code",
			},
			[]string{"code"},
		),
		watchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_events_total",
				Help:      "Total number of relevant filesystem events seen in watch mode",
			},
			[]string{"op"},
		),
		busy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy",
				Help:      "1 while a project file generation is running",
			},
		),
	}

	registry.MustRegister(
		m.generationsStarted,
		m.generationsCompleted,
		m.generationDuration,
		m.triggersRejected,
		m.outputLines,
		m.exitCodes,
		m.watchEvents,
		m.busy,
	)

	return m, nil
}

// enabled reports whether the collectors exist.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordGenerationStarted increments the started counter and raises the busy gauge.
func (m *Metrics) RecordGenerationStarted() {
	if !m.enabled() {
		return
	}
	m.generationsStarted.Inc()
	m.busy.Set(1)
}

// RecordGenerationCompleted records a finished generation with its outcome and duration.
// outcome is "success" or an error kind.
func (m *Metrics) RecordGenerationCompleted(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.generationsCompleted.WithLabelValues(outcome).Inc()
	m.generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.busy.Set(0)
}

// RecordTriggerRejected counts a trigger refused while busy.
func (m *Metrics) RecordTriggerRejected() {
	if !m.enabled() {
		return
	}
	m.triggersRejected.Inc()
}

// RecordOutputLine counts one build tool output line on stream.
func (m *Metrics) RecordOutputLine(stream string) {
	if !m.enabled() {
		return
	}
	m.outputLines.WithLabelValues(stream).Inc()
}

// RecordExitCode counts a build tool exit.
func (m *Metrics) RecordExitCode(code int) {
	if !m.enabled() {
		return
	}
	m.exitCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordWatchEvent counts a relevant filesystem event.
func (m *Metrics) RecordWatchEvent(op string) {
	if !m.enabled() {
		return
	}
	m.watchEvents.WithLabelValues(op).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Start returns when the timer was created.
func (t *Timer) Start() time.Time {
	return t.start
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	path := "/metrics"
	if m != nil && m.config.Path != "" {
		path = m.config.Path
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
