package instrument

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/stan/pkg/stan"
)

// MetricsConfig configures the Prometheus hooks.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "stan").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for resolution duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus hooks.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "stan",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a stan.Hooks that records Prometheus metrics.
//
// Metrics collected:
//   - stan_resolutions_total: resolutions by state and status
//   - stan_resolve_duration_seconds: resolver run time by state
//   - stan_resolution_errors_total: failed resolutions by state and error type
//   - stan_resolving: resolutions currently running
//   - stan_commits_total: value changes by kind
//   - stan_notifications_total: listener calls by state
//
// The state label is the descriptor debug ID with selector and family
// arguments stripped, so that one family contributes one series.
type Metrics struct {
	resolutions   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	resolving     prometheus.Gauge
	commits       *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var _ stan.Hooks = (*Metrics)(nil)

// Prometheus creates hooks that register their collectors with the
// configured registry. Registering twice with the same registry panics.
//
// Example:
//
//	metrics := instrument.Prometheus(instrument.WithNamespace("myapp"))
//	r := stan.NewRegistry(stan.WithHooks(metrics))
//
//	// Expose metrics endpoint
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "resolutions_total",
			Help:        "Total number of resolver runs",
			ConstLabels: config.ConstLabels,
		}, []string{"state", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "resolve_duration_seconds",
			Help:        "Resolver run time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"state"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "resolution_errors_total",
			Help:        "Total number of failed resolutions",
			ConstLabels: config.ConstLabels,
		}, []string{"state", "error_type"}),

		resolving: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "resolving",
			Help:        "Number of resolver runs in progress",
			ConstLabels: config.ConstLabels,
		}),

		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "commits_total",
			Help:        "Total number of committed value changes",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total number of listener calls",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),
	}
}

// Resolve implements stan.Hooks.
func (m *Metrics) Resolve(info stan.StateInfo) func(err error) {
	state := stateLabel(info)
	start := time.Now()
	m.resolving.Inc()
	return func(err error) {
		m.resolving.Dec()
		m.duration.WithLabelValues(state).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
			m.errors.WithLabelValues(state, categorizeError(err)).Inc()
		}
		m.resolutions.WithLabelValues(state, status).Inc()
	}
}

// Commit implements stan.Hooks.
func (m *Metrics) Commit(info stan.StateInfo) {
	m.commits.WithLabelValues(info.Kind).Inc()
}

// Notify implements stan.Hooks.
func (m *Metrics) Notify(info stan.StateInfo, listeners int) {
	m.notifications.WithLabelValues(stateLabel(info)).Add(float64(listeners))
}

func stateLabel(info stan.StateInfo) string {
	if info.Kind == stan.KindSelector.String() || info.Kind == stan.KindFamily.String() {
		if base, _, ok := strings.Cut(info.DebugID, "--"); ok {
			return base
		}
	}
	return info.DebugID
}

// categorizeError returns a low-cardinality label for err.
func categorizeError(err error) string {
	var cycle *stan.CycleError
	var typeErr *stan.TypeError
	switch {
	case errors.As(err, &cycle):
		return "cycle"
	case errors.As(err, &typeErr):
		return "type"
	case errors.Is(err, stan.ErrRegistryClosed):
		return "closed"
	case errors.Is(err, stan.ErrNotWritable):
		return "not_writable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case strings.Contains(err.Error(), "panic:"):
		return "panic"
	default:
		return "resolver"
	}
}
