package instrument

import (
	"context"
	"fmt"

	"github.com/vango-dev/stan/pkg/stan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for stan registries.
const defaultTracerName = "stan"

// OTelConfig configures the OpenTelemetry hooks.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "stan").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider.
	TracerProvider trace.TracerProvider

	// TraceNotify also records a span for each listener notification.
	TraceNotify bool

	// Filter determines which states to trace.
	// If nil, all states are traced.
	Filter func(info stan.StateInfo) bool
}

// OTelOption configures the OpenTelemetry hooks.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithTraceNotify enables spans for listener notifications.
func WithTraceNotify(enabled bool) OTelOption {
	return func(c *OTelConfig) {
		c.TraceNotify = enabled
	}
}

// WithStateFilter sets a filter function for traced states.
func WithStateFilter(filter func(info stan.StateInfo) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// Tracing is a stan.Hooks that records a span per resolution.
type Tracing struct {
	config OTelConfig
	tracer trace.Tracer
}

var _ stan.Hooks = (*Tracing)(nil)

// OpenTelemetry creates hooks that trace every resolver run.
//
// Each span is named "stan.resolve <debug id>" and carries the registry,
// state, kind and version as attributes. Failed resolutions record the
// error and set an error status.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before creating
// registries.
func OpenTelemetry(opts ...OTelOption) *Tracing {
	config := OTelConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{config: config, tracer: tp.Tracer(config.TracerName)}
}

// Resolve implements stan.Hooks.
func (t *Tracing) Resolve(info stan.StateInfo) func(err error) {
	if t.config.Filter != nil && !t.config.Filter(info) {
		return func(error) {}
	}
	_, span := t.tracer.Start(
		context.Background(),
		fmt.Sprintf("stan.resolve %s", info.DebugID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(stateAttributes(info)...),
	)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// Commit implements stan.Hooks. Commits are not traced.
func (t *Tracing) Commit(stan.StateInfo) {}

// Notify implements stan.Hooks.
func (t *Tracing) Notify(info stan.StateInfo, listeners int) {
	if !t.config.TraceNotify {
		return
	}
	if t.config.Filter != nil && !t.config.Filter(info) {
		return
	}
	attrs := append(stateAttributes(info), attribute.Int("stan.listeners", listeners))
	_, span := t.tracer.Start(
		context.Background(),
		fmt.Sprintf("stan.notify %s", info.DebugID),
		trace.WithAttributes(attrs...),
	)
	span.End()
}

func stateAttributes(info stan.StateInfo) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stan.registry", info.Registry),
		attribute.String("stan.state", info.DebugID),
		attribute.String("stan.kind", info.Kind),
		attribute.Bool("stan.async", info.Async),
		attribute.Int64("stan.version", int64(info.Version)),
	}
}
