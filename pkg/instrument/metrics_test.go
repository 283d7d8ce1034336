package instrument

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/stan/pkg/stan"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusRecordsResolutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg))
	r := stan.NewRegistry(stan.WithHooks(m))

	n := stan.NewAtom(1, stan.WithDebugID("n"))
	sq := stan.NewDerived(func(ctx *stan.Context) (int, error) {
		v, err := stan.Read(ctx, n)
		return v * v, err
	}, nil, stan.WithDebugID("sq"))
	bad := stan.NewDerived(func(ctx *stan.Context) (int, error) {
		return 0, errors.New("bad")
	}, nil, stan.WithDebugID("bad"))

	unsubscribe, err := r.Subscribe(sq, func() {})
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()
	stan.Set(r, n, 2)
	stan.Get(r, bad)

	if got := metricCounterValue(t, m.resolutions.WithLabelValues("sq", "success")); got != 2 {
		t.Errorf("resolutions_total(sq, success)=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.resolutions.WithLabelValues("bad", "error")); got != 1 {
		t.Errorf("resolutions_total(bad, error)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.errors.WithLabelValues("bad", "resolver")); got != 1 {
		t.Errorf("resolution_errors_total(bad, resolver)=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.duration.WithLabelValues("sq")); got != 2 {
		t.Errorf("resolve_duration_seconds(sq) count=%v, want 2", got)
	}
	if got := metricCounterValue(t, m.commits.WithLabelValues("atom")); got != 1 {
		t.Errorf("commits_total(atom)=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.notifications.WithLabelValues("sq")); got != 1 {
		t.Errorf("notifications_total(sq)=%v, want 1", got)
	}
	if got := metricGaugeValue(t, m.resolving); got != 0 {
		t.Errorf("resolving=%v, want 0", got)
	}
}

func TestPrometheusFamilyLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := Prometheus(WithRegistry(reg), WithNamespace("app"))
	r := stan.NewRegistry(stan.WithHooks(m))

	square := stan.NewFamily(func(n int) stan.Resolver[int] {
		return func(*stan.Context) (int, error) { return n * n, nil }
	}, nil, stan.WithDebugID("square"))

	for i := 0; i < 3; i++ {
		stan.Get(r, square(i))
	}

	if got := metricCounterValue(t, m.resolutions.WithLabelValues("square", "success")); got != 3 {
		t.Errorf("resolutions_total(square)=%v, want 3", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "app_resolutions_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected app_resolutions_total to be registered")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&stan.CycleError{Path: []string{"a", "a"}}, "cycle"},
		{&stan.TypeError{Want: "int", Got: "string"}, "type"},
		{stan.ErrRegistryClosed, "closed"},
		{stan.ErrNotWritable, "not_writable"},
		{errors.New("panic: boom"), "panic"},
		{errors.New("boom"), "resolver"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v)=%s, want %s", tt.err, got, tt.want)
		}
	}
}
