package scenario

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/pkg/stan"
)

// outputWriter records whether two writes ever overlapped.
type outputWriter struct {
	active     atomic.Int32
	overlapped atomic.Bool

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if w.active.Add(1) > 1 {
		w.overlapped.Store(true)
	}
	defer w.active.Add(-1)
	time.Sleep(50 * time.Microsecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *outputWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func runFile(t *testing.T, path string) (*Runner, *outputWriter) {
	t.Helper()
	s, err := Load(path)
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	r := stan.NewRegistry()
	t.Cleanup(r.Close)
	out := &outputWriter{}
	runner := NewRunner(g, r, nil, out)
	require.NoError(t, runner.Run(context.Background()))
	runner.Close()
	return runner, out
}

func TestRunCounters(t *testing.T) {
	runner, w := runFile(t, "testdata/counters.json")
	out := w.String()

	if got := runner.Notified("sum"); got != 2 {
		t.Errorf("sum notified %d times, want 2", got)
	}
	for _, want := range []string{
		"get sum = 3\n",
		"get sum = 4\n",
		"notify sum\n",
		"get scaled/10 = 40\n",
		"unsubscribe sum\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, w := runFile(t, "testdata/async.json")
	if out := w.String(); !strings.Contains(out, "get double = 42\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunAsyncListenersDoNotInterleaveOutput(t *testing.T) {
	defer goleak.VerifyNone(t)
	s, err := Parse([]byte(`{
		"atoms": {"n": 1},
		"derived": {
			"a": {"formula": "get(\"n\") + 1", "async": true},
			"b": {"formula": "get(\"n\") + 2", "async": true},
			"c": {"formula": "get(\"n\") + 3", "async": true}
		}
	}`), "")
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	r := stan.NewRegistry()
	defer r.Close()
	out := &outputWriter{}
	runner := NewRunner(g, r, nil, out)
	defer runner.Close()
	ctx := context.Background()

	for _, cell := range []string{"a", "b", "c"} {
		require.NoError(t, runner.Step(ctx, Step{Op: OpSubscribe, Cell: cell}))
	}
	for i := 2; i < 12; i++ {
		require.NoError(t, runner.Step(ctx, Step{Op: OpSet, Cell: "n", Value: float64(i)}))
		require.NoError(t, runner.Step(ctx, Step{Op: OpGet, Cell: "a"}))
	}
	require.NoError(t, runner.Settle(ctx))

	if out.overlapped.Load() {
		t.Error("runner output writes overlapped")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `{"atoms": {`, "S011"},
		{"empty name", `{"atoms": {"": 1}}`, "invalid"},
		{"slash", `{"atoms": {"a/b": 1}}`, "invalid"},
		{"duplicate", `{"atoms": {"a": 1}, "derived": {"a": {"formula": "1"}}}`, "both"},
		{"no formula", `{"derived": {"a": {}}}`, "no formula"},
		{"engine", `{"engine": "lisp", "derived": {"a": {"formula": "1"}}}`, "lisp"},
		{"op", `{"steps": [{"op": "poke", "cell": "a"}]}`, "poke"},
		{"cell", `{"steps": [{"op": "get"}]}`, "no cell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "scenario.json")
			var se *errors.StanError
			require.True(t, stderrors.As(err, &se))
			require.Contains(t, se.Error()+"\n"+se.Detail, tt.want)
		})
	}
}

func TestParseSyntaxLocation(t *testing.T) {
	_, err := Parse([]byte("{\n  \"atoms\": {,}\n}"), "bad.json")
	var se *errors.StanError
	require.True(t, stderrors.As(err, &se))
	require.NotNil(t, se.Location)
	if se.Location.Line != 2 {
		t.Errorf("line = %d, want 2", se.Location.Line)
	}
}

func TestBuildCompileError(t *testing.T) {
	s, err := Parse([]byte(`{"derived": {"a": {"formula": "get(\"x\") +"}}}`), "")
	require.NoError(t, err)
	_, err = s.Build()
	var se *errors.StanError
	require.True(t, stderrors.As(err, &se))
	require.Equal(t, "S013", se.Code)
}

func TestDescriptor(t *testing.T) {
	s, err := Parse([]byte(`{
		"atoms": {"n": 2},
		"families": {"times": {"formula": "get(\"n\") * float(key)"}}
	}`), "")
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	d1, err := g.Descriptor("times/3")
	require.NoError(t, err)
	d2, err := g.Descriptor("times/3")
	require.NoError(t, err)

	r := stan.NewRegistry()
	defer r.Close()
	if r.GetAtomState(d1) != r.GetAtomState(d2) {
		t.Error("family members with the same key should share state")
	}
	v, err := stan.Get(r, d1)
	require.NoError(t, err)
	require.EqualValues(t, 6, v)

	for _, ref := range []string{"missing", "times", "missing/1"} {
		_, err := g.Descriptor(ref)
		var se *errors.StanError
		require.True(t, stderrors.As(err, &se), ref)
		require.Equal(t, "S012", se.Code, ref)
	}

	require.Equal(t, []string{"n", "times"}, g.Names())
	kind, ok := g.Kind("times")
	require.True(t, ok)
	require.Equal(t, stan.KindFamily, kind)
}

func TestFamilyUpdater(t *testing.T) {
	s, err := Parse([]byte(`{
		"engine": "cel",
		"atoms": {"a": 1.0, "b": 1.0},
		"families": {
			"cell": {
				"formula": "get(key)",
				"set": {"a": "key == 'a' ? value : get('a')", "b": "key == 'b' ? value : get('b')"}
			}
		}
	}`), "")
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	r := stan.NewRegistry()
	defer r.Close()
	runner := NewRunner(g, r, nil, nil)
	require.NoError(t, runner.Step(context.Background(), Step{Op: OpSet, Cell: "cell/b", Value: 5.0}))

	b, err := g.Descriptor("b")
	require.NoError(t, err)
	v, err := stan.Get(r, b)
	require.NoError(t, err)
	require.EqualValues(t, 5.0, v)
}

func TestStepFailures(t *testing.T) {
	s, err := Parse([]byte(`{
		"atoms": {"n": 1},
		"derived": {"bad": {"formula": "get(\"missing\")"}}
	}`), "")
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)

	r := stan.NewRegistry()
	defer r.Close()
	runner := NewRunner(g, r, nil, nil)
	ctx := context.Background()

	require.Error(t, runner.Step(ctx, Step{Op: OpGet, Cell: "n", Expect: []byte("2")}))
	require.NoError(t, runner.Step(ctx, Step{Op: OpGet, Cell: "bad", ExpectError: "S012"}))
	require.Error(t, runner.Step(ctx, Step{Op: OpGet, Cell: "n", ExpectError: "boom"}))
	require.Error(t, runner.Step(ctx, Step{Op: OpUnsubscribe, Cell: "n"}))

	require.NoError(t, runner.Step(ctx, Step{Op: OpSubscribe, Cell: "n"}))
	require.Error(t, runner.Step(ctx, Step{Op: OpSubscribe, Cell: "n"}))
	one := 1
	require.Error(t, runner.Step(ctx, Step{Op: OpGet, Cell: "n", Notified: &one}))
	runner.Close()
}
