package formula

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func cells(values map[string]any) func(string) (any, error) {
	return func(name string) (any, error) {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("no cell %q", name)
		}
		return v, nil
	}
}

func number(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		t.Fatalf("expected a number, got %T(%v)", v, v)
		return 0
	}
}

func TestEnginesEvaluateGet(t *testing.T) {
	tests := []struct {
		engine string
		source string
		want   float64
	}{
		{"expr", `get("a") + get("b")`, 3},
		{"cel", `get("a") + get("b")`, 3},
		{"js", `get("a") + get("b")`, 3},
		{"expr", `get("a") * 10`, 10},
		{"js", `get("a") * 10`, 10},
		{"cel", `get("x") * 2.0`, 5},
	}
	for _, tt := range tests {
		t.Run(tt.engine+" "+tt.source, func(t *testing.T) {
			engine, err := New(tt.engine)
			require.NoError(t, err)
			require.Equal(t, tt.engine, engine.Name())

			prg, err := engine.Compile(tt.source)
			require.NoError(t, err)

			v, err := prg.Eval(Env{Get: cells(map[string]any{"a": 1, "b": 2, "x": 2.5})})
			require.NoError(t, err)
			require.Equal(t, tt.want, number(t, v))
		})
	}
}

func TestEnginesVars(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			engine, err := New(name)
			require.NoError(t, err)

			prg, err := engine.Compile(`key + "!"`, "key")
			require.NoError(t, err)

			v, err := prg.Eval(Env{Vars: map[string]any{"key": "id"}})
			require.NoError(t, err)
			require.Equal(t, "id!", v)
		})
	}
}

func TestEnginesReturnGetErrorUnchanged(t *testing.T) {
	cause := errors.New("cell failed")
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			engine, err := New(name)
			require.NoError(t, err)

			prg, err := engine.Compile(`get("broken")`)
			require.NoError(t, err)

			_, err = prg.Eval(Env{Get: func(string) (any, error) { return nil, cause }})
			require.ErrorIs(t, err, cause)
		})
	}
}

func TestEnginesCompileError(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			engine, err := New(name)
			require.NoError(t, err)

			_, err = engine.Compile(`get("a") +`)
			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			require.Equal(t, name, evalErr.Engine)

			_, err = engine.Compile("")
			require.ErrorAs(t, err, &evalErr)
		})
	}
}

func TestNewDefaultAndUnknown(t *testing.T) {
	engine, err := New("")
	require.NoError(t, err)
	require.Equal(t, Default, engine.Name())

	_, err = New("lua")
	require.ErrorIs(t, err, ErrUnknownEngine)

	require.Equal(t, []string{"cel", "expr", "js"}, Names())
}

func TestJSInterruptedByContext(t *testing.T) {
	prg, err := NewJS().Compile(`(function(){ while (true) {} })()`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := prg.Eval(Env{Context: ctx})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("js formula was not interrupted")
	}
}

func TestProgramReusable(t *testing.T) {
	prg, err := NewExpr().Compile(`get("n") * 2`)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := prg.Eval(Env{Get: cells(map[string]any{"n": i})})
		require.NoError(t, err)
		require.Equal(t, float64(i*2), number(t, v))
	}
}
