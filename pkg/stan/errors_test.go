package stan

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorPropagation(t *testing.T) {
	r := NewRegistry()
	failing := NewDerived(func(ctx *Context) (int, error) {
		return 0, errors.New("test123")
	}, nil, WithDebugID("failing"))
	unrelated := NewAtom("fine")

	_, err := Get(r, failing)
	if err == nil || !strings.Contains(err.Error(), "test123") {
		t.Fatalf("expected test123 error from Get, got %v", err)
	}

	unsubscribe, err := r.Subscribe(failing, func() {})
	if err == nil || !strings.Contains(err.Error(), "test123") {
		t.Errorf("expected test123 error from Subscribe, got %v", err)
	}
	if unsubscribe != nil {
		t.Error("expected no unsubscribe function on failure")
	}
	if r.GetAtomState(failing).Active() {
		t.Error("failed subscription left the state active")
	}

	if v, err := Get(r, unrelated); err != nil || v != "fine" {
		t.Errorf("unrelated atom: got %q, %v", v, err)
	}
	unsub, err := r.Subscribe(unrelated, func() {})
	if err != nil {
		t.Errorf("unrelated Subscribe: %v", err)
	} else {
		unsub()
	}
}

func TestErrorWrapsCause(t *testing.T) {
	r := NewRegistry()
	cause := errors.New("cause")
	failing := NewDerived(func(ctx *Context) (int, error) {
		return 0, cause
	}, nil, WithDebugID("failing"))
	dependent := NewDerived(func(ctx *Context) (int, error) {
		return Read(ctx, failing)
	}, nil, WithDebugID("dependent"))

	_, err := Get(r, dependent)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause, got %v", err)
	}
	var rErr *ResolutionError
	if !errors.As(err, &rErr) {
		t.Fatalf("expected ResolutionError, got %T", err)
	}
	if rErr.DebugID != "failing" {
		t.Errorf("expected failure attributed to failing, got %s", rErr.DebugID)
	}
	if got := r.GetAtomState(dependent).Status(); got != StatusError {
		t.Errorf("expected dependent in error status, got %s", got)
	}
}

func TestErrorIsNotCached(t *testing.T) {
	r := NewRegistry()
	calls := 0
	flaky := NewDerived(func(ctx *Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first attempt")
		}
		return "ok", nil
	}, nil)

	if _, err := Get(r, flaky); err == nil {
		t.Fatal("expected first Get to fail")
	}
	v, err := Get(r, flaky)
	if err != nil || v != "ok" {
		t.Errorf("expected retry to succeed, got %q, %v", v, err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestErrorResolvedOnceWithinOperation(t *testing.T) {
	r := NewRegistry()
	calls := 0
	failing := NewDerived(func(ctx *Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	}, nil)
	left := NewDerived(func(ctx *Context) (int, error) { return Read(ctx, failing) }, nil)
	right := NewDerived(func(ctx *Context) (int, error) { return Read(ctx, failing) }, nil)
	both := NewDerived(func(ctx *Context) (int, error) {
		l, lerr := Read(ctx, left)
		rr, rerr := Read(ctx, right)
		return l + rr, errors.Join(lerr, rerr)
	}, nil)

	if _, err := Get(r, both); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected failing resolver to run once per operation, ran %d", calls)
	}
}

func TestErrorPanicRecovered(t *testing.T) {
	r := NewRegistry()
	panicky := NewDerived(func(ctx *Context) (int, error) {
		panic("kaboom")
	}, nil)

	_, err := Get(r, panicky)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("expected panic converted to error, got %v", err)
	}
}

func TestErrorSelfCycle(t *testing.T) {
	r := NewRegistry()
	var self *Derived[int]
	self = NewDerived(func(ctx *Context) (int, error) {
		return Read(ctx, self)
	}, nil, WithDebugID("self"))

	_, err := Get(r, self)
	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if strings.Join(cErr.Path, ",") != "self,self" {
		t.Errorf("unexpected path %v", cErr.Path)
	}
}

func TestErrorMutualCycle(t *testing.T) {
	r := NewRegistry()
	var a, b *Derived[int]
	a = NewDerived(func(ctx *Context) (int, error) { return Read(ctx, b) }, nil, WithDebugID("a"))
	b = NewDerived(func(ctx *Context) (int, error) { return Read(ctx, a) }, nil, WithDebugID("b"))

	_, err := Get(r, a)
	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if got := cErr.Error(); got != "stan: dependency cycle: b -> a -> b" {
		t.Errorf("unexpected message %q", got)
	}

	// The registry is still usable.
	ok := NewAtom(1)
	if v, err := Get(r, ok); err != nil || v != 1 {
		t.Errorf("registry unusable after cycle: %d, %v", v, err)
	}
}

func TestErrorUpdaterCycle(t *testing.T) {
	r := NewRegistry()
	var loop *Derived[int]
	loop = NewDerived(func(ctx *Context) (int, error) { return 0, nil },
		func(ctx *Context, v int) error { return Write(ctx, loop, v) },
		WithDebugID("loop"))

	err := Set(r, loop, 1)
	var cErr *CycleError
	if !errors.As(err, &cErr) {
		t.Errorf("expected CycleError, got %v", err)
	}
}

func TestErrorTypeMismatch(t *testing.T) {
	r := NewRegistry()
	n := NewAtom(1)

	err := r.GetAtomState(n).Set("one")
	var tErr *TypeError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TypeError, got %v", err)
	}
	if tErr.Want != "int" || tErr.Got != "string" {
		t.Errorf("unexpected TypeError %+v", tErr)
	}
}

func TestErrorClosedRegistry(t *testing.T) {
	r := NewRegistry()
	n := NewAtom(1)
	st := r.GetAtomState(n)
	r.Close()
	r.Close()

	if _, err := Get(r, n); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Get: expected ErrRegistryClosed, got %v", err)
	}
	if err := Set(r, n, 2); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Set: expected ErrRegistryClosed, got %v", err)
	}
	if _, err := r.Subscribe(n, func() {}); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Subscribe: expected ErrRegistryClosed, got %v", err)
	}
	if _, err := st.Get(); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("state Get: expected ErrRegistryClosed, got %v", err)
	}
	if r.GetAtomState(n) != nil {
		t.Error("expected nil state after Close")
	}
}
