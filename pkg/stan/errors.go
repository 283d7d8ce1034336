package stan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRegistryClosed is returned by every Registry operation after Close.
var ErrRegistryClosed = errors.New("stan: registry closed")

// ErrNotWritable is returned when Write is called from a resolver context.
// Only updaters and Registry.Update receive writable contexts.
var ErrNotWritable = errors.New("stan: context is read-only")

var errNilResolver = errors.New("stan: keyed descriptor has no resolver")

// ResolutionError reports that a resolver returned an error, panicked, or
// awaited a dependency that failed. It is never cached: the next access
// retries the resolution. Every caller waiting on the same resolution
// receives the same *ResolutionError.
type ResolutionError struct {
	State   uint64 // AtomState ID within its registry
	DebugID string // descriptor debug ID
	Err     error  // underlying error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("stan: resolving %s: %v", e.DebugID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// CycleError reports a resolution that waits, directly or transitively, on
// a state which is itself waiting on it.
type CycleError struct {
	Path []string // debug IDs, first and last are the same state
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "stan: dependency cycle: " + strings.Join(e.Path, " -> ")
}

// WriteWithoutUpdaterError is returned by Set on a derived, selector or
// family descriptor created without an updater, or on a store atom without
// a dispatch function.
type WriteWithoutUpdaterError struct {
	DebugID string
	Kind    Kind
}

// Error implements the error interface.
func (e *WriteWithoutUpdaterError) Error() string {
	return fmt.Sprintf("stan: %s %s has no updater", e.Kind, e.DebugID)
}

// TypeError is returned when a value does not match a descriptor's type.
type TypeError struct {
	Want string
	Got  string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("stan: value of type %s, want %s", e.Got, e.Want)
}

// resolutionError wraps err for st unless it already describes a failure
// further down the graph.
func resolutionError(st *AtomState, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	var ce *CycleError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrRegistryClosed) {
		return err
	}
	return &ResolutionError{State: st.id, DebugID: st.def.debugID, Err: err}
}

// panicError converts a recovered panic value into an error.
func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}
