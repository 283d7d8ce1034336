package stan

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Status is the resolution status of an AtomState.
type Status uint8

const (
	StatusUnresolved Status = iota // never resolved
	StatusResolving                // resolution in flight
	StatusResolved                 // value cached
	StatusError                    // last resolution failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusResolving:
		return "resolving"
	case StatusResolved:
		return "resolved"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// AtomState is the live record a Registry keeps for one descriptor.
// All fields are guarded by the registry lock.
type AtomState struct {
	id  uint64
	reg *Registry
	def *cellDef

	status   Status
	value    any
	hasValue bool
	err      error
	version  uint64 // registry revision of the last value change

	// deps are the states read by the last resolution, in first-read
	// order; seen holds the version each one had when it was read.
	deps []uint64
	seen map[uint64]uint64

	dependents []uint64
	listeners  []listener
	refs       int

	flight   *flight
	failedIn *txn
	rerun    bool
	writing  bool

	muted      atomic.Bool
	storeUnsub func()
}

type listener struct {
	id uint64
	fn func()
}

// ID returns the state's ID within its registry.
func (s *AtomState) ID() uint64 { return s.id }

// DebugID returns the descriptor's debug ID.
func (s *AtomState) DebugID() string { return s.def.debugID }

// Kind returns the descriptor kind.
func (s *AtomState) Kind() Kind { return s.def.kind }

// Registry returns the registry owning the state.
func (s *AtomState) Registry() *Registry { return s.reg }

// Status returns the current resolution status.
func (s *AtomState) Status() Status {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.status
}

// Active reports whether the state has subscribers, directly or through
// an active dependent.
func (s *AtomState) Active() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.refs > 0
}

// Get resolves the state and returns its value.
func (s *AtomState) Get() (any, error) {
	return s.reg.getState(s).Await(s.reg.base)
}

// Set writes v with the same semantics as the package-level Set.
func (s *AtomState) Set(v any) error {
	return s.reg.setState(s, v)
}

// Subscribe registers listener; see Registry.Subscribe.
func (s *AtomState) Subscribe(listener func()) (func(), error) {
	return s.reg.subscribeState(s, listener)
}

// Info returns a snapshot of the state.
func (s *AtomState) Info() StateInfo {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.snapshot()
}

// StateInfo is a point-in-time view of an AtomState.
type StateInfo struct {
	Registry   string   `json:"registry"`
	ID         uint64   `json:"id"`
	DebugID    string   `json:"debugId"`
	Kind       string   `json:"kind"`
	Status     string   `json:"status"`
	Async      bool     `json:"async,omitempty"`
	Version    uint64   `json:"version"`
	Deps       []uint64 `json:"deps,omitempty"`
	Dependents []uint64 `json:"dependents,omitempty"`
	Refs       int      `json:"refs"`
	Listeners  int      `json:"listeners"`
	Value      any      `json:"value,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// info is the cheap form passed to hooks; it omits edges and the value.
func (s *AtomState) info() StateInfo {
	in := StateInfo{
		Registry:  s.reg.id,
		ID:        s.id,
		DebugID:   s.def.debugID,
		Kind:      s.def.kind.String(),
		Status:    s.status.String(),
		Async:     s.def.async,
		Version:   s.version,
		Refs:      s.refs,
		Listeners: len(s.listeners),
	}
	if s.err != nil {
		in.Error = s.err.Error()
	}
	return in
}

func (s *AtomState) snapshot() StateInfo {
	in := s.info()
	in.Deps = slices.Clone(s.deps)
	in.Dependents = slices.Clone(s.dependents)
	if s.hasValue {
		in.Value = s.value
	}
	return in
}

func (s *AtomState) addDependent(id uint64) {
	if !slices.Contains(s.dependents, id) {
		s.dependents = append(s.dependents, id)
	}
}

func (s *AtomState) removeDependent(id uint64) {
	if i := slices.Index(s.dependents, id); i >= 0 {
		s.dependents = slices.Delete(s.dependents, i, i+1)
	}
}

// unsubscribeOnce wraps fn so repeated calls are no-ops.
func unsubscribeOnce(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
