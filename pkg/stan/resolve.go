package stan

import (
	"slices"
	"time"
)

// load returns a flight carrying the current value of st, starting a
// resolution when st is unresolved, failed in an earlier transaction, or
// stale. A state resolving already is joined, not restarted.
//
// r.mu must be held. It may be released and re-acquired while a
// synchronous resolver waits on an asynchronous dependency.
func (r *Registry) load(st *AtomState, caller *Context, tx *txn) *flight {
	switch st.def.kind {
	case KindAtom:
		return settledFlight(st.value, nil, st.version)
	case KindStore:
		r.ensureStore(st)
		return settledFlight(st.value, nil, st.version)
	}

	switch st.status {
	case StatusResolving:
		return st.flight
	case StatusResolved:
		if !r.stale(st, caller, tx) {
			return settledFlight(st.value, nil, st.version)
		}
	case StatusError:
		if st.failedIn == tx && !r.stale(st, caller, tx) {
			return settledFlight(nil, st.err, st.version)
		}
	}
	// stale may have released the lock.
	if st.status == StatusResolving {
		return st.flight
	}
	return r.start(st, caller, tx)
}

// stale reports whether a dependency of st changed since st last read it.
// Synchronous derived dependencies are brought up to date first, so that a
// dependency recomputing to an equal value does not invalidate st.
// Asynchronous ones are only validated; if they need to resolve again, st
// is treated as stale and re-reads them.
func (r *Registry) stale(st *AtomState, caller *Context, tx *txn) bool {
	for _, id := range st.deps {
		dep := r.state(id)
		if dep.def.derived() {
			switch {
			case dep.status == StatusResolving:
				return true
			case dep.def.async:
				if dep.status != StatusResolved || r.stale(dep, caller, tx) {
					return true
				}
			default:
				r.load(dep, caller, tx)
			}
		} else if dep.def.kind == KindStore {
			r.ensureStore(dep)
		}
		seen, ok := st.seen[id]
		if !ok || dep.version != seen {
			return true
		}
	}
	return false
}

// start begins a new resolution of st. Synchronous resolvers run inline and
// the returned flight is settled; asynchronous ones run on a new goroutine.
func (r *Registry) start(st *AtomState, caller *Context, tx *txn) *flight {
	fl := newFlight()
	st.status = StatusResolving
	st.flight = fl
	st.rerun = false
	info := st.info()

	if st.def.async {
		ctx := r.newContext(st, nil, false, false)
		r.logger.Debug("resolving async", "state", st.def.debugID)
		go r.runAsync(st, fl, ctx, info)
		return fl
	}

	if caller != nil && caller.owner != nil {
		r.addWait(caller.owner.id, st.id)
		defer r.removeWait(caller.owner.id, st.id)
	}
	ctx := r.newContext(st, tx, true, false)
	v, err := r.invoke(st, ctx, info)
	r.settle(tx, st, fl, ctx, v, err)
	// A dependency may have changed while the resolver was suspended on an
	// asynchronous read.
	if st.rerun && st.refs > 0 && !r.closed {
		return r.load(st, caller, tx)
	}
	return fl
}

func (r *Registry) runAsync(st *AtomState, fl *flight, ctx *Context, info StateInfo) {
	v, err := r.invoke(st, ctx, info)

	r.mu.Lock()
	tx := r.begin()
	r.settle(tx, st, fl, ctx, v, err)
	if st.rerun && st.refs > 0 && !r.closed {
		r.load(st, nil, tx)
	}
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
}

// invoke runs the resolver of st, converting panics into errors.
func (r *Registry) invoke(st *AtomState, ctx *Context, info StateInfo) (v any, err error) {
	if st.def.resolve == nil {
		return nil, &ResolutionError{State: st.id, DebugID: st.def.debugID, Err: errNilResolver}
	}
	done := r.hooks.Resolve(info)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
		done(err)
		if err != nil {
			r.logger.Debug("resolution failed", "state", info.DebugID, "error", err)
			return
		}
		r.logger.Debug("resolved", "state", info.DebugID, "duration", time.Since(start))
	}()
	return st.def.resolve(ctx)
}

// settle commits the outcome of a resolution and releases its waiters.
// A failure discards the cached value; it is never cached itself.
func (r *Registry) settle(tx *txn, st *AtomState, fl *flight, ctx *Context, v any, err error) {
	st.flight = nil
	ctx.mu.Lock()
	deps, seen := ctx.deps, ctx.seen
	ctx.mu.Unlock()
	r.rewire(st, deps)
	st.seen = seen

	if err != nil {
		st.status = StatusError
		st.err = resolutionError(st, err)
		st.value, st.hasValue = nil, false
		st.failedIn = tx
		r.bump(tx, st)
		fl.settle(nil, st.err, st.version)
		return
	}

	changed := !st.hasValue || !st.def.equal(st.value, v)
	st.status = StatusResolved
	st.value, st.hasValue, st.err = v, true, nil
	st.failedIn = nil
	if changed {
		r.bump(tx, st)
	}
	fl.settle(v, nil, st.version)
}

// rewire replaces the recorded dependency set of st, keeping reverse edges
// and activation counts in step with it.
func (r *Registry) rewire(st *AtomState, deps []uint64) {
	for _, id := range st.deps {
		if slices.Contains(deps, id) {
			continue
		}
		dep := r.state(id)
		dep.removeDependent(st.id)
		if st.refs > 0 {
			r.deactivate(dep)
		}
	}
	for _, id := range deps {
		if slices.Contains(st.deps, id) {
			continue
		}
		dep := r.state(id)
		dep.addDependent(st.id)
		if st.refs > 0 {
			r.activate(dep)
		}
	}
	st.deps = deps
}

// activate adds one active reference to st; the first one activates its
// dependencies in turn.
func (r *Registry) activate(st *AtomState) {
	st.refs++
	if st.refs != 1 {
		return
	}
	for _, id := range st.deps {
		r.activate(r.state(id))
	}
}

// deactivate drops one active reference. At zero st falls back to pull
// mode and keeps its cached value.
func (r *Registry) deactivate(st *AtomState) {
	if st.refs == 0 {
		return
	}
	st.refs--
	if st.refs != 0 {
		return
	}
	for _, id := range st.deps {
		r.deactivate(r.state(id))
	}
}

func (r *Registry) addWait(from, to uint64) {
	m := r.waits[from]
	if m == nil {
		m = make(map[uint64]int)
		r.waits[from] = m
	}
	m[to]++
}

func (r *Registry) removeWait(from, to uint64) {
	m := r.waits[from]
	if m == nil {
		return
	}
	if m[to]--; m[to] <= 0 {
		delete(m, to)
	}
	if len(m) == 0 {
		delete(r.waits, from)
	}
}

// checkCycle returns a *CycleError when waiting on target from owner would
// close a cycle in the waits-for graph.
func (r *Registry) checkCycle(owner, target *AtomState) error {
	if owner == target {
		return &CycleError{Path: []string{owner.def.debugID, owner.def.debugID}}
	}
	path := r.waitPath(target.id, owner.id, map[uint64]bool{})
	if path == nil {
		return nil
	}
	names := []string{owner.def.debugID}
	for _, id := range path {
		names = append(names, r.state(id).def.debugID)
	}
	return &CycleError{Path: names}
}

// waitPath returns the waits-for path from..to, or nil.
func (r *Registry) waitPath(from, to uint64, visited map[uint64]bool) []uint64 {
	if from == to {
		return []uint64{to}
	}
	if visited[from] {
		return nil
	}
	visited[from] = true
	for next := range r.waits[from] {
		if rest := r.waitPath(next, to, visited); rest != nil {
			return append([]uint64{from}, rest...)
		}
	}
	return nil
}

// write applies value to st within tx.
func (r *Registry) write(tx *txn, st *AtomState, value any) error {
	switch st.def.kind {
	case KindAtom:
		if err := st.def.check(value); err != nil {
			return err
		}
		if st.def.equal(st.value, value) {
			return nil
		}
		st.value = value
		r.bump(tx, st)
		return nil
	case KindStore:
		return r.dispatchStore(tx, st, value)
	}

	if st.def.update == nil {
		return &WriteWithoutUpdaterError{DebugID: st.def.debugID, Kind: st.def.kind}
	}
	if err := st.def.check(value); err != nil {
		return err
	}
	if st.writing {
		return &CycleError{Path: []string{st.def.debugID, st.def.debugID}}
	}
	st.writing = true
	defer func() { st.writing = false }()
	ctx := r.newContext(nil, tx, true, true)
	return guard(func() error { return st.def.update(ctx, value) })
}

// ensureStore attaches a store atom to its store on first access.
func (r *Registry) ensureStore(st *AtomState) {
	if st.status != StatusUnresolved {
		return
	}
	s := st.def.store
	if s.subscribe != nil {
		st.muted.Store(true)
		st.storeUnsub = s.subscribe(func() { r.storeChanged(st) })
		st.muted.Store(false)
	}
	st.value = s.get()
	st.hasValue = true
	st.status = StatusResolved
	r.rev++
	st.version = r.rev
}

// storeChanged is the listener registered with an external store.
// Notifications raised while the registry itself subscribes or dispatches
// are ignored; the registry re-reads the store afterwards.
func (r *Registry) storeChanged(st *AtomState) {
	if st.muted.Load() {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	tx := r.begin()
	r.refreshStore(tx, st)
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
}

func (r *Registry) refreshStore(tx *txn, st *AtomState) {
	r.ensureStore(st)
	v := st.def.store.get()
	if st.def.equal(st.value, v) {
		return
	}
	st.value = v
	r.bump(tx, st)
}

func (r *Registry) dispatchStore(tx *txn, st *AtomState, value any) error {
	s := st.def.store
	if s.dispatch == nil {
		return &WriteWithoutUpdaterError{DebugID: st.def.debugID, Kind: st.def.kind}
	}
	r.ensureStore(st)
	st.muted.Store(true)
	err := guard(func() error { return s.dispatch(value) })
	st.muted.Store(false)
	r.refreshStore(tx, st)
	return err
}

// guard runs fn, converting a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return fn()
}
