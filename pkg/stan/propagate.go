package stan

import "slices"

// txn collects the states changed by one registry operation. Propagation
// and notification run once, when the operation finishes.
type txn struct {
	changed  []*AtomState
	marked   map[uint64]bool
	visited  map[uint64]bool
	notified map[uint64]bool
	notify   []*AtomState
}

func (r *Registry) begin() *txn {
	return &txn{}
}

// bump records a value change of st. Every change gets a fresh version so
// that dependents can tell reads before and after it apart.
func (r *Registry) bump(tx *txn, st *AtomState) {
	r.rev++
	st.version = r.rev
	r.hooks.Commit(st.info())
	if tx == nil {
		return
	}
	if tx.marked == nil {
		tx.marked = make(map[uint64]bool)
	}
	if !tx.marked[st.id] {
		tx.marked[st.id] = true
		tx.changed = append(tx.changed, st)
	}
}

// propagate walks reverse edges from every changed state. Active
// dependents are validated, which re-resolves them when a dependency they
// recorded changed; a dependent whose value changed is queued in turn. The
// walk stops at dependents whose value came out equal, and never enters
// inactive states, which are validated lazily on their next read.
func (r *Registry) propagate(tx *txn) {
	for i := 0; i < len(tx.changed); i++ {
		st := tx.changed[i]
		if st.refs == 0 || r.closed {
			continue
		}
		r.queueNotify(tx, st)
		// load may release the lock, and with it st.dependents.
		for _, id := range slices.Clone(st.dependents) {
			dep := r.state(id)
			if dep.refs == 0 {
				continue
			}
			if tx.visited == nil {
				tx.visited = make(map[uint64]bool)
			}
			if tx.visited[id] {
				continue
			}
			tx.visited[id] = true
			if dep.status == StatusResolving {
				dep.rerun = true
				continue
			}
			r.load(dep, nil, tx)
		}
	}
}

func (r *Registry) queueNotify(tx *txn, st *AtomState) {
	if len(st.listeners) == 0 {
		return
	}
	if tx.notified == nil {
		tx.notified = make(map[uint64]bool)
	}
	if tx.notified[st.id] {
		return
	}
	tx.notified[st.id] = true
	tx.notify = append(tx.notify, st)
}

// finish propagates tx and returns the listeners to call, in propagation
// order and, per state, in subscription order. r.mu must be held; the
// caller fires the listeners after releasing it.
func (r *Registry) finish(tx *txn) []func() {
	r.propagate(tx)
	var out []func()
	for _, st := range tx.notify {
		r.hooks.Notify(st.info(), len(st.listeners))
		for _, l := range st.listeners {
			out = append(out, l.fn)
		}
	}
	return out
}

// fire calls listeners outside the registry lock. A panicking listener is
// logged and does not prevent the others from running.
func (r *Registry) fire(listeners []func()) {
	for _, fn := range listeners {
		if err := guard(func() error { fn(); return nil }); err != nil {
			r.logger.Warn("listener panicked", "error", err)
		}
	}
}
