package stan

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Context is handed to resolvers and updaters. Reads through it record
// dependency edges for the resolution in progress; writes through it are
// only allowed in updaters and Registry.Update.
type Context struct {
	r     *Registry
	owner *AtomState // resolving state, nil for write contexts

	// held is set when the goroutine running with this context holds the
	// registry lock. tx is the transaction of a held context.
	held     bool
	tx       *txn
	writable bool

	mu   sync.Mutex
	deps []uint64
	seen map[uint64]uint64
}

func (r *Registry) newContext(owner *AtomState, tx *txn, held, writable bool) *Context {
	return &Context{
		r:        r,
		owner:    owner,
		tx:       tx,
		held:     held,
		writable: writable,
	}
}

// Context returns the registry's base context. It is cancelled when the
// registry is closed; long-running async resolvers should watch it.
func (x *Context) Context() context.Context {
	return x.r.base
}

// Registry returns the registry the context belongs to.
func (x *Context) Registry() *Registry {
	return x.r
}

// Read returns the value of d and records it as a dependency. It waits if
// d is resolving asynchronously.
func Read[T any](ctx *Context, d Readable[T]) (T, error) {
	return ReadAsync(ctx, d).Await(ctx.Context())
}

// ReadAsync records d as a dependency and returns its value as a Future
// without waiting, so that several asynchronous dependencies can resolve
// concurrently.
func ReadAsync[T any](ctx *Context, d Readable[T]) *Future[T] {
	fl, dep, err := ctx.load(d)
	if err != nil {
		return &Future[T]{err: err}
	}
	return &Future[T]{fl: fl, ctx: ctx, dep: dep}
}

// ReadAll reads every descriptor in deps concurrently and returns their
// values in order. It fails with the first error observed.
func ReadAll[T any](ctx *Context, deps ...Readable[T]) ([]T, error) {
	states := make([]*AtomState, len(deps))
	flights := make([]*flight, len(deps))
	for i, d := range deps {
		fl, dep, err := ctx.load(d)
		if err != nil {
			return nil, err
		}
		states[i], flights[i] = dep, fl
	}
	if err := ctx.waitAll(ctx.Context(), states, flights); err != nil {
		return nil, err
	}
	out := make([]T, len(deps))
	for i, fl := range flights {
		v, err := cast[T](fl.value)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Write sets d from inside an updater or Registry.Update. Writes to atoms
// commit immediately; listeners fire once the enclosing write finishes.
func Write[T any](ctx *Context, d Readable[T], value T) error {
	return ctx.write(d, value)
}

func (x *Context) write(d Descriptor, value any) error {
	if !x.writable {
		return ErrNotWritable
	}
	r := x.r
	if r.closed {
		return ErrRegistryClosed
	}
	return r.write(x.tx, r.stateFor(d), value)
}

// load materializes d, records it and starts or joins its resolution.
func (x *Context) load(d Descriptor) (*flight, *AtomState, error) {
	r := x.r
	if x.held {
		return x.loadHeld(d, x.tx)
	}
	r.mu.Lock()
	tx := r.begin()
	fl, dep, err := x.loadHeld(d, tx)
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
	return fl, dep, err
}

func (x *Context) loadHeld(d Descriptor, tx *txn) (*flight, *AtomState, error) {
	r := x.r
	if r.closed {
		return nil, nil, ErrRegistryClosed
	}
	dep := r.stateFor(d)
	x.record(dep)
	return r.load(dep, x, tx), dep, nil
}

// record adds dep to the dependency set of the resolution in progress.
func (x *Context) record(dep *AtomState) {
	if x.owner == nil || dep == x.owner {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.seen == nil {
		x.seen = make(map[uint64]uint64)
	}
	if _, ok := x.seen[dep.id]; !ok {
		x.deps = append(x.deps, dep.id)
	}
	x.seen[dep.id] = dep.version
}

// observe stores the version a dependency had when its value was read.
func (x *Context) observe(dep uint64, stamp uint64) {
	if x.owner == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.seen[dep]; ok {
		x.seen[dep] = stamp
	}
}

// waitAll waits for every flight to settle. While any is pending the
// registry lock is released, and the owner is recorded as waiting on each
// pending dependency so that cycles are reported instead of deadlocking.
func (x *Context) waitAll(c context.Context, deps []*AtomState, flights []*flight) error {
	pending := false
	for _, fl := range flights {
		if !fl.settled() {
			pending = true
			break
		}
	}
	if pending {
		if err := x.suspend(c, deps, flights); err != nil {
			return err
		}
	}
	for i, fl := range flights {
		x.observe(deps[i].id, fl.stamp)
	}
	for _, fl := range flights {
		if fl.err != nil {
			return fl.err
		}
	}
	return nil
}

func (x *Context) suspend(c context.Context, deps []*AtomState, flights []*flight) error {
	r := x.r
	if !x.held {
		r.mu.Lock()
	}

	var waiting []uint64
	if x.owner != nil {
		for i, fl := range flights {
			if fl.settled() {
				continue
			}
			if err := r.checkCycle(x.owner, deps[i]); err != nil {
				if !x.held {
					r.mu.Unlock()
				}
				return err
			}
		}
		for i, fl := range flights {
			if !fl.settled() {
				r.addWait(x.owner.id, deps[i].id)
				waiting = append(waiting, deps[i].id)
			}
		}
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(c)
	for _, fl := range flights {
		if fl.settled() {
			continue
		}
		g.Go(func() error {
			select {
			case <-fl.done:
				return fl.err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()

	r.mu.Lock()
	for _, id := range waiting {
		r.removeWait(x.owner.id, id)
	}
	if !x.held {
		r.mu.Unlock()
	}
	return err
}
