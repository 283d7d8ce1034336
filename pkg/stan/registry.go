package stan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry is the coordinator of one atom graph. It owns the live state of
// every descriptor it has touched, the dependency edges between them, and
// all evaluation, invalidation and notification.
type Registry struct {
	mu sync.Mutex

	id     string
	logger *slog.Logger
	hooks  Hooks
	base   context.Context
	cancel context.CancelFunc

	// states is the arena; a state's ID is its index plus one.
	states []*AtomState
	byDesc map[uint64]*AtomState
	keyed  map[uint64]*argNode

	// waits holds the waits-for edges between resolving states.
	waits map[uint64]map[uint64]int

	rev          uint64
	nextListener uint64
	closed       bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	logger *slog.Logger
	hooks  []Hooks
	ctx    context.Context
	id     string
}

// WithLogger sets the logger. Default: a logger that discards everything.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(c *registryConfig) {
		c.logger = logger
	}
}

// WithHooks adds observers of registry activity.
func WithHooks(hooks ...Hooks) RegistryOption {
	return func(c *registryConfig) {
		for _, h := range hooks {
			if h != nil {
				c.hooks = append(c.hooks, h)
			}
		}
	}
}

// WithContext sets the parent of the registry base context handed to
// resolvers. Default: context.Background().
func WithContext(ctx context.Context) RegistryOption {
	return func(c *registryConfig) {
		c.ctx = ctx
	}
}

// WithID sets the registry ID reported in logs, hooks and snapshots.
// Default: a random UUID.
func WithID(id string) RegistryOption {
	return func(c *registryConfig) {
		c.id = id
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	r := &Registry{
		id:     cfg.id,
		logger: cfg.logger.With("registry", cfg.id),
		byDesc: make(map[uint64]*AtomState),
		keyed:  make(map[uint64]*argNode),
		waits:  make(map[uint64]map[uint64]int),
	}
	switch len(cfg.hooks) {
	case 0:
		r.hooks = nopHooks{}
	case 1:
		r.hooks = cfg.hooks[0]
	default:
		r.hooks = multiHooks(cfg.hooks)
	}
	r.base, r.cancel = context.WithCancel(cfg.ctx)
	return r
}

// ID returns the registry ID.
func (r *Registry) ID() string { return r.id }

// GetAtomState returns the live state of d, materializing it on first
// access. Equal descriptors always yield the same *AtomState. No resolver
// runs as a side effect. It returns nil after Close.
func (r *Registry) GetAtomState(d Descriptor) *AtomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.stateFor(d)
}

// stateFor looks up or materializes the state of d. r.mu must be held.
func (r *Registry) stateFor(d Descriptor) *AtomState {
	id, args := d.identity()
	switch d.Kind() {
	case KindSelector, KindFamily:
		root, ok := r.keyed[id]
		if !ok {
			root = &argNode{}
			r.keyed[id] = root
		}
		node := root.walk(args)
		if node.state == nil {
			node.state = r.materialize(d)
		}
		return node.state
	default:
		if st, ok := r.byDesc[id]; ok {
			return st
		}
		st := r.materialize(d)
		r.byDesc[id] = st
		return st
	}
}

func (r *Registry) materialize(d Descriptor) *AtomState {
	def := d.definition()
	st := &AtomState{
		id:  uint64(len(r.states)) + 1,
		reg: r,
		def: def,
	}
	if def.kind == KindAtom {
		st.status = StatusResolved
		st.value = def.initial
		st.hasValue = true
		r.rev++
		st.version = r.rev
	}
	r.states = append(r.states, st)
	r.logger.Debug("materialized state", "state", def.debugID, "kind", def.kind.String(), "id", st.id)
	return st
}

func (r *Registry) state(id uint64) *AtomState {
	return r.states[id-1]
}

// Get resolves d and returns its value, waiting for asynchronous
// resolution. Errors from the resolver are returned unchanged for every
// caller of the same resolution.
func Get[T any](r *Registry, d Readable[T]) (T, error) {
	return GetAsync(r, d).Await(r.base)
}

// GetAsync resolves d and returns its value as a Future. The future is
// already settled unless a resolver on the path is asynchronous.
func GetAsync[T any](r *Registry, d Readable[T]) *Future[T] {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Future[T]{err: ErrRegistryClosed}
	}
	st := r.stateFor(d)
	r.mu.Unlock()
	f := r.getState(st)
	return &Future[T]{fl: f.fl, err: f.err}
}

func (r *Registry) getState(st *AtomState) *Future[any] {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return &Future[any]{err: ErrRegistryClosed}
	}
	tx := r.begin()
	fl := r.load(st, nil, tx)
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
	return &Future[any]{fl: fl}
}

// Set writes value to d. Atoms store it, store atoms dispatch it, and
// derived, selector and family descriptors run their updater, failing with
// *WriteWithoutUpdaterError when there is none. Listeners of every state
// that changed fire once, after all dependents have been brought up to
// date.
func Set[T any](r *Registry, d Readable[T], value T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	st := r.stateFor(d)
	r.mu.Unlock()
	return r.setState(st, value)
}

func (r *Registry) setState(st *AtomState, value any) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	tx := r.begin()
	err := r.write(tx, st, value)
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
	return err
}

// Update runs fn as a single write transaction. fn may read and write any
// descriptor through ctx; listeners fire once fn returns. Writes made
// before fn fails are kept.
func (r *Registry) Update(fn func(ctx *Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	tx := r.begin()
	ctx := r.newContext(nil, tx, true, true)
	err := guard(func() error { return fn(ctx) })
	n := r.finish(tx)
	r.mu.Unlock()
	r.fire(n)
	return err
}

// Subscribe registers listener on d and makes d active: it is resolved
// now, kept up to date eagerly, and listener is called after every commit
// that changes its value. Dependencies are subscribed recursively, and
// re-wired whenever a resolution records a different dependency set.
//
// If the initial synchronous resolution fails, the subscription is not
// registered and the error is returned. The returned function unsubscribes;
// calling it more than once is a no-op.
func (r *Registry) Subscribe(d Descriptor, listener func()) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	st := r.stateFor(d)
	r.mu.Unlock()
	return r.subscribeState(st, listener)
}

func (r *Registry) subscribeState(st *AtomState, fn func()) (func(), error) {
	if fn == nil {
		panic("stan: Subscribe requires a listener")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	tx := r.begin()
	r.activate(st)
	fl := r.load(st, nil, tx)
	if fl.settled() && fl.err != nil {
		r.deactivate(st)
		n := r.finish(tx)
		r.mu.Unlock()
		r.fire(n)
		return nil, fl.err
	}
	n := r.finish(tx)
	r.nextListener++
	lid := r.nextListener
	st.listeners = append(st.listeners, listener{id: lid, fn: fn})
	r.mu.Unlock()
	r.fire(n)

	return unsubscribeOnce(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, l := range st.listeners {
			if l.id == lid {
				st.listeners = append(st.listeners[:i:i], st.listeners[i+1:]...)
				break
			}
		}
		r.deactivate(st)
	}), nil
}

// Snapshot returns a view of every materialized state, in creation order.
func (r *Registry) Snapshot() []StateInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateInfo, len(r.states))
	for i, st := range r.states {
		out[i] = st.snapshot()
	}
	return out
}

// Close releases the registry: the base context is cancelled, store atoms
// are detached, and every later operation fails with ErrRegistryClosed.
// Resolutions in flight settle but are no longer propagated.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	count := len(r.states)
	var unsubs []func()
	for _, st := range r.states {
		if st.storeUnsub != nil {
			unsubs = append(unsubs, st.storeUnsub)
			st.storeUnsub = nil
		}
	}
	r.mu.Unlock()

	r.cancel()
	for _, fn := range unsubs {
		fn()
	}
	r.logger.Debug("registry closed", "states", count)
}
