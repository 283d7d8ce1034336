package stan

import "fmt"

// storeDef is the type-erased triple of an external store.
type storeDef struct {
	subscribe func(listener func()) (unsubscribe func())
	get       func() any
	dispatch  func(value any) error
}

// StoreAtom bridges an externally owned store into the graph. The store
// keeps the value; the registry caches the last value it read and refreshes
// it whenever the store notifies.
type StoreAtom[T any] struct {
	id        uint64
	subscribe func(listener func()) (unsubscribe func())
	get       func() T
	dispatch  func(value T) error
	opts      cellOptions
}

// NewStoreAtom creates a store adapter. subscribe is called once per
// registry, on first access; the returned function is called by
// Registry.Close. dispatch may be nil for read-only stores.
func NewStoreAtom[T any](subscribe func(listener func()) (unsubscribe func()), get func() T, dispatch func(value T) error, opts ...Option) *StoreAtom[T] {
	if get == nil {
		panic("stan: NewStoreAtom requires a get function")
	}
	return &StoreAtom[T]{
		id:        nextID(),
		subscribe: subscribe,
		get:       get,
		dispatch:  dispatch,
		opts:      applyOptions(opts),
	}
}

// Kind returns KindStore.
func (s *StoreAtom[T]) Kind() Kind { return KindStore }

// DebugID returns the configured debug ID or "store-<id>".
func (s *StoreAtom[T]) DebugID() string {
	if s.opts.debugID != "" {
		return s.opts.debugID
	}
	return fmt.Sprintf("store-%d", s.id)
}

func (s *StoreAtom[T]) identity() (uint64, []any) { return s.id, nil }

func (s *StoreAtom[T]) typed() (v T) { return }

func (s *StoreAtom[T]) definition() *cellDef {
	def := &storeDef{
		subscribe: s.subscribe,
		get:       func() any { return s.get() },
	}
	if s.dispatch != nil {
		def.dispatch = func(value any) error {
			v, err := cast[T](value)
			if err != nil {
				return err
			}
			return s.dispatch(v)
		}
	}
	return &cellDef{
		kind:    KindStore,
		debugID: s.DebugID(),
		check:   checkType[T],
		equal:   s.opts.equal,
		store:   def,
	}
}
