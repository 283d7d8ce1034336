package stan

import "fmt"

// Resolver computes a derived value. Dependencies are read through ctx,
// which records them for invalidation.
type Resolver[T any] func(ctx *Context) (T, error)

// Updater defines a write to a derived cell in terms of writes to other
// cells. ctx is writable: Write may be called on any descriptor.
type Updater[T any] func(ctx *Context, value T) error

// Derived is a computed cell. It has no storage of its own: its value is
// whatever its resolver returns, and writes go through its updater.
type Derived[T any] struct {
	id      uint64
	resolve Resolver[T]
	update  Updater[T]
	opts    cellOptions
}

// NewDerived creates a derived descriptor. updater may be nil, in which
// case Set fails with *WriteWithoutUpdaterError.
func NewDerived[T any](resolver Resolver[T], updater Updater[T], opts ...Option) *Derived[T] {
	if resolver == nil {
		panic("stan: NewDerived requires a resolver")
	}
	return &Derived[T]{
		id:      nextID(),
		resolve: resolver,
		update:  updater,
		opts:    applyOptions(opts),
	}
}

// Kind returns KindDerived.
func (d *Derived[T]) Kind() Kind { return KindDerived }

// DebugID returns the configured debug ID or "derived-<id>".
func (d *Derived[T]) DebugID() string {
	if d.opts.debugID != "" {
		return d.opts.debugID
	}
	return fmt.Sprintf("derived-%d", d.id)
}

// Writable reports whether the descriptor has an updater.
func (d *Derived[T]) Writable() bool { return d.update != nil }

func (d *Derived[T]) identity() (uint64, []any) { return d.id, nil }

func (d *Derived[T]) typed() (v T) { return }

func (d *Derived[T]) definition() *cellDef {
	return &cellDef{
		kind:    KindDerived,
		debugID: d.DebugID(),
		check:   checkType[T],
		resolve: eraseResolver(d.resolve),
		update:  eraseUpdater(d.update),
		async:   d.opts.async,
		equal:   d.opts.equal,
	}
}
