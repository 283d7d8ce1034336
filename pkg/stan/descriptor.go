package stan

// Kind identifies the flavour of a descriptor.
type Kind uint8

const (
	KindAtom     Kind = iota + 1 // root mutable cell
	KindDerived                  // computed cell
	KindSelector                 // derived cell keyed by an argument tuple
	KindFamily                   // derived cell keyed by a single key
	KindStore                    // adapter over an external store
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAtom:
		return "atom"
	case KindDerived:
		return "derived"
	case KindSelector:
		return "selector"
	case KindFamily:
		return "family"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Descriptor is the untyped view of every cell descriptor.
// Descriptors are immutable and may be shared across registries.
type Descriptor interface {
	// Kind returns the descriptor flavour.
	Kind() Kind

	// DebugID returns a human readable name used in logs, metrics and errors.
	DebugID() string

	// identity returns the descriptor ID, or the creator ID and argument
	// tuple for keyed descriptors.
	identity() (id uint64, args []any)

	// definition builds the type-erased behaviour for a new AtomState.
	definition() *cellDef
}

// Readable is a descriptor whose value has type T.
type Readable[T any] interface {
	Descriptor
	typed() T
}

// cellDef is the type-erased behaviour of one materialized cell.
type cellDef struct {
	kind    Kind
	debugID string

	initial any
	check   func(v any) error

	resolve func(ctx *Context) (any, error)
	update  func(ctx *Context, value any) error
	async   bool

	equal func(a, b any) bool
	store *storeDef
}

func (d *cellDef) derived() bool {
	return d.kind == KindDerived || d.kind == KindSelector || d.kind == KindFamily
}

// Option configures a descriptor.
type Option func(*cellOptions)

type cellOptions struct {
	debugID string
	async   bool
	equal   func(a, b any) bool
}

// WithDebugID names a descriptor. Family members append "--<key>".
func WithDebugID(id string) Option {
	return func(o *cellOptions) {
		o.debugID = id
	}
}

// Async makes a derived, selector or family resolver run on its own
// goroutine. Reads of such cells return pending Futures.
func Async() Option {
	return func(o *cellOptions) {
		o.async = true
	}
}

// WithEqual sets the function deciding whether a new value differs from
// the cached one. Dependents are invalidated and listeners notified only
// when it returns false.
func WithEqual[T any](fn func(a, b T) bool) Option {
	return func(o *cellOptions) {
		if fn == nil {
			o.equal = nil
			return
		}
		o.equal = func(a, b any) bool {
			av, aerr := cast[T](a)
			bv, berr := cast[T](b)
			if aerr != nil || berr != nil {
				return false
			}
			return fn(av, bv)
		}
	}
}

func applyOptions(opts []Option) cellOptions {
	var o cellOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.equal == nil {
		o.equal = defaultEquals
	}
	return o
}

func checkType[T any](v any) error {
	_, err := cast[T](v)
	return err
}

func eraseResolver[T any](fn Resolver[T]) func(ctx *Context) (any, error) {
	if fn == nil {
		return nil
	}
	return func(ctx *Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func eraseUpdater[T any](fn Updater[T]) func(ctx *Context, value any) error {
	if fn == nil {
		return nil
	}
	return func(ctx *Context, value any) error {
		v, err := cast[T](value)
		if err != nil {
			return err
		}
		return fn(ctx, v)
	}
}
