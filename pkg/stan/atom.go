package stan

import "fmt"

// Atom is a root, mutable state cell with no dependencies.
type Atom[T any] struct {
	id      uint64
	initial T
	opts    cellOptions
}

// NewAtom creates an atom descriptor holding initial until it is set.
func NewAtom[T any](initial T, opts ...Option) *Atom[T] {
	return &Atom[T]{
		id:      nextID(),
		initial: initial,
		opts:    applyOptions(opts),
	}
}

// Kind returns KindAtom.
func (a *Atom[T]) Kind() Kind { return KindAtom }

// DebugID returns the configured debug ID or "atom-<id>".
func (a *Atom[T]) DebugID() string {
	if a.opts.debugID != "" {
		return a.opts.debugID
	}
	return fmt.Sprintf("atom-%d", a.id)
}

// Initial returns the value a new AtomState starts with.
func (a *Atom[T]) Initial() T { return a.initial }

func (a *Atom[T]) identity() (uint64, []any) { return a.id, nil }

func (a *Atom[T]) typed() (v T) { return }

func (a *Atom[T]) definition() *cellDef {
	return &cellDef{
		kind:    KindAtom,
		debugID: a.DebugID(),
		initial: a.initial,
		check:   checkType[T],
		equal:   a.opts.equal,
	}
}
