package stan

import (
	"fmt"
	"slices"
	"strings"
)

// keyedCreator is the shared identity of every descriptor returned by one
// selector or family constructor.
type keyedCreator struct {
	id     uint64
	kind   Kind
	baseID string
	build  func(args []any) *cellDef
}

// Keyed is a selector or family member: a derived descriptor identified by
// its creator and argument tuple.
type Keyed[T any] struct {
	creator *keyedCreator
	args    []any
	debugID string
}

// Kind returns KindSelector or KindFamily.
func (k *Keyed[T]) Kind() Kind { return k.creator.kind }

// DebugID returns the creator's debug ID joined with the arguments.
func (k *Keyed[T]) DebugID() string { return k.debugID }

// Args returns a copy of the argument tuple.
func (k *Keyed[T]) Args() []any { return slices.Clone(k.args) }

func (k *Keyed[T]) identity() (uint64, []any) { return k.creator.id, k.args }

func (k *Keyed[T]) typed() (v T) { return }

func (k *Keyed[T]) definition() *cellDef {
	def := k.creator.build(k.args)
	def.debugID = k.debugID
	return def
}

// NewSelector creates a family of derived cells keyed by an argument
// tuple. resolver is called with the arguments when a member is first
// materialized in a registry; updater may be nil.
//
// Arguments are matched per position: comparable values by ==, slices,
// maps, funcs, chans and pointers by identity. Any other value never
// matches, so every lookup with it materializes a new state.
func NewSelector[T any](resolver func(args ...any) Resolver[T], updater func(args ...any) Updater[T], opts ...Option) func(args ...any) *Keyed[T] {
	if resolver == nil {
		panic("stan: NewSelector requires a resolver")
	}
	o := applyOptions(opts)
	creator := &keyedCreator{id: nextID(), kind: KindSelector}
	creator.baseID = o.debugID
	if creator.baseID == "" {
		creator.baseID = fmt.Sprintf("selector-%d", creator.id)
	}
	creator.build = func(args []any) *cellDef {
		def := &cellDef{
			kind:    KindSelector,
			check:   checkType[T],
			resolve: eraseResolver(resolver(args...)),
			async:   o.async,
			equal:   o.equal,
		}
		if updater != nil {
			def.update = eraseUpdater(updater(args...))
		}
		return def
	}

	return func(args ...any) *Keyed[T] {
		args = slices.Clone(args)
		return &Keyed[T]{
			creator: creator,
			args:    args,
			debugID: selectorDebugID(creator.baseID, args),
		}
	}
}

// NewFamily creates a family of derived cells keyed by a single key,
// typically one member per item of a large collection. updater may be nil.
func NewFamily[K comparable, T any](resolver func(key K) Resolver[T], updater func(key K) Updater[T], opts ...Option) func(key K) *Keyed[T] {
	if resolver == nil {
		panic("stan: NewFamily requires a resolver")
	}
	o := applyOptions(opts)
	creator := &keyedCreator{id: nextID(), kind: KindFamily}
	creator.baseID = o.debugID
	if creator.baseID == "" {
		creator.baseID = fmt.Sprintf("family-%d", creator.id)
	}
	creator.build = func(args []any) *cellDef {
		key, _ := args[0].(K)
		def := &cellDef{
			kind:    KindFamily,
			check:   checkType[T],
			resolve: eraseResolver(resolver(key)),
			async:   o.async,
			equal:   o.equal,
		}
		if updater != nil {
			def.update = eraseUpdater(updater(key))
		}
		return def
	}

	return func(key K) *Keyed[T] {
		return &Keyed[T]{
			creator: creator,
			args:    []any{key},
			debugID: fmt.Sprintf("%s--%v", creator.baseID, key),
		}
	}
}

func selectorDebugID(base string, args []any) string {
	if len(args) == 0 {
		return base
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return base + "--" + strings.Join(parts, ",")
}

// argNode is one level of the positional argument cache of a keyed
// creator. The node reached after consuming every argument holds the
// member's state.
type argNode struct {
	state  *AtomState
	hashed map[any]*argNode
	byRef  []refEdge
}

type refEdge struct {
	arg  any
	next *argNode
}

// child returns the node for arg, creating it when create is set.
func (n *argNode) child(arg any, create bool) *argNode {
	if hashable(arg) {
		if next, ok := n.hashed[arg]; ok {
			return next
		}
		if !create {
			return nil
		}
		if n.hashed == nil {
			n.hashed = make(map[any]*argNode)
		}
		next := &argNode{}
		n.hashed[arg] = next
		return next
	}
	for _, e := range n.byRef {
		if sameReference(e.arg, arg) {
			return e.next
		}
	}
	if !create {
		return nil
	}
	next := &argNode{}
	n.byRef = append(n.byRef, refEdge{arg: arg, next: next})
	return next
}

// walk returns the node for args, creating missing levels.
func (n *argNode) walk(args []any) *argNode {
	node := n
	for _, a := range args {
		node = node.child(a, true)
	}
	return node
}
