package stan

// Hooks observes registry activity. Implementations must be safe for
// concurrent use and must not call back into the registry: Resolve and its
// returned function may run with the registry lock held.
type Hooks interface {
	// Resolve is called before a resolver runs. The returned function is
	// called when it returns, with the resolution error if any.
	Resolve(info StateInfo) func(err error)

	// Commit is called after a state's value changed.
	Commit(info StateInfo)

	// Notify is called before the listeners of a state fire.
	Notify(info StateInfo, listeners int)
}

type nopHooks struct{}

func (nopHooks) Resolve(StateInfo) func(error) { return func(error) {} }
func (nopHooks) Commit(StateInfo)              {}
func (nopHooks) Notify(StateInfo, int)         {}

// multiHooks fans every call out to each hook in order.
type multiHooks []Hooks

func (m multiHooks) Resolve(info StateInfo) func(error) {
	done := make([]func(error), len(m))
	for i, h := range m {
		done[i] = h.Resolve(info)
	}
	return func(err error) {
		for _, fn := range done {
			fn(err)
		}
	}
}

func (m multiHooks) Commit(info StateInfo) {
	for _, h := range m {
		h.Commit(info)
	}
}

func (m multiHooks) Notify(info StateInfo, listeners int) {
	for _, h := range m {
		h.Notify(info, listeners)
	}
}
