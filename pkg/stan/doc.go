// Package stan provides an in-process atom graph: observable state cells,
// computations derived from them, argument-keyed families of computations,
// and a Registry that lazily evaluates, memoizes, invalidates and
// republishes values as their dependencies change.
//
// # Descriptors
//
// Descriptors are immutable values describing a cell. Creating one never
// runs any code; the Registry materializes live state on first access.
//
//	count := stan.NewAtom(1)
//	doubled := stan.NewDerived(func(ctx *stan.Context) (int, error) {
//	    n, err := stan.Read(ctx, count)
//	    return n * 2, err
//	}, nil)
//
// Selectors and families are keyed descriptors. Calling the returned
// function with the same arguments yields descriptors that resolve to the
// same live state in a given Registry:
//
//	item := stan.NewFamily(func(id int) stan.Resolver[Item] {
//	    return func(ctx *stan.Context) (Item, error) {
//	        items, err := stan.Read(ctx, itemsAtom)
//	        return items[id], err
//	    }
//	}, nil)
//
// Selector arguments are matched position by position. Comparable values
// match by ==; slices, maps, funcs, chans and pointers match by identity.
// Freshly built composite values that are not comparable never match, so
// passing them as arguments defeats caching.
//
// # Registry
//
// Every read, write and subscription goes through a Registry:
//
//	r := stan.NewRegistry()
//	v, err := stan.Get(r, doubled)   // resolves lazily, memoizes
//	err = stan.Set(r, count, 2)      // invalidates dependents
//	unsubscribe, err := r.Subscribe(doubled, func() { ... })
//
// A subscribed state is active: it re-resolves eagerly when a dependency
// changes and notifies its listeners only when the recomputed value
// differs. Unsubscribed states are validated on demand.
//
// # Asynchronous Resolution
//
// Derived cells created with the Async option resolve on their own
// goroutine. GetAsync and ReadAsync return a Future; concurrent requests
// for the same in-flight resolution share one resolver invocation.
//
// # Thread Safety
//
// A Registry serialises graph work behind a single lock, released only
// while a pending Future is awaited and while listeners run. Resolvers must
// read through their Context, never through the Registry directly.
package stan
