package stan

import "context"

// closedDone is shared by every flight that settled synchronously.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// flight is one resolution of one AtomState. Its fields other than done
// are written once, before done is closed.
type flight struct {
	done  chan struct{}
	value any
	err   error
	stamp uint64 // version of the state when the flight settled
}

func newFlight() *flight {
	return &flight{done: make(chan struct{})}
}

func settledFlight(value any, err error, stamp uint64) *flight {
	return &flight{done: closedDone, value: value, err: err, stamp: stamp}
}

func (f *flight) settle(value any, err error, stamp uint64) {
	f.value, f.err, f.stamp = value, err, stamp
	close(f.done)
}

func (f *flight) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Future is the pending value of a resolution. Futures returned for
// synchronous resolutions are already settled.
type Future[T any] struct {
	fl  *flight
	err error

	// ctx and dep are set for futures obtained inside a resolver; awaiting
	// them records the dependency and releases the registry lock.
	ctx *Context
	dep *AtomState
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	if f.err != nil {
		return closedDone
	}
	return f.fl.done
}

// Peek returns the settled value without waiting. ok is false while the
// resolution is still in flight.
func (f *Future[T]) Peek() (value T, err error, ok bool) {
	if f.err != nil {
		return value, f.err, true
	}
	if !f.fl.settled() {
		return value, nil, false
	}
	value, err = f.result()
	return value, err, true
}

// Await waits for the future to settle or for c to be done. Cancelling c
// abandons the wait; the resolution itself keeps running.
func (f *Future[T]) Await(c context.Context) (T, error) {
	var zero T
	if f.err != nil {
		return zero, f.err
	}
	if f.ctx != nil {
		if err := f.ctx.waitAll(c, []*AtomState{f.dep}, []*flight{f.fl}); err != nil {
			return zero, err
		}
		return f.result()
	}
	select {
	case <-f.fl.done:
	case <-c.Done():
		return zero, c.Err()
	}
	return f.result()
}

func (f *Future[T]) result() (T, error) {
	if f.fl.err != nil {
		var zero T
		return zero, f.fl.err
	}
	return cast[T](f.fl.value)
}
