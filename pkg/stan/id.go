package stan

import "sync/atomic"

// descriptorIDCounter is the source of unique descriptor IDs.
var descriptorIDCounter uint64

// nextID returns the next unique descriptor ID.
// IDs are monotonically increasing and never reused.
func nextID() uint64 {
	return atomic.AddUint64(&descriptorIDCounter, 1)
}
