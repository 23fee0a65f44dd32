package dbus

import "sync/atomic"

// serialAllocator hands out message serials: a monotonically
// increasing counter, starting at 1, since the D-Bus specification
// forbids serial 0. [Dial] shares one allocator across every Conn in
// the process.
type serialAllocator struct {
	next atomic.Uint32
}

func newSerialAllocator() *serialAllocator {
	a := &serialAllocator{}
	a.next.Store(1)
	return a
}

// allocate returns the next serial to use, and arms the counter for the
// one after that. Wraparound back through 0 is skipped, so the
// invariant "serial is never 0" holds even after 2^32-1 messages.
func (a *serialAllocator) allocate() uint32 {
	for {
		v := a.next.Add(1) - 1
		if v != 0 {
			return v
		}
	}
}
