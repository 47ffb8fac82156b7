package mux

import "github.com/tinyrange/ipimux/internal/cpuset"

// Backend is the driver for the one physical IPI line a mux is bound to.
// Send must raise that line on every CPU in targets. It is invoked from
// the send path on arbitrary CPUs and must be safe for concurrent use.
type Backend interface {
	Send(targets cpuset.Set) error
}

// Clearer is the optional acknowledge capability of a Backend. When a
// backend implements it, the drain path calls Clear on the receiving CPU
// before snapshotting the pending set.
//
// A backend without Clearer is a valid steady-state configuration: it
// declares that the physical condition clears itself on delivery (an
// edge-triggered doorbell, an eventfd consumed by the wait). Backends
// whose hardware latches the condition must implement Clearer or the
// line will storm.
type Clearer interface {
	Clear(cpu int)
}
