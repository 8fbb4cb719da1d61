package watcher

import "sync/atomic"

// Status is the terminal supervision status held by a Watcher. It starts at
// Running and moves forward exactly once.
type Status int32

const (
	Running Status = iota
	Reload
	Error
	Exit
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Reload:
		return "reload"
	case Error:
		return "error"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// statusCell is a monotonic holder: only the first transition away from
// Running takes effect.
type statusCell struct {
	v atomic.Int32
}

func (c *statusCell) load() Status { return Status(c.v.Load()) }

func (c *statusCell) leave(to Status) bool {
	return c.v.CompareAndSwap(int32(Running), int32(to))
}
