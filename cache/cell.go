// Package cache provides a tri-state cache cell for values fetched
// asynchronously from a simulator.
package cache

// State is the state of a Cell.
type State int

// The states of a Cell.
const (
	// Absent means there is no valid value. The previous value, if any, is
	// still served.
	Absent State = iota

	// Refreshing means a request has been issued but not answered yet.
	Refreshing

	// Filled means the value is current.
	Filled
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Refreshing:
		return "refreshing"
	case Filled:
		return "filled"
	default:
		return "unknown"
	}
}

// A Cell caches one value of type T. The zero value is an Absent cell with no
// previous value.
//
// Values are stored by pointer and are replaced, never modified, so a pointer
// returned by Get stays valid after the cell is invalidated or refilled.
// Callers must treat the pointed-to value as read-only.
//
// A Cell is not safe for concurrent use. It is meant to live inside a
// structure guarded by a single lock.
type Cell[T any] struct {
	state State
	value *T
}

// NewFilled returns a cell that already holds v.
func NewFilled[T any](v T) Cell[T] {
	return Cell[T]{state: Filled, value: &v}
}

// State returns the current state.
func (c *Cell[T]) State() State {
	return c.state
}

// Get returns the best available value. In the Absent and Refreshing states
// this is the last known value, which may be nil.
func (c *Cell[T]) Get() *T {
	return c.value
}

// FetchIfNeeded returns the best available value. If the cell is Absent, it
// moves to Refreshing and calls issue once. The issue function must arrange
// for the cell to be filled or invalidated eventually.
func (c *Cell[T]) FetchIfNeeded(issue func()) *T {
	if c.state == Absent {
		c.state = Refreshing
		issue()
	}

	return c.value
}

// Fill stores a current value.
func (c *Cell[T]) Fill(v T) {
	c.state = Filled
	c.value = &v
}

// Invalidate marks the value as outdated while keeping it as a fallback.
func (c *Cell[T]) Invalidate() {
	c.state = Absent
}
