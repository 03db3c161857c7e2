package redo

// Store persists failed tasks and exposes a time-ordered ready view over
// those in StateFailed, keyed by (NextRunTime, ID) ascending.
//
// Implementations must be internally synchronized: the wrapper calls Put and
// Remove from caller goroutines while the engine's worker calls TakeReady
// and PeekNext.
type Store interface {
	// Put upserts a task by ID. When the ID is UnassignedID the store
	// assigns a fresh monotonically increasing identifier and sets it on
	// the task. A task in StateFailed (re)enters the ready view, replacing
	// any prior entry for the same ID; other states remain discoverable
	// via All only.
	Put(t *Task) error

	// TakeReady returns the earliest-ready task whose NextRunTime is at
	// or before now, removing it from the ready view. It returns
	// (nil, nil) when the ready view is empty or its head is scheduled in
	// the future. Crash-durable implementations may leave the record in
	// the ready view until a subsequent Put or Remove resolves it: the
	// single retry worker never takes again before resolving.
	TakeReady() (*Task, error)

	// PeekNext returns, without removing, the earliest task in the ready
	// view regardless of whether it is due yet, or (nil, nil).
	PeekNext() (*Task, error)

	// Remove deletes a task by ID from both the task table and the ready
	// view. Removing an unknown ID is a no-op.
	Remove(id int64) error

	// All returns every task known to the store, in no particular order.
	All() ([]*Task, error)
}
