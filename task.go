package redo

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a task.
type State int

const (
	StateSuccess     State = 0
	StateFailed      State = 1
	StateStopped     State = 2
	StateInterrupted State = 3
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// StateFromInt converts a persisted integer code to a State.
func StateFromInt(i int) State {
	if i < int(StateSuccess) || i > int(StateInterrupted) {
		return StateFailed
	}
	return State(i)
}

// Kind classifies whether a task may be retried with its original arguments.
type Kind int

const (
	// NonIdempotent tasks are retried only when the function returns a
	// RetryRequest carrying replacement arguments.
	NonIdempotent Kind = 0
	// Idempotent tasks are retried with their original arguments.
	Idempotent Kind = 1
)

func (k Kind) String() string {
	switch k {
	case NonIdempotent:
		return "non_idempotent"
	case Idempotent:
		return "idempotent"
	default:
		return "unknown"
	}
}

// KindFromInt converts a persisted integer code to a Kind.
func KindFromInt(i int) Kind {
	if i == int(Idempotent) {
		return Idempotent
	}
	return NonIdempotent
}

// FuncForm governs whether the first positional argument is treated as a
// receiver and stripped before persisting arguments.
type FuncForm int

const (
	// AutoDetect inspects the runtime symbol name of the wrapped function.
	// Method values and closures are treated as methods. Best effort only;
	// declare Function or Method when it matters.
	AutoDetect FuncForm = iota
	Function
	Method
)

// UnassignedID marks a task that has not yet been persisted.
const UnassignedID int64 = -1

// AnyTime is the "ready immediately" sentinel: the zero time sorts before
// every real instant, so a task carrying it is always dispatchable.
var AnyTime = time.Time{}

// Task is the unit of retry state. It is created by the wrapper on the
// caller's goroutine, owned by the store from Put until Remove, and mutated
// only by the wrapper and the engine.
type Task struct {
	ID          int64
	Name        string
	RunnerName  string
	Kind        Kind
	Args        []any
	Kwargs      map[string]any
	RetryCount  int
	MaxRetry    int
	CreateTime  time.Time
	UpdateTime  time.Time
	NextRunTime time.Time
	State       State
}

// NewTask builds a fresh, unpersisted failed task.
func NewTask(name string, kind Kind, args []any, kwargs map[string]any, runnerName string, maxRetry int) *Task {
	now := time.Now()
	return &Task{
		ID:          UnassignedID,
		Name:        name,
		Kind:        kind,
		Args:        args,
		Kwargs:      kwargs,
		RunnerName:  runnerName,
		RetryCount:  0,
		MaxRetry:    maxRetry,
		CreateTime:  now,
		UpdateTime:  now,
		NextRunTime: AnyTime,
		State:       StateFailed,
	}
}

// Ready reports whether the task may be dispatched at the given instant.
func (t *Task) Ready(now time.Time) bool {
	return t.NextRunTime.IsZero() || !t.NextRunTime.After(now)
}

// Before defines the ready-queue ordering: (NextRunTime, ID) ascending.
func (t *Task) Before(o *Task) bool {
	if t.NextRunTime.Equal(o.NextRunTime) {
		return t.ID < o.ID
	}
	return t.NextRunTime.Before(o.NextRunTime)
}

func (t *Task) String() string {
	return fmt.Sprintf("(id=%d, name=%s, runner_name=%s, retry_count=%d)",
		t.ID, t.Name, t.RunnerName, t.RetryCount)
}

// Info returns an introspection snapshot of the task.
func (t *Task) Info() TaskInfo {
	return TaskInfo{
		ID:          t.ID,
		Name:        t.Name,
		RunnerName:  t.RunnerName,
		Kind:        t.Kind.String(),
		RetryCount:  t.RetryCount,
		MaxRetry:    t.MaxRetry,
		State:       t.State.String(),
		CreateTime:  t.CreateTime,
		UpdateTime:  t.UpdateTime,
		NextRunTime: t.NextRunTime,
	}
}

// TaskInfo is the read-only view returned by Engine.TaskInfo.
type TaskInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	RunnerName  string    `json:"runner_name"`
	Kind        string    `json:"kind"`
	RetryCount  int       `json:"retry_count"`
	MaxRetry    int       `json:"max_retry"`
	State       string    `json:"state"`
	CreateTime  time.Time `json:"create_time"`
	UpdateTime  time.Time `json:"update_time"`
	NextRunTime time.Time `json:"next_run_time"`
}
