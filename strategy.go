package redo

import "time"

// Strategy computes the earliest instant at which a failed task may be
// retried. Strategies are pure functions of the task's current state; the
// engine does not assume monotonicity across calls.
type Strategy interface {
	NextRunTime(t *Task) time.Time
}

// Immediate retries as soon as the worker gets to the task.
type Immediate struct{}

func (Immediate) NextRunTime(*Task) time.Time { return AnyTime }

// FixedInterval retries a fixed duration after each failure.
type FixedInterval struct {
	Interval time.Duration
}

// NewFixedInterval returns a strategy that schedules each retry interval
// after the failure that triggered it.
func NewFixedInterval(interval time.Duration) FixedInterval {
	return FixedInterval{Interval: interval}
}

func (s FixedInterval) NextRunTime(*Task) time.Time {
	return time.Now().Add(s.Interval)
}
