package redo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateSuccess, "success"},
		{StateFailed, "failed"},
		{StateStopped, "stopped"},
		{StateInterrupted, "interrupted"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestStateFromInt(t *testing.T) {
	assert.Equal(t, StateSuccess, StateFromInt(0))
	assert.Equal(t, StateFailed, StateFromInt(1))
	assert.Equal(t, StateStopped, StateFromInt(2))
	assert.Equal(t, StateInterrupted, StateFromInt(3))
	assert.Equal(t, StateFailed, StateFromInt(99))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "idempotent", Idempotent.String())
	assert.Equal(t, "non_idempotent", NonIdempotent.String())
	assert.Equal(t, Idempotent, KindFromInt(1))
	assert.Equal(t, NonIdempotent, KindFromInt(0))
}

func TestNewTask(t *testing.T) {
	before := time.Now()
	task := NewTask("send_mail", Idempotent, []any{"to@example.com"}, map[string]any{"cc": "x"}, "send_mail", -1)
	after := time.Now()

	assert.Equal(t, UnassignedID, task.ID)
	assert.Equal(t, "send_mail", task.Name)
	assert.Equal(t, "send_mail", task.RunnerName)
	assert.Equal(t, Idempotent, task.Kind)
	assert.Equal(t, []any{"to@example.com"}, task.Args)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, -1, task.MaxRetry)
	assert.Equal(t, StateFailed, task.State)
	assert.True(t, task.NextRunTime.IsZero())

	require.False(t, task.CreateTime.Before(before))
	require.False(t, task.CreateTime.After(after))
	assert.Equal(t, task.CreateTime, task.UpdateTime)
}

func TestTask_Ready(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		nextRun time.Time
		ready   bool
	}{
		{"any time", AnyTime, true},
		{"past", now.Add(-time.Second), true},
		{"exactly now", now, true},
		{"future", now.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{NextRunTime: tt.nextRun}
			assert.Equal(t, tt.ready, task.Ready(now))
		})
	}
}

func TestTask_Before(t *testing.T) {
	now := time.Now()

	a := &Task{ID: 1, NextRunTime: now}
	b := &Task{ID: 2, NextRunTime: now}
	c := &Task{ID: 3, NextRunTime: now.Add(-time.Second)}
	anyTime := &Task{ID: 4, NextRunTime: AnyTime}

	assert.True(t, a.Before(b), "equal times break ties by ID")
	assert.False(t, b.Before(a))
	assert.True(t, c.Before(a), "earlier time wins over lower ID")
	assert.True(t, anyTime.Before(c), "the zero time sorts first")
}

func TestTask_Info(t *testing.T) {
	task := NewTask("n", NonIdempotent, nil, nil, "r", 3)
	task.ID = 7
	task.RetryCount = 2
	task.State = StateStopped

	info := task.Info()
	assert.Equal(t, int64(7), info.ID)
	assert.Equal(t, "n", info.Name)
	assert.Equal(t, "r", info.RunnerName)
	assert.Equal(t, "non_idempotent", info.Kind)
	assert.Equal(t, 2, info.RetryCount)
	assert.Equal(t, 3, info.MaxRetry)
	assert.Equal(t, "stopped", info.State)
}
