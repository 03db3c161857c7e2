package redo

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neverSucceeds() error { return errors.New("failed") }

func TestEngine_EventualSuccess(t *testing.T) {
	e, store := newTestEngine(t)

	var counter atomic.Int32
	w := e.Do(func() error {
		if counter.Add(1) != 66 {
			return errors.New("not 66")
		}
		return nil
	}, WithRunnerName("get66"))

	e.Start(false)
	defer e.Stop()

	require.Error(t, w.Call(), "the first call fails loudly")

	require.Eventually(t, func() bool {
		return counter.Load() == 66
	}, 10*time.Second, 5*time.Millisecond, "the worker retries until the 66th invocation succeeds")

	require.Eventually(t, func() bool {
		all, err := store.All()
		return err == nil && len(all) == 0
	}, 5*time.Second, 5*time.Millisecond, "the finished task leaves the store")
}

func TestEngine_BoundedRetry(t *testing.T) {
	e, _ := newTestEngine(t)

	var counter atomic.Int32
	w := e.Do(func() error {
		counter.Add(1)
		return errors.New("always fails")
	}, WithRunnerName("bounded"), WithMaxRetry(10))

	e.Start(false)
	defer e.Stop()

	require.Error(t, w.Call())

	require.Eventually(t, func() bool {
		infos, err := e.TaskInfo()
		return err == nil && len(infos) == 1 && infos[0].State == "stopped"
	}, 10*time.Second, 5*time.Millisecond)

	// max_retry = 10 yields 10 retries: 11 invocations counting the first.
	assert.Equal(t, int32(11), counter.Load())

	infos, err := e.TaskInfo()
	require.NoError(t, err)
	assert.Equal(t, 10, infos[0].RetryCount)
}

func TestEngine_NonIdempotentRunsOnce(t *testing.T) {
	e, _ := newTestEngine(t)

	var counter atomic.Int32
	w := e.Do(func() error {
		counter.Add(1)
		return errors.New("boom")
	}, WithRunnerName("once"), WithKind(NonIdempotent))

	e.Start(false)
	defer e.Stop()

	require.Error(t, w.Call())
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), counter.Load())

	infos, err := e.TaskInfo()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestEngine_RetryRequestCarriesReplacementArguments(t *testing.T) {
	e, store := newTestEngine(t)

	var final atomic.Int32
	w := e.Do(func(n int) error {
		if n < 3 {
			return Retry(n + 1)
		}
		final.Store(int32(n))
		return nil
	}, WithRunnerName("chain"), WithKind(NonIdempotent), WithFuncForm(Function))

	e.Start(false)
	defer e.Stop()

	err := w.Call(1)
	var rr *RetryRequest
	require.ErrorAs(t, err, &rr)

	require.Eventually(t, func() bool {
		return final.Load() == 3
	}, 5*time.Second, 5*time.Millisecond, "each retry runs with the requested arguments")

	require.Eventually(t, func() bool {
		all, err := store.All()
		return err == nil && len(all) == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_RunnerNameDispatch(t *testing.T) {
	e, store := newTestEngine(t)

	var aCalls, bCalls atomic.Int32
	wa := e.Do(func() error {
		aCalls.Add(1)
		return errors.New("a fails")
	}, WithRunnerName("shared"))

	// Re-registration under the same name overwrites: retries of tasks
	// created through wa now execute this body.
	e.Do(func() error {
		if bCalls.Add(1) >= 3 {
			return nil
		}
		return errors.New("b fails")
	}, WithRunnerName("shared"))

	e.Start(false)
	defer e.Stop()

	require.Error(t, wa.Call())

	require.Eventually(t, func() bool {
		all, err := store.All()
		return err == nil && len(all) == 0 && bCalls.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), aCalls.Load(), "only the name binding is durable")
}

func TestEngine_CustomNamerVisibleInTaskInfo(t *testing.T) {
	e, _ := newTestEngine(t)

	_ = e.Do(neverSucceeds).Call()
	_ = e.Do(neverSucceeds, WithRunnerName("custom"), WithNamer(constantNamer{"CustomTask"})).Call()

	infos, err := e.TaskInfo()
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "neverSucceeds")
	assert.Contains(t, names, "CustomTask")
}

func TestEngine_FixedIntervalIsSlowerThanImmediate(t *testing.T) {
	e, _ := newTestEngine(t)

	var immediate, interval atomic.Int32
	wi := e.Do(func() error {
		immediate.Add(1)
		return errors.New("x")
	}, WithRunnerName("immediate"))
	wv := e.Do(func() error {
		interval.Add(1)
		return errors.New("x")
	}, WithRunnerName("interval"), WithStrategy(NewFixedInterval(200*time.Millisecond)))

	e.Start(false)
	defer e.Stop()

	require.Error(t, wi.Call())
	require.Error(t, wv.Call())

	require.Eventually(t, func() bool {
		return interval.Load() >= 3
	}, 10*time.Second, 10*time.Millisecond)

	assert.Greater(t, immediate.Load(), interval.Load(),
		"the immediate task retries far more often than the interval task")
}

func TestEngine_MissingRunnerInterruptsTask(t *testing.T) {
	e, _ := newTestEngine(t)

	task := NewTask("ghost", Idempotent, nil, nil, "ghost", -1)
	require.NoError(t, e.HandleFailedTask(task))

	e.Start(false)
	defer e.Stop()

	require.Eventually(t, func() bool {
		infos, err := e.TaskInfo()
		return err == nil && len(infos) == 1 && infos[0].State == "interrupted"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngine_HandleFailedTask_StateMachine(t *testing.T) {
	tests := []struct {
		name          string
		maxRetry      int
		retryCount    int
		expectedState State
		expectedCount int
	}{
		{"unbounded keeps failing", -1, 100, StateFailed, 101},
		{"under budget increments", 3, 2, StateFailed, 3},
		{"budget reached stops before increment", 3, 3, StateStopped, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			task := NewTask("t", Idempotent, nil, nil, "t", tt.maxRetry)
			task.RetryCount = tt.retryCount

			require.NoError(t, e.HandleFailedTask(task))

			assert.Equal(t, tt.expectedState, task.State)
			assert.Equal(t, tt.expectedCount, task.RetryCount)
		})
	}
}

func TestEngine_HandleFailedTask_SubstitutesNowForAnyTime(t *testing.T) {
	e, _ := newTestEngine(t)
	task := NewTask("t", Idempotent, nil, nil, "t", -1)

	before := time.Now()
	require.NoError(t, e.HandleFailedTask(task))
	after := time.Now()

	require.False(t, task.NextRunTime.IsZero(), "AnyTime is materialised as now before persisting")
	assert.False(t, task.NextRunTime.Before(before))
	assert.False(t, task.NextRunTime.After(after))
	assert.Equal(t, task.UpdateTime, task.NextRunTime)
}

func TestEngine_HandleFailedTask_UsesRegisteredStrategy(t *testing.T) {
	e, _ := newTestEngine(t)
	e.RegisterStrategy("slow", NewFixedInterval(time.Hour))

	task := NewTask("t", Idempotent, nil, nil, "slow", -1)
	require.NoError(t, e.HandleFailedTask(task))

	assert.True(t, task.NextRunTime.After(time.Now().Add(30*time.Minute)))
}

func TestEngine_SecondStartIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Start(false)
	e.Start(false)
	e.Stop()
}

func TestEngine_StopWithoutStart(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Stop()
}

func TestEngine_TaskInfoSnapshotsStore(t *testing.T) {
	e, store := newTestEngine(t)

	task := NewTask("t", Idempotent, []any{1}, nil, "r", 5)
	require.NoError(t, store.Put(task))

	infos, err := e.TaskInfo()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, task.ID, infos[0].ID)
	assert.Equal(t, "t", infos[0].Name)
	assert.Equal(t, 5, infos[0].MaxRetry)
}
