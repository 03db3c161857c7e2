package redo

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/calleros/redo-go/internal/logger"
	"github.com/calleros/redo-go/internal/metrics"
)

// storeErrorBackoff bounds how fast the worker re-polls a store that is
// returning errors.
const storeErrorBackoff = time.Second

// Engine owns the runner registry, the per-runner strategy table and the
// single retry worker. The zero value is not usable; construct with New.
type Engine struct {
	id string

	mu              sync.RWMutex
	runners         map[string]*Wrapped
	strategies      map[string]Strategy
	store           Store
	defaultKind     Kind
	defaultMaxRetry int
	defaultStrategy Strategy

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  atomic.Bool
}

// New creates an engine. Without options it retries idempotent tasks
// immediately, without bound, against an in-memory store.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		id:              uuid.New().String(),
		runners:         make(map[string]*Wrapped),
		strategies:      make(map[string]Strategy),
		store:           NewMemoryStore(),
		defaultKind:     Idempotent,
		defaultMaxRetry: -1,
		defaultStrategy: Immediate{},
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	if err := e.Configure(opts...); err != nil {
		return nil, err
	}
	return e, nil
}

// MustNew is New, panicking on a configuration error.
func MustNew(opts ...Option) *Engine {
	e, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// RegisterStrategy binds a retry strategy to a runner name, overriding the
// engine default for tasks dispatched through that runner.
func (e *Engine) RegisterStrategy(runnerName string, s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[runnerName] = s
}

func (e *Engine) registerRunner(name string, w *Wrapped) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners[name] = w
}

func (e *Engine) runner(name string) *Wrapped {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runners[name]
}

func (e *Engine) currentStore() Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// wrapDefaults returns the process-wide kind and max-retry defaults applied
// when a wrap-time option was omitted.
func (e *Engine) wrapDefaults() (Kind, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultKind, e.defaultMaxRetry
}

func (e *Engine) strategyFor(runnerName string) Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.strategies[runnerName]; ok {
		return s
	}
	return e.defaultStrategy
}

// HandleFailedTask applies the failure state machine to a task and persists
// it: the per-runner strategy picks the next run time, the retry budget is
// checked before the count is incremented, and the worker is woken after the
// store write completes.
//
// A task whose RetryCount has already reached a positive MaxRetry
// transitions to StateStopped and leaves the ready view.
func (e *Engine) HandleFailedTask(t *Task) error {
	log := logger.WithEngine(e.id)

	t.NextRunTime = e.strategyFor(t.RunnerName).NextRunTime(t)
	now := time.Now()
	t.UpdateTime = now
	if t.NextRunTime.IsZero() {
		t.NextRunTime = now
	}
	if t.MaxRetry != 0 && t.RetryCount == t.MaxRetry {
		t.State = StateStopped
	} else {
		t.RetryCount++
		t.State = StateFailed
	}

	if err := e.currentStore().Put(t); err != nil {
		log.Error().Err(err).Str("task", t.String()).Msg("failed to persist task")
		return err
	}

	switch t.State {
	case StateStopped:
		log.Info().Str("task", t.String()).Msg("retry budget exhausted, task stopped")
		metrics.TasksStopped.Inc()
	default:
		metrics.TaskFailures.WithLabelValues(t.RunnerName).Inc()
	}

	e.notify()
	return nil
}

// taskSucceeded records a successful invocation: a persisted record is
// removed, an unpersisted first call has nothing to clean up.
func (e *Engine) taskSucceeded(t *Task) error {
	if t.ID == UnassignedID {
		return nil
	}
	if err := e.currentStore().Remove(t.ID); err != nil {
		log := logger.WithEngine(e.id)
		log.Error().Err(err).Str("task", t.String()).Msg("failed to remove finished task")
		return err
	}
	return nil
}

// notify wakes the worker. The buffered size-1 channel coalesces concurrent
// notifications; the store write must already be visible when this runs.
func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start launches the retry worker, on the calling goroutine when blocking is
// true and on a background goroutine otherwise. A second start is a no-op.
func (e *Engine) Start(blocking bool) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	log := logger.WithEngine(e.id)
	log.Info().Bool("blocking", blocking).Msg("retry worker starting")
	e.wg.Add(1)
	if blocking {
		e.run()
		return
	}
	go e.run()
}

// Stop terminates the worker and waits for it to exit. Intended for tests
// and orderly shutdown; a stopped engine cannot be restarted.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	log := logger.WithEngine(e.id)

	for {
		select {
		case <-e.stopCh:
			log.Info().Msg("retry worker stopped")
			return
		default:
		}

		store := e.currentStore()
		t, err := store.TakeReady()
		if err != nil {
			log.Error().Err(err).Msg("failed to take ready task")
			e.sleep(storeErrorBackoff)
			continue
		}
		if t != nil {
			e.dispatch(t)
			continue
		}

		next, err := store.PeekNext()
		if err != nil {
			log.Error().Err(err).Msg("failed to peek next task")
			e.sleep(storeErrorBackoff)
			continue
		}
		if next != nil {
			if wait := time.Until(next.NextRunTime); wait > 0 {
				e.sleep(wait)
			}
			continue
		}
		e.wait()
	}
}

// dispatch re-enters the wrapper through the runner registry. Errors raised
// by the wrapper are logged and swallowed; the wrapper has already arranged
// for the re-queue.
func (e *Engine) dispatch(t *Task) {
	log := logger.WithEngine(e.id)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("task", t.String()).
				Msg("dispatch panicked")
		}
	}()

	w := e.runner(t.RunnerName)
	if w == nil {
		log.Error().Str("task", t.String()).Msg("runner not found, stopping retry")
		t.State = StateInterrupted
		t.UpdateTime = time.Now()
		if err := e.currentStore().Put(t); err != nil {
			log.Error().Err(err).Str("task", t.String()).Msg("failed to persist interrupted task")
		}
		metrics.TasksInterrupted.Inc()
		return
	}

	start := time.Now()
	err := w.retryTask(context.Background(), t)
	metrics.DispatchDuration.WithLabelValues(t.RunnerName).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Debug().Err(err).Str("task", t.String()).Msg("task failed")
	}
}

// sleep blocks for at most d, returning early on a wake-up or stop.
func (e *Engine) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.wake:
	case <-e.stopCh:
	}
}

// wait blocks until a wake-up or stop.
func (e *Engine) wait() {
	select {
	case <-e.wake:
	case <-e.stopCh:
	}
}

// TaskInfo returns a snapshot of every task known to the current store.
func (e *Engine) TaskInfo() ([]TaskInfo, error) {
	tasks, err := e.currentStore().All()
	if err != nil {
		return nil, err
	}
	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Info())
	}
	return infos, nil
}
