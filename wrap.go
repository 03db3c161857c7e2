package redo

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/calleros/redo-go/internal/logger"
)

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType    = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType = reflect.TypeOf(map[string]any(nil))
)

// DoOption configures a single wrapped function.
type DoOption func(*doConfig)

type doConfig struct {
	kind       Kind
	kindSet    bool
	runnerName string
	namer      Namer
	maxRetry   int
	form       FuncForm
	strategy   Strategy
}

// WithKind declares the task classification. Omitted, the engine default
// applies (typically Idempotent).
func WithKind(k Kind) DoOption {
	return func(c *doConfig) {
		c.kind = k
		c.kindSet = true
	}
}

// WithRunnerName registers the wrapper under an explicit runner name instead
// of the function's declared name.
func WithRunnerName(name string) DoOption {
	return func(c *doConfig) { c.runnerName = name }
}

// WithNamer sets the task name generator.
func WithNamer(n Namer) DoOption {
	return func(c *doConfig) { c.namer = n }
}

// WithMaxRetry bounds the number of retries. 0 means the engine default;
// -1 means unbounded.
func WithMaxRetry(n int) DoOption {
	return func(c *doConfig) { c.maxRetry = n }
}

// WithFuncForm declares whether the wrapped function is a free function or a
// method, overriding auto-detection.
func WithFuncForm(f FuncForm) DoOption {
	return func(c *doConfig) { c.form = f }
}

// WithStrategy registers a retry strategy for this wrapper's runner name.
func WithStrategy(s Strategy) DoOption {
	return func(c *doConfig) { c.strategy = s }
}

// Wrapped is the decorated form of a user function. The caller-facing entry
// points are Call and CallContext; the engine re-enters through the private
// retryTask entry point held by the runner registry, so retry state never
// travels through user-visible arguments.
type Wrapped struct {
	engine *Engine
	orig   any
	fn     reflect.Value
	fnType reflect.Type

	runnerName string
	namer      Namer
	kind       Kind
	kindSet    bool
	maxRetry   int

	takesCtx      bool
	takesKwargs   bool
	stripReceiver bool
}

// Do wraps fn for durable retry and registers it with the engine's runner
// registry under its runner name. fn may be any function whose final result
// is an error; a leading context.Context parameter receives the invocation
// context and a trailing map[string]any parameter receives the keyword
// arguments. Do panics when fn is not such a function: wrapping happens at
// program start and a bad signature is a programming error.
func (e *Engine) Do(fn any, opts ...DoOption) *Wrapped {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		panic(ErrNotAFunction)
	}
	ft := v.Type()
	if ft.NumOut() == 0 || !ft.Out(ft.NumOut()-1).Implements(errType) {
		panic(ErrBadSignature)
	}

	cfg := doConfig{form: AutoDetect, namer: DefaultNamer{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	runnerName := cfg.runnerName
	if runnerName == "" {
		runnerName = funcName(fn)
	}
	if cfg.strategy != nil {
		e.RegisterStrategy(runnerName, cfg.strategy)
	}

	takesCtx := ft.NumIn() > 0 && ft.In(0) == ctxType
	firstArg := 0
	if takesCtx {
		firstArg = 1
	}
	takesKwargs := !ft.IsVariadic() &&
		ft.NumIn() > firstArg &&
		ft.In(ft.NumIn()-1) == kwargsType

	w := &Wrapped{
		engine:      e,
		orig:        fn,
		fn:          v,
		fnType:      ft,
		runnerName:  runnerName,
		namer:       cfg.namer,
		kind:        cfg.kind,
		kindSet:     cfg.kindSet,
		maxRetry:    cfg.maxRetry,
		takesCtx:    takesCtx,
		takesKwargs: takesKwargs,
		stripReceiver: cfg.form == Method ||
			(cfg.form == AutoDetect && !isFreeFunc(fn)),
	}
	e.registerRunner(runnerName, w)
	return w
}

// RunnerName returns the name this wrapper is registered under.
func (w *Wrapped) RunnerName() string { return w.runnerName }

// Call invokes the wrapped function. When the function accepts a trailing
// map[string]any, the final element of args is that keyword map. A failure
// is returned to the caller after (for idempotent tasks, or on a
// RetryRequest) the task has been handed to the engine for retry.
func (w *Wrapped) Call(args ...any) error {
	return w.CallContext(context.Background(), args...)
}

// CallContext is Call with an explicit invocation context. The context is
// passed through to the function but never persisted; retries run under the
// worker's context.
func (w *Wrapped) CallContext(ctx context.Context, args ...any) error {
	pos, kwargs := w.splitKwargs(args)
	return w.invoke(ctx, w.newTask(args, pos, kwargs), pos, kwargs)
}

// splitKwargs peels the trailing keyword map off the argument list for
// functions that declare one.
func (w *Wrapped) splitKwargs(args []any) ([]any, map[string]any) {
	if !w.takesKwargs || len(args) == 0 {
		return args, nil
	}
	last := args[len(args)-1]
	if last == nil {
		return args[:len(args)-1], nil
	}
	if m, ok := last.(map[string]any); ok {
		return args[:len(args)-1], m
	}
	return args, nil
}

// newTask captures the first invocation as a task record. The positional
// arguments are copied defensively so later mutation by the function cannot
// corrupt the persisted form; the receiver is stripped for method forms. The
// namer sees the full original tuple, receiver included.
func (w *Wrapped) newTask(fullArgs, pos []any, kwargs map[string]any) *Task {
	kind := w.kind
	maxRetry := w.maxRetry
	defKind, defMax := w.engine.wrapDefaults()
	if !w.kindSet {
		kind = defKind
	}
	if maxRetry == 0 {
		maxRetry = defMax
	}

	persisted := make([]any, len(pos))
	copy(persisted, pos)
	if w.stripReceiver && len(persisted) > 0 {
		persisted = persisted[1:]
	}

	name := w.namer.Gen(w.orig, fullArgs, kwargs)
	return NewTask(name, kind, persisted, kwargs, w.runnerName, maxRetry)
}

// retryTask is the engine's private entry point: it re-invokes the function
// with the task's persisted arguments. The runner bound to the task's name
// at retry time handles the call, whichever wrapper instance that is.
func (w *Wrapped) retryTask(ctx context.Context, t *Task) error {
	args := make([]any, len(t.Args))
	copy(args, t.Args)
	return w.invoke(ctx, t, args, t.Kwargs)
}

// invoke runs the function and classifies the outcome: success removes the
// record, a RetryRequest re-queues with replacement arguments, any other
// error re-queues idempotent tasks and abandons non-idempotent ones. The
// failure is always returned to the caller.
func (w *Wrapped) invoke(ctx context.Context, t *Task, args []any, kwargs map[string]any) error {
	log := logger.WithComponent("wrapper")

	err := w.callFunc(ctx, args, kwargs)
	if err == nil {
		log.Info().Str("task_name", t.Name).Msg("task succeeded")
		if rerr := w.engine.taskSucceeded(t); rerr != nil {
			log.Error().Err(rerr).Str("task_name", t.Name).Msg("failed to record task success")
		}
		return nil
	}

	var rr *RetryRequest
	switch {
	case errors.As(err, &rr):
		t.Args = make([]any, len(rr.Args))
		copy(t.Args, rr.Args)
		t.Kwargs = rr.Kwargs
		log.Info().Str("task_name", t.Name).Int("attempt", t.RetryCount+1).
			Msg("non-idempotent task failed, retrying with replacement arguments")
		if herr := w.engine.HandleFailedTask(t); herr != nil {
			log.Error().Err(herr).Str("task_name", t.Name).Msg("failed to enqueue task")
		}
	case t.Kind == Idempotent:
		t.Kwargs = kwargs
		log.Info().Str("task_name", t.Name).Int("attempt", t.RetryCount+1).
			Msg("idempotent task failed")
		if herr := w.engine.HandleFailedTask(t); herr != nil {
			log.Error().Err(herr).Str("task_name", t.Name).Msg("failed to enqueue task")
		}
	default:
		log.Info().Str("task_name", t.Name).Msg("task is not idempotent, not retrying")
	}
	return err
}

// callFunc performs the reflective invocation. Panics in the function are
// recovered and surfaced as errors so the worker loop survives them.
func (w *Wrapped) callFunc(ctx context.Context, args []any, kwargs map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()

	in, err := w.buildArgs(ctx, args, kwargs)
	if err != nil {
		return err
	}
	out := w.fn.Call(in)
	last := out[len(out)-1]
	switch last.Kind() {
	case reflect.Interface, reflect.Pointer:
		if last.IsNil() {
			return nil
		}
	}
	return last.Interface().(error)
}

// buildArgs converts stored arguments to the function's parameter types.
func (w *Wrapped) buildArgs(ctx context.Context, args []any, kwargs map[string]any) ([]reflect.Value, error) {
	ft := w.fnType
	in := make([]reflect.Value, 0, ft.NumIn())

	first := 0
	if w.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}
	last := ft.NumIn()
	if w.takesKwargs {
		last--
	}

	if ft.IsVariadic() {
		fixed := last - first - 1
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: want at least %d positional arguments, got %d",
				ErrArgMismatch, fixed, len(args))
		}
		for i := 0; i < fixed; i++ {
			v, err := coerce(args[i], ft.In(first+i))
			if err != nil {
				return nil, err
			}
			in = append(in, v)
		}
		elem := ft.In(last - 1).Elem()
		for _, a := range args[fixed:] {
			v, err := coerce(a, elem)
			if err != nil {
				return nil, err
			}
			in = append(in, v)
		}
		return in, nil
	}

	if len(args) != last-first {
		return nil, fmt.Errorf("%w: want %d positional arguments, got %d",
			ErrArgMismatch, last-first, len(args))
	}
	for i, a := range args {
		v, err := coerce(a, ft.In(first+i))
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}
	if w.takesKwargs {
		if kwargs == nil {
			in = append(in, reflect.Zero(kwargsType))
		} else {
			in = append(in, reflect.ValueOf(kwargs))
		}
	}
	return in, nil
}

// coerce adapts a stored argument to a parameter type. Numeric widths are
// converted so values that round-tripped through a JSON store (where every
// number is a float64) still fit integer parameters.
func coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumericKind(rv.Kind()) && isNumericKind(t.Kind()) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrArgMismatch, v, t)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
