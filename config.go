package redo

import (
	"fmt"

	"github.com/calleros/redo-go/internal/logger"
)

// Option mutates process-wide engine defaults. Options are applied under the
// engine's lock, but the contract is still "configure before starting the
// worker and before wrapping functions whose wrap-time decisions should
// observe the new defaults".
type Option func(*Engine) error

// WithStore sets the task store.
func WithStore(s Store) Option {
	return func(e *Engine) error {
		if s == nil {
			return fmt.Errorf("nil store")
		}
		e.store = s
		return nil
	}
}

// WithDefaultKind sets the classification applied when a wrap omits WithKind.
func WithDefaultKind(k Kind) Option {
	return func(e *Engine) error {
		if k != Idempotent && k != NonIdempotent {
			return fmt.Errorf("unknown kind %d", k)
		}
		e.defaultKind = k
		return nil
	}
}

// WithDefaultMaxRetry sets the retry bound applied when a wrap omits
// WithMaxRetry; -1 means unbounded.
func WithDefaultMaxRetry(n int) Option {
	return func(e *Engine) error {
		if n < -1 {
			return fmt.Errorf("max retry %d out of range", n)
		}
		e.defaultMaxRetry = n
		return nil
	}
}

// WithDefaultStrategy sets the strategy used for runners without a
// registered one.
func WithDefaultStrategy(s Strategy) Option {
	return func(e *Engine) error {
		if s == nil {
			return fmt.Errorf("nil strategy")
		}
		e.defaultStrategy = s
		return nil
	}
}

// Configure applies any subset of the engine defaults, returning an error
// wrapping ErrConfigure when a value is invalid.
func (e *Engine) Configure(opts ...Option) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return fmt.Errorf("%w: %s", ErrConfigure, err)
		}
	}
	return nil
}

// std is the process-wide engine behind the package-level API. Programs that
// need isolated engines construct their own with New; the Do wrapper
// captures its engine at wrap time either way.
var std = MustNew()

// Default returns the process-wide engine.
func Default() *Engine { return std }

// Configure applies options to the process-wide engine.
func Configure(opts ...Option) error { return std.Configure(opts...) }

// Do wraps fn on the process-wide engine.
func Do(fn any, opts ...DoOption) *Wrapped { return std.Do(fn, opts...) }

// TaskInfo snapshots the process-wide engine's store.
func TaskInfo() ([]TaskInfo, error) { return std.TaskInfo() }

// StartOption configures logging for Start.
type StartOption func(*startConfig)

type startConfig struct {
	logLevel string
	logFile  string
}

// WithLogLevel sets the zerolog level for the process ("debug" .. "error").
func WithLogLevel(level string) StartOption {
	return func(c *startConfig) { c.logLevel = level }
}

// WithLogFile routes logs to the given file instead of stderr.
func WithLogFile(path string) StartOption {
	return func(c *startConfig) { c.logFile = path }
}

// WithDefaultLogFile routes logs to the default file under the invoking
// user's home directory.
func WithDefaultLogFile() StartOption {
	return func(c *startConfig) { c.logFile = logger.DefaultLogPath() }
}

// Start initialises logging and launches the process-wide engine's retry
// worker, blocking when asked to. A second start is a no-op.
func Start(blocking bool, opts ...StartOption) {
	cfg := startConfig{logLevel: "error"}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger.Init(cfg.logLevel, cfg.logFile)
	std.Start(blocking)
}

// Stop terminates the process-wide engine's worker.
func Stop() { std.Stop() }
