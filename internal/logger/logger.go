package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

// Init configures the process logger. An unparseable level falls back to
// error. With a non-empty logFile the output goes to that file (created,
// append mode); otherwise a console writer on stderr.
func Init(level string, logFile string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.ErrorLevel
	}

	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	if logFile != "" {
		if f, ferr := openLogFile(logFile); ferr == nil {
			output = f
		}
	}

	log = zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// DefaultLogPath is the default file sink, under the invoking user's home
// directory.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "redo", "redo.log")
	}
	return filepath.Join(home, ".redo", "redo.log")
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func WithEngine(engineID string) zerolog.Logger {
	return log.With().Str("engine_id", engineID).Logger()
}

func WithTask(taskName string) zerolog.Logger {
	return log.With().Str("task_name", taskName).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}
