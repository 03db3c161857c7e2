package redo

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// Namer derives a task name from the wrapped function and the arguments of
// the failing invocation. The full argument tuple, receiver included, is
// visible so per-argument naming can distinguish tasks sharing a runner.
type Namer interface {
	Gen(fn any, args []any, kwargs map[string]any) string
}

// DefaultNamer names the task after the function's declared name.
type DefaultNamer struct{}

func (DefaultNamer) Gen(fn any, _ []any, _ map[string]any) string {
	return funcName(fn)
}

var closurePattern = regexp.MustCompile(`^func\d+(\.\d+)*$`)

// funcName returns the declared name of fn: the last segment of its runtime
// symbol, with the "-fm" method-value suffix trimmed.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return ""
	}
	full := runtime.FuncForPC(v.Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}

// isFreeFunc reports whether fn is a top-level function, i.e. reachable by
// its declared name from its defining package. Method values carry an "-fm"
// suffix and closures a generated funcN segment; both fail the test.
func isFreeFunc(fn any) bool {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return false
	}
	full := runtime.FuncForPC(v.Pointer()).Name()
	if strings.HasSuffix(full, "-fm") {
		return false
	}
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	segs := strings.Split(full, ".")
	for _, seg := range segs[1:] {
		if closurePattern.MatchString(seg) {
			return false
		}
	}
	// pkg.Name is free; pkg.Type.Name is a method expression.
	return len(segs) == 2
}
