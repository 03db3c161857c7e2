package redo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func namerProbe() error { return nil }

type namerFixture struct{}

func (namerFixture) Deliver() error { return nil }

func TestFuncName(t *testing.T) {
	assert.Equal(t, "namerProbe", funcName(namerProbe))

	var fx namerFixture
	assert.Equal(t, "Deliver", funcName(fx.Deliver), "method values drop the -fm suffix")

	closure := func() error { return nil }
	assert.Contains(t, funcName(closure), "func")

	assert.Equal(t, "", funcName(42), "non-functions have no name")
}

func TestIsFreeFunc(t *testing.T) {
	assert.True(t, isFreeFunc(namerProbe))

	var fx namerFixture
	assert.False(t, isFreeFunc(fx.Deliver), "method values are not free functions")

	closure := func() error { return nil }
	assert.False(t, isFreeFunc(closure), "closures are not free functions")

	assert.False(t, isFreeFunc("not a function"))
}

func TestDefaultNamer(t *testing.T) {
	name := DefaultNamer{}.Gen(namerProbe, []any{1, 2}, nil)
	assert.Equal(t, "namerProbe", name)
}

type constantNamer struct{ name string }

func (n constantNamer) Gen(any, []any, map[string]any) string { return n.name }

func TestNamerSeesFullArguments(t *testing.T) {
	// A namer can key the task name off the argument tuple.
	var seen []any
	namer := namerFunc(func(_ any, args []any, _ map[string]any) string {
		seen = args
		return "n"
	})

	e := MustNew()
	w := e.Do(namerProbe2, WithNamer(namer), WithFuncForm(Function))
	_ = w.Call("receiver-ish", 7)

	assert.Equal(t, []any{"receiver-ish", 7}, seen)
}

func namerProbe2(a string, b int) error { return assert.AnError }

type namerFunc func(fn any, args []any, kwargs map[string]any) string

func (f namerFunc) Gen(fn any, args []any, kwargs map[string]any) string {
	return f(fn, args, kwargs)
}
