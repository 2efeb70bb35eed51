package mallard

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mallardjs/mallard/enginetest"
)

func newTestContext(t *testing.T, opts ...Option) (*Context, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	ctx, err := New(eng, append([]Option{WithStackCheck()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx, eng
}

func TestEvaluate(t *testing.T) {
	ctx, _ := newTestContext(t)
	tests := []struct {
		input    string
		expected any
	}{
		{"1 + 1", float64(2)},
		{"2 * 3 + 4", float64(10)},
		{"10 / 4", float64(2.5)},
		{"'hello' + ' ' + 'world'", "hello world"},
		{"'n = ' + 42", "n = 42"},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"undefined", nil},
	}
	for _, tt := range tests {
		result, err := ctx.Evaluate(tt.input, "test.js")
		require.NoError(t, err, "input: %s", tt.input)
		require.Equal(t, tt.expected, result, "input: %s", tt.input)
	}
}

func TestEvaluateArray(t *testing.T) {
	ctx, _ := newTestContext(t)
	result, err := ctx.Evaluate("[1, 'two', true, [3]]", "test.js")
	require.NoError(t, err)
	require.Equal(t, []any{float64(1), "two", true, []any{float64(3)}}, result)
}

func TestEvaluateError(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.Evaluate("nope", "widget.js")
	require.Error(t, err)

	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	require.Contains(t, ee.Message, "nope")
	require.Equal(t, "widget.js", ee.FileName)
	require.Contains(t, err.Error(), "widget.js")

	_, err = ctx.Evaluate("nosuchfn()", "t.js")
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "t.js", ee.FileName)
}

func TestEvaluateSyntaxError(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.Evaluate("1 +", "bad.js")
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "bad.js", ee.FileName)
}

func TestSetGlobal(t *testing.T) {
	ctx, _ := newTestContext(t)
	require.NoError(t, ctx.SetGlobal("answer", 42))

	result, err := ctx.Evaluate("answer", "test.js")
	require.NoError(t, err)
	require.Equal(t, float64(42), result)
}

func TestSetGlobalDuplicate(t *testing.T) {
	ctx, _ := newTestContext(t)
	require.NoError(t, ctx.SetGlobal("x", 1))

	err := ctx.SetGlobal("x", 2)
	require.ErrorIs(t, err, ErrAlreadyDefined)

	// The original binding is untouched.
	result, err := ctx.Evaluate("x", "test.js")
	require.NoError(t, err)
	require.Equal(t, float64(1), result)
}

func TestCompileAndCall(t *testing.T) {
	ctx, _ := newTestContext(t)
	fn, err := ctx.Compile("6 * 7", "calc.js")
	require.NoError(t, err)

	result, err := ctx.Call(fn)
	require.NoError(t, err)
	require.Equal(t, float64(42), result)

	// The handle's own Call goes through the same path.
	result, err = fn.Call()
	require.NoError(t, err)
	require.Equal(t, float64(42), result)
}

func TestCompileError(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.Compile("= broken", "calc.js")
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "calc.js", ee.FileName)
}

func TestGetProperty(t *testing.T) {
	ctx, _ := newTestContext(t)
	result, err := ctx.Evaluate("config = {retries: 3, name: 'svc'}", "test.js")
	require.NoError(t, err)
	h, ok := result.(*Handle)
	require.True(t, ok)

	v, err := ctx.GetProperty(h, "retries")
	require.NoError(t, err)
	require.Equal(t, float64(3), v)

	v, err = ctx.GetProperty(h, "name")
	require.NoError(t, err)
	require.Equal(t, "svc", v)

	// Missing properties resolve to nil rather than failing.
	v, err = ctx.GetProperty(h, "missing")
	require.NoError(t, err)
	require.Nil(t, v)

	// An anonymous object expression yields a handle too.
	result, err = ctx.Evaluate("({a: 1})", "t.js")
	require.NoError(t, err)
	v, err = ctx.GetProperty(result.(*Handle), "a")
	require.NoError(t, err)
	require.Equal(t, float64(1), v)
}

func TestCallMethod(t *testing.T) {
	ctx, _ := newTestContext(t)
	require.NoError(t, ctx.ExposeHostObject("fmt", &stringUtil{}, []MethodSpec{
		Method("Upper", 1),
	}))
	result, err := ctx.Evaluate("obj = {shout: fmt.Upper}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	v, err := ctx.CallMethod(h, "shout", "hey")
	require.NoError(t, err)
	require.Equal(t, "HEY", v)

	_, err = ctx.CallMethod(h, "absent")
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
}

type unmarshalable struct{}

func failingPusherRegistry() *TypeRegistry {
	return NewRegistryBuilder().
		RegisterPush(reflect.TypeOf(unmarshalable{}), func(c *Context, v any) error {
			return errors.New("cannot marshal unmarshalable")
		}).
		Build()
}

func TestCallMarshalFailure(t *testing.T) {
	ctx, eng := newTestContext(t, WithTypeRegistry(failingPusherRegistry()))
	result, err := ctx.Evaluate("obj = {}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	// A pusher failure mid-argument-list must surface the marshal error
	// and unwind exactly what the operation pushed.
	_, err = ctx.Call(h, 1, unmarshalable{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot marshal")
	require.Zero(t, eng.Depth())

	// The context stays usable afterwards.
	v, err := ctx.Evaluate("1 + 1", "test.js")
	require.NoError(t, err)
	require.Equal(t, float64(2), v)
}

func TestCallMethodMarshalFailure(t *testing.T) {
	ctx, eng := newTestContext(t, WithTypeRegistry(failingPusherRegistry()))
	result, err := ctx.Evaluate("obj = {}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	// Failure at the first argument: target and method name are unwound.
	_, err = ctx.CallMethod(h, "run", unmarshalable{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot marshal")
	require.Zero(t, eng.Depth())

	// Failure after an argument already marshalled.
	_, err = ctx.CallMethod(h, "run", 1, unmarshalable{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot marshal")
	require.Zero(t, eng.Depth())

	v, err := ctx.Evaluate("2 + 2", "test.js")
	require.NoError(t, err)
	require.Equal(t, float64(4), v)
}

func TestClose(t *testing.T) {
	eng := enginetest.New()
	ctx, err := New(eng, WithStackCheck())
	require.NoError(t, err)

	result, err := ctx.Evaluate("ref = {a: 1}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	require.NoError(t, ctx.Close())
	require.Zero(t, eng.ObjectCount())

	_, err = ctx.Evaluate("1", "test.js")
	require.ErrorIs(t, err, ErrContextClosed)

	// Handles outliving the context degrade to closed-context errors.
	_, err = h.Get("a")
	require.ErrorIs(t, err, ErrContextClosed)

	err = ctx.Close()
	require.ErrorIs(t, err, ErrContextClosed)
}

func TestCloseReleasesHostReferences(t *testing.T) {
	eng := enginetest.New()
	ctx, err := New(eng, WithStackCheck())
	require.NoError(t, err)
	require.NoError(t, ctx.ExposeHostObject("util", &stringUtil{}, []MethodSpec{
		Method("Upper", 1),
	}))
	require.Equal(t, 2, ctx.hosts.Len()) // object entry + one method record

	require.NoError(t, ctx.Close())
	require.Zero(t, ctx.hosts.Len())
}

func TestContextIdentity(t *testing.T) {
	a, _ := newTestContext(t)
	b, _ := newTestContext(t)
	require.NotEqual(t, a.ID(), b.ID())
}

func TestFatalErrorPanics(t *testing.T) {
	eng := enginetest.New()
	_, err := New(eng)
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*FatalError)
		require.True(t, ok)
		require.Contains(t, fe.Message, "stack")
	}()
	eng.Pop() // stack underflow is unrecoverable
}

func TestPendingErrorFirstWins(t *testing.T) {
	ctx, _ := newTestContext(t)
	first := errors.New("first")
	ctx.setPending(first)
	ctx.setPending(errors.New("second"))
	require.Same(t, first, ctx.takePending())
	require.NoError(t, ctx.takePending())
}

func TestPendingErrorClearedOnSuccess(t *testing.T) {
	ctx, _ := newTestContext(t)

	// A host callback that records an error which never surfaces as a
	// failure of the evaluation itself.
	require.NoError(t, ctx.SetGlobal("sneak", func() {
		ctx.setPending(errors.New("swallowed mid-call"))
	}))
	_, err := ctx.Evaluate("sneak()", "test.js")
	require.NoError(t, err)

	// The successful operation discards the leftover, so a later,
	// unrelated failure reports as an engine error, not a host error.
	require.NoError(t, ctx.takePending())
	_, err = ctx.Evaluate("nosuchfn()", "t.js")
	var he *HostError
	require.False(t, errors.As(err, &he))
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
}

func TestEvalConvenience(t *testing.T) {
	result, err := Eval(enginetest.New(), "2 + 3")
	require.NoError(t, err)
	require.Equal(t, float64(5), result)
}

func TestNewNilEngine(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
