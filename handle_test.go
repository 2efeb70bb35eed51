package mallard

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleWrapperReuse(t *testing.T) {
	ctx, _ := newTestContext(t)
	first, err := ctx.Evaluate("obj = {a: 1}", "test.js")
	require.NoError(t, err)
	h1 := first.(*Handle)

	// Popping the same script object again reuses the live wrapper, so
	// host-side identity follows script-side identity.
	second, err := ctx.Evaluate("obj", "test.js")
	require.NoError(t, err)
	require.Same(t, h1, second)

	// One script object, one anchor, no matter how often it crosses.
	require.Equal(t, 1, ctx.anchorCount())
}

func TestHandleAnchorKeepsObjectAlive(t *testing.T) {
	ctx, _ := newTestContext(t)
	result, err := ctx.Evaluate("obj = {a: 7}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	// Drop the script-side reference and collect. The anchor must keep
	// the object reachable for the handle.
	_, err = ctx.Evaluate("obj = null", "test.js")
	require.NoError(t, err)
	require.NoError(t, ctx.RunGC())

	v, err := h.Get("a")
	require.NoError(t, err)
	require.Equal(t, float64(7), v)
}

func TestHandleDistinctObjects(t *testing.T) {
	ctx, _ := newTestContext(t)
	a, err := ctx.Evaluate("a = {n: 1}", "test.js")
	require.NoError(t, err)
	b, err := ctx.Evaluate("b = {n: 2}", "test.js")
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, 2, ctx.anchorCount())
}

func TestHandleRoundTrip(t *testing.T) {
	ctx, _ := newTestContext(t)
	result, err := ctx.Evaluate("obj = {n: 5}", "test.js")
	require.NoError(t, err)
	h := result.(*Handle)

	// A handle passed back in resolves to its original script object.
	require.NoError(t, ctx.SetGlobal("copy", h))
	same, err := ctx.Evaluate("copy", "test.js")
	require.NoError(t, err)
	require.Same(t, h, same)

	v, err := ctx.Evaluate("copy.n", "test.js")
	require.NoError(t, err)
	require.Equal(t, float64(5), v)
}

func TestHandleWrapperRemint(t *testing.T) {
	ctx, _ := newTestContext(t)
	result, err := ctx.Evaluate("obj = {a: 1}", "test.js")
	require.NoError(t, err)
	require.IsType(t, (*Handle)(nil), result)

	// Let the host collect the wrapper, then cross again: popping mints a
	// fresh handle for the same script object without a second anchor.
	result = nil
	runtime.GC()
	runtime.GC()

	again, err := ctx.Evaluate("obj", "test.js")
	require.NoError(t, err)
	h := again.(*Handle)
	v, err := h.Get("a")
	require.NoError(t, err)
	require.Equal(t, float64(1), v)
	require.Equal(t, 1, ctx.anchorCount())
}

func TestRepeatedCrossingsStayBounded(t *testing.T) {
	ctx, _ := newTestContext(t)
	rec := &recorder{}
	require.NoError(t, ctx.ExposeHostObject("console", rec, []MethodSpec{
		Method("Log", 1),
	}))
	_, err := ctx.Evaluate("obj = {a: 1}", "test.js")
	require.NoError(t, err)

	hostRefs := ctx.hosts.Len()
	for i := 0; i < 100; i++ {
		_, err := ctx.Evaluate("obj", "test.js")
		require.NoError(t, err)
		_, err = ctx.Evaluate("console", "test.js")
		require.NoError(t, err)
		_, err = ctx.Evaluate("console.Log('tick')", "test.js")
		require.NoError(t, err)
	}

	// Crossing the boundary in a loop must not leak anchors or host
	// references.
	require.Equal(t, 1, ctx.anchorCount())
	require.Equal(t, hostRefs, ctx.hosts.Len())
	require.Len(t, rec.lines, 100)
}

func TestScriptObject(t *testing.T) {
	ctx, _ := newTestContext(t)
	rec := &recorder{}
	require.NoError(t, ctx.ExposeHostObject("console", rec, []MethodSpec{
		Method("Log", 1),
	}))
	_, err := ctx.Evaluate("listener = {log: console.Log, tag: 'audit'}", "test.js")
	require.NoError(t, err)

	so, err := ctx.ExposeScriptObject("listener", []string{"log"})
	require.NoError(t, err)

	_, err = so.Call("log", "started")
	require.NoError(t, err)
	require.Equal(t, []string{"started"}, rec.lines)

	v, err := so.Get("tag")
	require.NoError(t, err)
	require.Equal(t, "audit", v)

	// Only declared methods are callable through the script object.
	_, err = so.Call("undeclared")
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared")
}

func TestExposeScriptObjectMissing(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.ExposeScriptObject("ghost", []string{"run"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not defined")
}

func TestExposeScriptObjectNotAnObject(t *testing.T) {
	ctx, _ := newTestContext(t)
	require.NoError(t, ctx.SetGlobal("n", 5))
	_, err := ctx.ExposeScriptObject("n", []string{"run"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not an object")
}

func TestExposeScriptObjectHostBacked(t *testing.T) {
	ctx, _ := newTestContext(t)
	require.NoError(t, ctx.ExposeHostObject("util", stringUtil{}, []MethodSpec{
		Method("Upper", 1),
	}))
	_, err := ctx.ExposeScriptObject("util", []string{"Upper"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "host-backed")
}
