package enginetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mallardjs/mallard/engine"
)

func TestEvalExpressions(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"1 + 1", 2},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 2 - 3", 5},
		{"9 / 3", 3},
		{"-4 + 6", 2},
	}
	for _, tt := range tests {
		e := New()
		require.NoError(t, e.PEval(tt.input, "test.js"), "input: %s", tt.input)
		require.Equal(t, engine.TypeNumber, e.GetType(-1), "input: %s", tt.input)
		require.Equal(t, tt.expected, e.GetNumber(-1), "input: %s", tt.input)
	}
}

func TestEvalStrings(t *testing.T) {
	e := New()
	require.NoError(t, e.PEval(`'a' + "b" + '\n'`, "test.js"))
	require.Equal(t, "ab\n", e.GetString(-1))
}

func TestEvalObjectLiteral(t *testing.T) {
	e := New()
	require.NoError(t, e.PEval("{name: 'x', 'count': 2}", "test.js"))
	require.Equal(t, engine.TypeObject, e.GetType(-1))
	require.True(t, e.GetProp(-1, "name"))
	require.Equal(t, "x", e.GetString(-1))
	e.Pop()
	require.True(t, e.GetProp(-1, "count"))
	require.Equal(t, float64(2), e.GetNumber(-1))
}

func TestEvalArrayLiteral(t *testing.T) {
	e := New()
	require.NoError(t, e.PEval("[10, 20, 30]", "test.js"))
	require.True(t, e.IsArray(-1))
	require.Equal(t, 3, e.GetLength(-1))
	e.GetPropIndex(-1, 1)
	require.Equal(t, float64(20), e.GetNumber(-1))
}

func TestEvalAssignment(t *testing.T) {
	e := New()
	require.NoError(t, e.PEval("x = 5", "test.js"))
	e.Pop()
	require.NoError(t, e.PEval("x * 2", "test.js"))
	require.Equal(t, float64(10), e.GetNumber(-1))
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		input   string
		message string
	}{
		{"missing", "ReferenceError"},
		{"1 +", "SyntaxError"},
		{"'a' - 1", "TypeError"},
		{"5(1)", "TypeError"},
	}
	for _, tt := range tests {
		e := New()
		err := e.PEval(tt.input, "script.js")
		require.Error(t, err, "input: %s", tt.input)
		se, ok := err.(*engine.ScriptError)
		require.True(t, ok, "input: %s", tt.input)
		require.Contains(t, se.Message, tt.message, "input: %s", tt.input)
		require.Equal(t, "script.js", se.FileName)
		// A failed eval consumes its operands and pushes nothing.
		require.Zero(t, e.Depth())
	}
}

func TestNativeFunctionCall(t *testing.T) {
	e := New()
	var got []float64
	e.PushGlobalObject()
	e.PushFunc(func(e engine.Engine) (int, error) {
		// Inside the frame only the arguments are visible.
		require.Equal(t, 2, e.Depth())
		got = append(got, e.GetNumber(0), e.GetNumber(1))
		e.PushNumber(e.GetNumber(0) + e.GetNumber(1))
		return 1, nil
	}, 2)
	e.PutProp(-2, "add")
	e.Pop()

	require.NoError(t, e.PEval("add(4, 5)", "test.js"))
	require.Equal(t, float64(9), e.GetNumber(-1))
	require.Equal(t, []float64{4, 5}, got)
}

func TestNativeFunctionThis(t *testing.T) {
	e := New()
	e.PushGlobalObject()
	objIdx := e.PushObject()
	e.PushString("duck")
	e.PutProp(objIdx, "kind")
	e.PushFunc(func(e engine.Engine) (int, error) {
		e.PushThis()
		e.GetProp(-1, "kind")
		kind := e.GetString(-1)
		e.PushString("a " + kind)
		return 1, nil
	}, 0)
	e.PutProp(objIdx, "describe")
	e.PutProp(-2, "pet")
	e.Pop()

	require.NoError(t, e.PEval("pet.describe()", "test.js"))
	require.Equal(t, "a duck", e.GetString(-1))
}

func TestPCall(t *testing.T) {
	e := New()
	e.PushFunc(func(e engine.Engine) (int, error) {
		e.PushNumber(e.GetNumber(0) * 10)
		return 1, nil
	}, 1)
	e.PushNumber(7)
	require.NoError(t, e.PCall(1))
	require.Equal(t, float64(70), e.GetNumber(-1))
	require.Equal(t, 1, e.Depth())
}

func TestPCompile(t *testing.T) {
	e := New()
	require.NoError(t, e.PCompile("3 * 3", "calc.js"))
	require.True(t, e.IsFunction(-1))
	require.NoError(t, e.PCall(0))
	require.Equal(t, float64(9), e.GetNumber(-1))
}

func TestFinalizerRunsOnce(t *testing.T) {
	e := New()
	runs := 0
	objIdx := e.PushObject()
	e.PushFunc(func(e engine.Engine) (int, error) {
		runs++
		return 0, nil
	}, 1)
	e.SetFinalizer(objIdx)
	e.Pop() // the object is now unreachable

	e.RequestGC()
	require.Equal(t, 1, runs)
	e.RequestGC()
	require.Equal(t, 1, runs)
}

func TestStashKeepsObjectAlive(t *testing.T) {
	e := New()
	runs := 0
	objIdx := e.PushObject()
	ptr := e.GetHeapPtr(objIdx)
	e.PushFunc(func(e engine.Engine) (int, error) {
		runs++
		return 0, nil
	}, 1)
	e.SetFinalizer(objIdx)

	e.PushGlobalStash()
	e.PushHeapPtr(ptr)
	e.PutPropPtr(-2, ptr)
	e.Pop()
	e.Pop()

	e.RequestGC()
	require.Zero(t, runs)

	e.PushGlobalStash()
	e.DelPropPtr(-1, ptr)
	e.Pop()
	e.RequestGC()
	require.Equal(t, 1, runs)
}

func TestProxyTraps(t *testing.T) {
	e := New()
	e.PushGlobalObject()

	objIdx := e.PushObject()
	e.PushFunc(func(e engine.Engine) (int, error) {
		// (target, key, receiver)
		e.PushString("got:" + e.GetString(1))
		return 1, nil
	}, 3)
	e.PutProp(objIdx, "getTrap")
	e.PushFunc(func(e engine.Engine) (int, error) {
		// (target, this, args)
		e.PushNumber(float64(e.GetLength(2)))
		return 1, nil
	}, 3)
	e.PutProp(objIdx, "applyTrap")
	require.NoError(t, e.MakeProxy("getTrap", "applyTrap"))
	e.PutProp(-2, "p")
	e.Pop()

	require.NoError(t, e.PEval("p.anything", "test.js"))
	require.Equal(t, "got:anything", e.GetString(-1))
	e.Pop()

	require.NoError(t, e.PEval("p(1, 2, 3)", "test.js"))
	require.Equal(t, float64(3), e.GetNumber(-1))
}

func TestDestroyFinalizesEverything(t *testing.T) {
	e := New()
	runs := 0
	for i := 0; i < 3; i++ {
		objIdx := e.PushObject()
		e.PushFunc(func(e engine.Engine) (int, error) {
			runs++
			return 0, nil
		}, 1)
		e.SetFinalizer(objIdx)
		e.Pop()
	}
	e.Destroy()
	require.Equal(t, 3, runs)
	require.Zero(t, e.ObjectCount())
}

func TestNormalizeIndex(t *testing.T) {
	e := New()
	e.PushNumber(1)
	e.PushNumber(2)
	require.Equal(t, 1, e.NormalizeIndex(-1))
	require.Equal(t, 0, e.NormalizeIndex(0))
	e.Dup(-2)
	require.Equal(t, float64(1), e.GetNumber(-1))
}
