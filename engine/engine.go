// Package engine defines the contract between the mallard bridge and an
// embedded stack-based script engine.
//
// The engine exposes a value stack: bridge operations push operands, ask the
// engine to execute, and pop results. Objects living in the engine heap are
// referred to by opaque HeapPtr values that remain stable for the life of the
// object. The bridge never inspects engine internals; everything it needs is
// expressed through this interface.
//
// Implementations are not safe for concurrent use. The bridge serializes all
// access to a given Engine instance.
package engine

import "fmt"

// HeapPtr is an opaque reference to an object in the engine heap. The zero
// value is never a valid object.
type HeapPtr uint64

// IsNil reports whether the pointer refers to no object.
func (p HeapPtr) IsNil() bool { return p == 0 }

func (p HeapPtr) String() string { return fmt.Sprintf("HeapPtr(0x%x)", uint64(p)) }

// Type identifies the engine-level type of a stack value.
type Type int

const (
	TypeNone Type = iota
	TypeUndefined
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypePointer
)

func (t Type) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypePointer:
		return "pointer"
	default:
		return "none"
	}
}

// NativeFunc is a Go function exposed into script space. It receives the
// engine with its arguments on the stack and returns the number of results
// it pushed (0 or 1). A non-nil error becomes a script-level throw at the
// call site.
type NativeFunc func(e Engine) (int, error)

// FatalHandler is invoked on an unrecoverable internal engine error. The
// engine state is undefined afterwards; the handler must not return control
// to the engine.
type FatalHandler func(msg string)

// DebugTransport carries the engine's debugger protocol over an arbitrary
// byte stream.
type DebugTransport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Peek reports how many bytes can be read without blocking.
	Peek() (int, error)
	ReadFlush()
	WriteFlush()
	// Detached is called when the debug session ends, from either side.
	Detached()
}

// Engine is the stack-based script engine consumed by the bridge.
type Engine interface {
	// Stack operations. Indices follow the usual stack-API convention:
	// 0 is the bottom, -1 the top.
	Depth() int
	Pop()
	PopN(n int)
	Dup(idx int)
	NormalizeIndex(idx int) int

	PushUndefined()
	PushNull()
	PushBool(v bool)
	PushNumber(v float64)
	PushString(v string)
	// PushObject pushes a fresh empty object and returns its normalized
	// stack index.
	PushObject() int
	PushArray() int
	// PushPointer pushes an opaque host token. Pointer values are only
	// observable through the C-style API, never from script code.
	PushPointer(token uint64)
	PushHeapPtr(ptr HeapPtr)
	PushGlobalObject()
	// PushGlobalStash pushes the engine-internal stash object, reachable
	// only through this API.
	PushGlobalStash()
	PushFunc(fn NativeFunc, nargs int) int
	// PushThis pushes the receiver of the currently executing native call.
	PushThis()

	// Value inspection.
	GetType(idx int) Type
	IsArray(idx int) bool
	IsFunction(idx int) bool
	GetBool(idx int) bool
	GetNumber(idx int) float64
	GetString(idx int) string
	GetPointer(idx int) (uint64, bool)
	GetHeapPtr(idx int) HeapPtr
	GetLength(idx int) int
	// SafeToString coerces the value at idx to a string without throwing.
	SafeToString(idx int) string

	// Property operations. GetProp pushes the property value (or undefined)
	// and reports whether the property existed.
	GetProp(objIdx int, key string) bool
	PutProp(objIdx int, key string)
	HasProp(objIdx int, key string) bool
	DelProp(objIdx int, key string)
	GetPropIndex(objIdx int, i int)
	PutPropIndex(objIdx int, i int)
	// PutPropPtr stores the stack top under a heap-pointer key. Used by the
	// bridge to hold hard references in the stash.
	PutPropPtr(objIdx int, key HeapPtr)
	DelPropPtr(objIdx int, key HeapPtr)
	// Keys returns the own enumerable property names of the object at idx,
	// including hidden names (this is a C-API-level enumeration).
	Keys(objIdx int) []string

	// SetFinalizer registers the function at the stack top as the finalizer
	// of the object at objIdx, then pops it. The finalizer receives the
	// object as its single argument when the engine collects it.
	SetFinalizer(objIdx int)

	// MakeProxy replaces the object at the stack top with a dynamic proxy.
	// Property reads route through the NativeFunc stored under getProp on
	// the target and invocations through applyProp. The get trap receives
	// (target, key, receiver); the apply trap receives (target, thisArg,
	// argsArray).
	MakeProxy(getProp, applyProp string) error

	// Guarded execution. All four leave either the result or nothing on the
	// stack and return a *ScriptError on failure.
	PEval(src, filename string) error
	// PCompile compiles src as a callable without executing it and pushes
	// the resulting function object.
	PCompile(src, filename string) error
	// PCall invokes the callable below nargs arguments on the stack,
	// replacing callable and arguments with the result.
	PCall(nargs int) error
	// PCallProp invokes the named property of the object at objIdx. The key
	// and nargs arguments are above it on the stack; they are replaced by
	// the result, leaving the target object in place.
	PCallProp(objIdx int, nargs int) error

	SetFatalHandler(fn FatalHandler)

	// RequestGC asks the engine to run a full collection pass, invoking
	// finalizers for unreachable objects.
	RequestGC()

	// Debugger hooks.
	AttachDebugger(t DebugTransport) error
	DetachDebugger()
	DebuggerCooperate()

	// Destroy tears down the engine heap. No method may be called after.
	Destroy()
}

// ScriptError is an engine-reported execution or compilation failure.
type ScriptError struct {
	Message  string
	FileName string
	// Dump is a formatted engine state dump, populated in debug builds.
	Dump string
}

func (e *ScriptError) Error() string {
	if e.FileName != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.FileName)
	}
	return e.Message
}
