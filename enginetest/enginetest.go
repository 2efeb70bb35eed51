// Package enginetest provides an in-memory script engine implementing the
// engine.Engine contract. It exists so that the bridge can be exercised
// without linking a native engine: it keeps a real value stack, a heap with
// mark/sweep collection and finalizer support, dynamic proxies, and a small
// expression evaluator covering literals, arithmetic, property access, and
// calls.
//
// It is used by the bridge's own tests and by the demo CLI. It is not a
// general-purpose script engine.
package enginetest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mallardjs/mallard/engine"
)

type value struct {
	kind engine.Type
	b    bool
	n    float64
	s    string
	obj  *object
	tok  uint64
}

var undefined = value{kind: engine.TypeUndefined}

func objValue(o *object) value { return value{kind: engine.TypeObject, obj: o} }

type object struct {
	ptr   engine.HeapPtr
	props map[string]value
	elems []value
	array bool

	// Callable objects carry either a native function or a compiled body.
	fn   engine.NativeFunc
	args int
	body expr
	file string

	finalizer *object
	finalized bool

	// Proxy objects delegate to a target through named trap properties.
	proxy     *object
	getTrap   string
	applyTrap string

	mark bool
}

type frame struct {
	base int
	this value
}

// Engine is an in-memory implementation of engine.Engine.
type Engine struct {
	stack  []value
	frames []frame
	heap   map[engine.HeapPtr]*object
	next   engine.HeapPtr
	global *object
	stash  *object
	fatal  engine.FatalHandler
	debug  engine.DebugTransport
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty engine with a fresh heap.
func New() *Engine {
	e := &Engine{heap: map[engine.HeapPtr]*object{}}
	e.global = e.newObject()
	e.stash = e.newObject()
	return e
}

func (e *Engine) newObject() *object {
	e.next++
	o := &object{ptr: e.next, props: map[string]value{}}
	e.heap[o.ptr] = o
	return o
}

func (e *Engine) base() int {
	if n := len(e.frames); n > 0 {
		return e.frames[n-1].base
	}
	return 0
}

func (e *Engine) index(idx int) int {
	b := e.base()
	if idx < 0 {
		idx = len(e.stack) + idx
	} else {
		idx = b + idx
	}
	if idx < b || idx >= len(e.stack) {
		e.fatalError(fmt.Sprintf("stack index %d out of range", idx))
	}
	return idx
}

func (e *Engine) at(idx int) value { return e.stack[e.index(idx)] }

func (e *Engine) push(v value) { e.stack = append(e.stack, v) }

func (e *Engine) fatalError(msg string) {
	if e.fatal != nil {
		e.fatal(msg)
	}
	panic("enginetest: " + msg)
}

// Stack operations.

func (e *Engine) Depth() int { return len(e.stack) - e.base() }

func (e *Engine) Pop() { e.PopN(1) }

func (e *Engine) PopN(n int) {
	if e.Depth() < n {
		e.fatalError("pop from empty stack")
	}
	e.stack = e.stack[:len(e.stack)-n]
}

func (e *Engine) Dup(idx int) { e.push(e.at(idx)) }

func (e *Engine) NormalizeIndex(idx int) int { return e.index(idx) - e.base() }

func (e *Engine) PushUndefined()       { e.push(undefined) }
func (e *Engine) PushNull()            { e.push(value{kind: engine.TypeNull}) }
func (e *Engine) PushBool(v bool)      { e.push(value{kind: engine.TypeBoolean, b: v}) }
func (e *Engine) PushNumber(v float64) { e.push(value{kind: engine.TypeNumber, n: v}) }
func (e *Engine) PushString(v string)  { e.push(value{kind: engine.TypeString, s: v}) }

func (e *Engine) PushObject() int {
	e.push(objValue(e.newObject()))
	return e.Depth() - 1
}

func (e *Engine) PushArray() int {
	o := e.newObject()
	o.array = true
	e.push(objValue(o))
	return e.Depth() - 1
}

func (e *Engine) PushPointer(token uint64) {
	e.push(value{kind: engine.TypePointer, tok: token})
}

func (e *Engine) PushHeapPtr(ptr engine.HeapPtr) {
	if o, ok := e.heap[ptr]; ok {
		e.push(objValue(o))
		return
	}
	e.push(undefined)
}

func (e *Engine) PushGlobalObject() { e.push(objValue(e.global)) }
func (e *Engine) PushGlobalStash() { e.push(objValue(e.stash)) }

func (e *Engine) PushFunc(fn engine.NativeFunc, nargs int) int {
	o := e.newObject()
	o.fn = fn
	o.args = nargs
	e.push(objValue(o))
	return e.Depth() - 1
}

func (e *Engine) PushThis() {
	if n := len(e.frames); n > 0 {
		e.push(e.frames[n-1].this)
		return
	}
	e.push(undefined)
}

// Value inspection.

func (e *Engine) GetType(idx int) engine.Type { return e.at(idx).kind }

func (e *Engine) IsArray(idx int) bool {
	v := e.at(idx)
	return v.kind == engine.TypeObject && v.obj.array
}

func (e *Engine) IsFunction(idx int) bool {
	v := e.at(idx)
	if v.kind != engine.TypeObject {
		return false
	}
	o := v.obj
	return o.fn != nil || o.body != nil || (o.proxy != nil && o.proxy.callable())
}

func (o *object) callable() bool { return o.fn != nil || o.body != nil }

func (e *Engine) GetBool(idx int) bool { return e.at(idx).b }

func (e *Engine) GetNumber(idx int) float64 { return e.at(idx).n }

func (e *Engine) GetString(idx int) string { return e.at(idx).s }

func (e *Engine) GetPointer(idx int) (uint64, bool) {
	v := e.at(idx)
	if v.kind != engine.TypePointer {
		return 0, false
	}
	return v.tok, true
}

func (e *Engine) GetHeapPtr(idx int) engine.HeapPtr {
	v := e.at(idx)
	if v.kind != engine.TypeObject {
		return 0
	}
	return v.obj.ptr
}

func (e *Engine) GetLength(idx int) int {
	v := e.at(idx)
	if v.kind != engine.TypeObject {
		return 0
	}
	return len(v.obj.elems)
}

func (e *Engine) SafeToString(idx int) string { return stringify(e.at(idx)) }

func stringify(v value) string {
	switch v.kind {
	case engine.TypeUndefined:
		return "undefined"
	case engine.TypeNull:
		return "null"
	case engine.TypeBoolean:
		return strconv.FormatBool(v.b)
	case engine.TypeNumber:
		return formatNumber(v.n)
	case engine.TypeString:
		return v.s
	case engine.TypePointer:
		return fmt.Sprintf("pointer(%d)", v.tok)
	case engine.TypeObject:
		o := v.obj
		if o.array {
			parts := make([]string, len(o.elems))
			for i, el := range o.elems {
				parts[i] = stringify(el)
			}
			return strings.Join(parts, ",")
		}
		if o.callable() || (o.proxy != nil && o.proxy.callable()) {
			return "function"
		}
		return "[object Object]"
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Property operations.

// target resolves proxies to the underlying object for operations that
// forward to the target (has, put, delete, keys).
func (o *object) target() *object {
	for o.proxy != nil {
		o = o.proxy
	}
	return o
}

func (e *Engine) object(idx int) *object {
	v := e.at(idx)
	if v.kind != engine.TypeObject {
		return nil
	}
	return v.obj
}

func (e *Engine) GetProp(objIdx int, key string) bool {
	o := e.object(objIdx)
	if o == nil {
		e.push(undefined)
		return false
	}
	v, ok, err := e.getPropValue(o, key)
	if err != nil {
		// Trap failures surface as undefined at the C-API level.
		e.push(undefined)
		return false
	}
	e.push(v)
	return ok
}

// getPropValue reads a property, routing through the get trap when o is a
// proxy whose target carries one.
func (e *Engine) getPropValue(o *object, key string) (value, bool, error) {
	if o.proxy != nil {
		t := o.proxy
		if trap, ok := t.props[o.getTrap]; ok && trap.kind == engine.TypeObject && trap.obj.callable() {
			v, err := e.call(trap, undefined, []value{objValue(t), {kind: engine.TypeString, s: key}, objValue(o)})
			return v, err == nil, err
		}
		o = t
	}
	v, ok := o.props[key]
	if !ok {
		return undefined, false, nil
	}
	return v, true, nil
}

func (e *Engine) PutProp(objIdx int, key string) {
	o := e.object(objIdx)
	v := e.at(-1)
	e.Pop()
	if o == nil {
		return
	}
	o.target().props[key] = v
}

func (e *Engine) HasProp(objIdx int, key string) bool {
	o := e.object(objIdx)
	if o == nil {
		return false
	}
	_, ok := o.target().props[key]
	return ok
}

func (e *Engine) DelProp(objIdx int, key string) {
	if o := e.object(objIdx); o != nil {
		delete(o.target().props, key)
	}
}

func (e *Engine) GetPropIndex(objIdx int, i int) {
	o := e.object(objIdx)
	if o == nil || i < 0 || i >= len(o.target().elems) {
		e.push(undefined)
		return
	}
	e.push(o.target().elems[i])
}

func (e *Engine) PutPropIndex(objIdx int, i int) {
	o := e.object(objIdx)
	v := e.at(-1)
	e.Pop()
	if o == nil || i < 0 {
		return
	}
	t := o.target()
	for len(t.elems) <= i {
		t.elems = append(t.elems, undefined)
	}
	t.elems[i] = v
}

func ptrKey(key engine.HeapPtr) string {
	return "\xff\xffptr:" + strconv.FormatUint(uint64(key), 10)
}

func (e *Engine) PutPropPtr(objIdx int, key engine.HeapPtr) {
	e.PutProp(objIdx, ptrKey(key))
}

func (e *Engine) DelPropPtr(objIdx int, key engine.HeapPtr) {
	e.DelProp(objIdx, ptrKey(key))
}

func (e *Engine) Keys(objIdx int) []string {
	o := e.object(objIdx)
	if o == nil {
		return nil
	}
	t := o.target()
	keys := make([]string, 0, len(t.props))
	for k := range t.props {
		keys = append(keys, k)
	}
	return keys
}

func (e *Engine) SetFinalizer(objIdx int) {
	o := e.object(objIdx)
	fin := e.at(-1)
	e.Pop()
	if o == nil || fin.kind != engine.TypeObject {
		return
	}
	o.finalizer = fin.obj
}

func (e *Engine) MakeProxy(getProp, applyProp string) error {
	t := e.object(-1)
	if t == nil {
		return fmt.Errorf("enginetest: proxy target is not an object")
	}
	p := e.newObject()
	p.proxy = t
	p.getTrap = getProp
	p.applyTrap = applyProp
	e.Pop()
	e.push(objValue(p))
	return nil
}

// Calls.

// call invokes a callable value with the given receiver and arguments,
// returning the single result value.
func (e *Engine) call(callee, this value, args []value) (value, error) {
	if callee.kind != engine.TypeObject {
		return undefined, fmt.Errorf("TypeError: %s is not a function", stringify(callee))
	}
	o := callee.obj

	if o.proxy != nil {
		t := o.proxy
		trap, ok := t.props[o.applyTrap]
		if !ok || trap.kind != engine.TypeObject || !trap.obj.callable() {
			return undefined, fmt.Errorf("TypeError: proxy is not callable")
		}
		arr := e.newObject()
		arr.array = true
		arr.elems = append(arr.elems, args...)
		return e.call(trap, undefined, []value{objValue(t), this, objValue(arr)})
	}

	if o.fn != nil {
		e.frames = append(e.frames, frame{base: len(e.stack), this: this})
		for _, a := range args {
			e.push(a)
		}
		nret, err := o.fn(e)
		result := undefined
		if err == nil && nret > 0 && e.Depth() > 0 {
			result = e.at(-1)
		}
		fr := e.frames[len(e.frames)-1]
		e.frames = e.frames[:len(e.frames)-1]
		e.stack = e.stack[:fr.base]
		return result, err
	}

	if o.body != nil {
		return e.eval(o.body, o.file)
	}

	return undefined, fmt.Errorf("TypeError: %s is not a function", stringify(callee))
}

func (e *Engine) PEval(src, filename string) error {
	prog, err := parse(src)
	if err != nil {
		return &engine.ScriptError{Message: err.Error(), FileName: filename}
	}
	v, err := e.eval(prog, filename)
	if err != nil {
		if se, ok := err.(*engine.ScriptError); ok {
			return se
		}
		return &engine.ScriptError{Message: err.Error(), FileName: filename}
	}
	e.push(v)
	return nil
}

func (e *Engine) PCompile(src, filename string) error {
	prog, err := parse(src)
	if err != nil {
		return &engine.ScriptError{Message: err.Error(), FileName: filename}
	}
	o := e.newObject()
	o.body = prog
	o.file = filename
	e.push(objValue(o))
	return nil
}

func (e *Engine) PCall(nargs int) error {
	if e.Depth() < nargs+1 {
		e.fatalError("pcall with insufficient operands")
	}
	callee := e.at(-(nargs + 1))
	args := make([]value, nargs)
	for i := 0; i < nargs; i++ {
		args[i] = e.at(-(nargs - i))
	}
	e.PopN(nargs + 1)
	v, err := e.call(callee, undefined, args)
	if err != nil {
		return toScriptError(err)
	}
	e.push(v)
	return nil
}

func (e *Engine) PCallProp(objIdx int, nargs int) error {
	objIdx = e.NormalizeIndex(objIdx)
	target := e.at(objIdx)
	key := stringify(e.at(-(nargs + 1)))
	args := make([]value, nargs)
	for i := 0; i < nargs; i++ {
		args[i] = e.at(-(nargs - i))
	}
	e.PopN(nargs + 1)
	if target.kind != engine.TypeObject {
		return toScriptError(fmt.Errorf("TypeError: cannot call property %q of %s", key, stringify(target)))
	}
	member, _, err := e.getPropValue(target.obj, key)
	if err != nil {
		return toScriptError(err)
	}
	v, err := e.call(member, target, args)
	if err != nil {
		return toScriptError(err)
	}
	e.push(v)
	return nil
}

func toScriptError(err error) error {
	if se, ok := err.(*engine.ScriptError); ok {
		return se
	}
	return &engine.ScriptError{Message: err.Error()}
}

func (e *Engine) SetFatalHandler(fn engine.FatalHandler) { e.fatal = fn }

// Garbage collection.

func (e *Engine) RequestGC() {
	for _, o := range e.heap {
		o.mark = false
	}
	for _, v := range e.stack {
		markValue(v)
	}
	for _, fr := range e.frames {
		markValue(fr.this)
	}
	markObject(e.global)
	markObject(e.stash)

	var dead []*object
	for _, o := range e.heap {
		if !o.mark {
			dead = append(dead, o)
		}
	}
	for _, o := range dead {
		e.finalize(o)
		delete(e.heap, o.ptr)
	}
}

func markValue(v value) {
	if v.kind == engine.TypeObject {
		markObject(v.obj)
	}
}

func markObject(o *object) {
	if o == nil || o.mark {
		return
	}
	o.mark = true
	for _, v := range o.props {
		markValue(v)
	}
	for _, v := range o.elems {
		markValue(v)
	}
	if o.finalizer != nil {
		markObject(o.finalizer)
	}
	if o.proxy != nil {
		markObject(o.proxy)
	}
}

// finalize runs an object's finalizer once, ignoring errors the way a real
// collector does.
func (e *Engine) finalize(o *object) {
	if o.finalizer == nil || o.finalized {
		return
	}
	o.finalized = true
	_, _ = e.call(objValue(o.finalizer), undefined, []value{objValue(o)})
}

// Debugger hooks.

func (e *Engine) AttachDebugger(t engine.DebugTransport) error {
	if e.debug != nil {
		return fmt.Errorf("enginetest: debugger already attached")
	}
	e.debug = t
	return nil
}

func (e *Engine) DetachDebugger() {
	if e.debug != nil {
		e.debug.Detached()
		e.debug = nil
	}
}

func (e *Engine) DebuggerCooperate() {}

// Destroy finalizes every live object and drops the heap.
func (e *Engine) Destroy() {
	for _, o := range e.heap {
		e.finalize(o)
	}
	e.heap = map[engine.HeapPtr]*object{}
	e.stack = nil
	e.frames = nil
}

// ObjectCount reports the number of live heap objects, for tests.
func (e *Engine) ObjectCount() int { return len(e.heap) }
