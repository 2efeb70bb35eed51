package mallard

import (
	"errors"
	"fmt"
	"sync"
	"weak"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/mallardjs/mallard/engine"
	"github.com/mallardjs/mallard/internal/handles"
)

type contextState int

const (
	stateActive contextState = iota
	stateDestroying
	stateDestroyed
)

// Context is the bridge between host code and one embedded script engine
// instance. It owns the engine heap, the anchor table keeping script objects
// alive for host-side handles, and the strong references the engine holds
// over host objects.
//
// A Context is driven by one logical thread at a time. Public operations are
// mutually exclusive critical sections; nested reentrant invocation from a
// dispatch callback on the same call chain is supported, but two goroutines
// must never use one context (or handles derived from it) concurrently.
type Context struct {
	id       uuid.UUID
	eng      engine.Engine
	log      zerolog.Logger
	registry *TypeRegistry

	// hosts holds every strong reference the engine has over host space:
	// proxied host objects and bound method records.
	hosts *handles.Table

	// anchored tracks which heap pointers have a hard reference in the
	// engine stash. wrappers maps them to the host-side handle wrappers,
	// weakly, so an unused wrapper can be collected and re-minted later.
	anchored map[engine.HeapPtr]struct{}
	wrappers map[engine.HeapPtr]weak.Pointer[Handle]

	// scripts is the registry of script objects exposed to the host,
	// drained before the heap is torn down.
	scripts []*ScriptObject

	pending error

	mu         sync.Mutex
	depth      int
	state      contextState
	stackCheck bool
	debugging  bool
}

// New creates a bridge context owning the given engine instance. The
// context assumes ownership: Close tears the engine down.
func New(eng engine.Engine, opts ...Option) (*Context, error) {
	if eng == nil {
		return nil, errors.New("mallard: nil engine")
	}
	c := &Context{
		id:       uuid.Must(uuid.NewV4()),
		eng:      eng,
		log:      zerolog.Nop(),
		registry: DefaultRegistry(),
		hosts:    handles.NewTable(),
		anchored: map[engine.HeapPtr]struct{}{},
		wrappers: map[engine.HeapPtr]weak.Pointer[Handle]{},
	}
	for _, opt := range opts {
		opt(c)
	}
	eng.SetFatalHandler(func(msg string) {
		c.log.Error().Stringer("ctx", c.id).Str("detail", msg).Msg("fatal engine error")
		panic(&FatalError{Message: msg})
	})
	c.log.Debug().Stringer("ctx", c.id).Msg("bridge context created")
	return c, nil
}

// ID returns the context's unique identity.
func (c *Context) ID() uuid.UUID { return c.id }

// enter begins a critical section over the engine. A nested call from a
// dispatch callback finds depth > 0 and joins the section already held by
// its caller; taking the mutex again would self-deadlock. This relies on
// the single-logical-thread contract: only the call chain currently inside
// the engine can observe depth > 0.
func (c *Context) enter() error {
	if c.depth > 0 {
		c.depth++
		return nil
	}
	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.depth++
	return nil
}

func (c *Context) leave() {
	c.depth--
	if c.depth == 0 {
		c.mu.Unlock()
	}
}

// translate converts an engine-reported failure into the host-facing error:
// a pending host error captured mid-dispatch takes precedence over the
// engine's own diagnostic.
func (c *Context) translate(err error) error {
	if p := c.takePending(); p != nil {
		return &HostError{Err: p}
	}
	return newEvalError(err)
}

// Evaluate compiles and runs source as a top-level script. The filename is
// used in diagnostics.
func (c *Context) Evaluate(source, filename string) (any, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()
	defer c.resetPending()()

	if err := c.eng.PEval(source, filename); err != nil {
		return nil, c.translate(err)
	}
	return c.popValue()
}

// Compile compiles source without executing it, returning a handle to an
// invocable function object.
func (c *Context) Compile(source, filename string) (*Handle, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()
	defer c.resetPending()()

	if err := c.eng.PCompile(source, filename); err != nil {
		return nil, c.translate(err)
	}
	v, err := c.popValue()
	if err != nil {
		return nil, err
	}
	h, ok := v.(*Handle)
	if !ok {
		return nil, fmt.Errorf("mallard: compile produced %T, not a script handle", v)
	}
	return h, nil
}

// Call invokes the script function behind target with the given arguments.
func (c *Context) Call(target *Handle, args ...any) (any, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()
	defer c.resetPending()()

	e := c.eng
	if err := c.pushValue(target); err != nil {
		return nil, err
	}
	for i, arg := range args {
		if err := c.pushValue(arg); err != nil {
			e.PopN(i + 1)
			return nil, err
		}
	}
	if err := e.PCall(len(args)); err != nil {
		return nil, c.translate(err)
	}
	return c.popValue()
}

// CallMethod invokes a named member of the script object behind target.
func (c *Context) CallMethod(target *Handle, name string, args ...any) (any, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()
	defer c.resetPending()()

	e := c.eng
	if err := c.pushValue(target); err != nil {
		return nil, err
	}
	objIdx := e.NormalizeIndex(-1)
	e.PushString(name)
	for i, arg := range args {
		if err := c.pushValue(arg); err != nil {
			// Target, method name, and i marshalled arguments are on the
			// stack at this point.
			e.PopN(i + 2)
			return nil, err
		}
	}
	if err := e.PCallProp(objIdx, len(args)); err != nil {
		// The indexed target is still on the stack on the failure path.
		e.Pop()
		return nil, c.translate(err)
	}
	v, err := c.popValue()
	e.Pop()
	return v, err
}

// GetProperty reads a property of the script object behind target. String
// and integer keys are supported; any other key type is coerced to its
// string form.
func (c *Context) GetProperty(target *Handle, key any) (any, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()
	defer c.resetPending()()

	e := c.eng
	if err := c.pushValue(target); err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case string:
		e.GetProp(-1, k)
	case int:
		e.GetPropIndex(-1, k)
	default:
		e.GetProp(-1, fmt.Sprint(key))
	}
	v, err := c.popValue()
	e.Pop()
	return v, err
}

// GetPropertyIndex reads element i of the script object behind target.
func (c *Context) GetPropertyIndex(target *Handle, i int) (any, error) {
	return c.GetProperty(target, i)
}

// SetGlobal binds a marshalled value as a global. It fails with
// ErrAlreadyDefined if the name is taken, to avoid silently shadowing a
// prior binding.
func (c *Context) SetGlobal(name string, value any) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	defer c.guard(0)()

	e := c.eng
	e.PushGlobalObject()
	if e.HasProp(-1, name) {
		e.Pop()
		return fmt.Errorf("global %q: %w", name, ErrAlreadyDefined)
	}
	if err := c.pushValue(value); err != nil {
		e.Pop()
		return err
	}
	e.PutProp(-2, name)
	e.Pop()
	return nil
}

// ExposeHostObject binds a host object as a named global with one native
// callable slot per method descriptor. Every descriptor is validated before
// any engine state is touched; a single invalid descriptor aborts the whole
// binding.
func (c *Context) ExposeHostObject(name string, obj any, methods []MethodSpec) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	defer c.guard(0)()

	e := c.eng
	e.PushGlobalObject()
	if e.HasProp(-1, name) {
		e.Pop()
		return fmt.Errorf("global %q: %w", name, ErrAlreadyDefined)
	}

	ho := asHostObject(obj, c.registry)
	var merr *multierror.Error
	seen := make(map[string]struct{}, len(methods))
	records := make([]*boundMethod, 0, len(methods))
	for _, spec := range methods {
		if _, dup := seen[spec.Name]; dup {
			merr = multierror.Append(merr, fmt.Errorf("%w: duplicate method %q", ErrInvalidMethod, spec.Name))
			continue
		}
		seen[spec.Name] = struct{}{}
		rec, err := bindMethod(ho, spec)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("in bound method %s.%s: %w", name, spec.Name, err))
			continue
		}
		records = append(records, rec)
	}
	if err := merr.ErrorOrNil(); err != nil {
		e.Pop()
		return err
	}

	c.pushBoundObject(&hostEntry{obj: ho, raw: obj}, records)
	e.PutProp(-2, name)
	e.Pop()

	c.log.Debug().Stringer("ctx", c.id).Str("name", name).Int("methods", len(records)).
		Msg("host object exposed")
	return nil
}

// ExposeScriptObject wraps the named global script object so host code can
// invoke its declared methods by name. Calls go through the engine's own
// property lookup.
func (c *Context) ExposeScriptObject(name string, methods []string) (*ScriptObject, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	defer c.guard(0)()

	e := c.eng
	e.PushGlobalObject()
	if !e.GetProp(-1, name) {
		e.PopN(2)
		return nil, fmt.Errorf("global %q is not defined", name)
	}
	if e.GetType(-1) != engine.TypeObject {
		e.PopN(2)
		return nil, fmt.Errorf("global %q is not an object", name)
	}
	v, err := c.popValue()
	e.Pop()
	if err != nil {
		return nil, err
	}
	h, ok := v.(*Handle)
	if !ok {
		return nil, fmt.Errorf("global %q is host-backed, not a script object", name)
	}

	declared := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		declared[m] = struct{}{}
	}
	so := &ScriptObject{handle: h, name: name, methods: declared}
	c.scripts = append(c.scripts, so)
	return so, nil
}

// RunGC asks the engine to run a full collection pass, invoking finalizers
// for unreachable objects.
func (c *Context) RunGC() error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.eng.RequestGC()
	return nil
}

// Close drains the script-object registry, drops every anchor, and tears
// down the engine heap. Proxies never outlive the heap that backs them. No
// operation is valid once Close begins.
func (c *Context) Close() error {
	if err := c.enter(); err != nil {
		return err
	}
	c.state = stateDestroying

	c.scripts = nil
	c.wrappers = map[engine.HeapPtr]weak.Pointer[Handle]{}
	c.dropAnchors()
	// Destroying the heap runs outstanding finalizers, which release the
	// remaining strong host references.
	c.eng.Destroy()

	c.state = stateDestroyed
	c.leave()
	c.log.Debug().Stringer("ctx", c.id).Msg("bridge context closed")
	return nil
}
