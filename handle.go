package mallard

import (
	"fmt"

	"github.com/mallardjs/mallard/engine"
)

// Handle is a host-side reference to a script-heap object. It does not keep
// the object alive by itself; liveness comes from the anchor table entry
// created when the handle first crossed into host space. A handle either
// resolves to a live script object or behaves as null; there is no dangling
// state.
type Handle struct {
	ctx *Context
	ptr engine.HeapPtr
}

var _ HostObject = (*Handle)(nil)

// HeapPtr returns the underlying engine heap pointer.
func (h *Handle) HeapPtr() engine.HeapPtr { return h.ptr }

func (h *Handle) String() string {
	return fmt.Sprintf("handle(%s, %s)", h.ctx.id, h.ptr)
}

// Get resolves a property of the script object.
func (h *Handle) Get(name string) (any, error) {
	return h.ctx.GetProperty(h, name)
}

// Invoke calls the script object as a function.
func (h *Handle) Invoke(this any, args []any) (any, error) {
	return h.ctx.Call(h, args...)
}

// Call invokes the script object as a function.
func (h *Handle) Call(args ...any) (any, error) {
	return h.ctx.Call(h, args...)
}

// CallMethod invokes a named member of the script object.
func (h *Handle) CallMethod(name string, args ...any) (any, error) {
	return h.ctx.CallMethod(h, name, args...)
}

// anchor installs an engine-side hard reference for ptr in the global stash,
// keeping the script object alive for the life of the context. Anchoring is
// idempotent: repeated handle creation for one pointer yields one entry.
func (c *Context) anchor(ptr engine.HeapPtr) {
	if _, ok := c.anchored[ptr]; ok {
		return
	}
	e := c.eng
	e.PushGlobalStash()
	e.PushHeapPtr(ptr)
	e.PutPropPtr(-2, ptr)
	e.Pop()
	c.anchored[ptr] = struct{}{}
}

// anchorCount reports the number of anchor table entries.
func (c *Context) anchorCount() int { return len(c.anchored) }

// dropAnchors removes every hard reference from the stash. Called during
// context teardown, before the heap is destroyed.
func (c *Context) dropAnchors() {
	e := c.eng
	e.PushGlobalStash()
	for ptr := range c.anchored {
		e.DelPropPtr(-1, ptr)
	}
	e.Pop()
	c.anchored = map[engine.HeapPtr]struct{}{}
}

// ScriptObject exposes a named script object so host code can invoke its
// declared methods by name. Calls go through the engine's own property
// lookup rather than a dispatch trap, since the callee lives in script
// space.
type ScriptObject struct {
	handle  *Handle
	name    string
	methods map[string]struct{}
}

var _ HostObject = (*ScriptObject)(nil)

// Handle returns the underlying script handle.
func (s *ScriptObject) Handle() *Handle { return s.handle }

func (s *ScriptObject) String() string {
	return fmt.Sprintf("script_object(%s)", s.name)
}

// Call invokes one of the object's declared methods.
func (s *ScriptObject) Call(method string, args ...any) (any, error) {
	if _, ok := s.methods[method]; !ok {
		return nil, fmt.Errorf("%s has no declared method %q", s.name, method)
	}
	return s.handle.CallMethod(method, args...)
}

// Get resolves a property of the script object.
func (s *ScriptObject) Get(name string) (any, error) {
	return s.handle.Get(name)
}

// Invoke calls the script object as a function.
func (s *ScriptObject) Invoke(this any, args []any) (any, error) {
	return s.handle.Invoke(this, args)
}
