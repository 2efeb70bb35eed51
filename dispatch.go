package mallard

import (
	"errors"
	"fmt"

	"github.com/mallardjs/mallard/engine"
)

// The dispatch traps are installed on every dynamically proxied host object.
// The engine invokes trapGet with (target, key, receiver) on the stack and
// trapApply with (target, thisArg, argumentsArray). Both must leave the
// frame balanced on every path; the engine discards the frame above the
// declared result.

var errDeadReference = errors.New("host reference is dead")

// setPending records a host failure captured mid-dispatch, to be re-raised
// in the host caller's frame once control returns across the boundary. At
// most one pending error exists per call frame; the first capture wins.
func (c *Context) setPending(err error) {
	if c.pending == nil {
		c.pending = err
	}
}

// takePending consumes the pending error, if any.
func (c *Context) takePending() error {
	err := c.pending
	c.pending = nil
	return err
}

// resetPending clears any pending error now and returns a closure that
// clears again when the surrounding operation exits. An error captured in a
// trap but swallowed script-side would otherwise linger and mislabel a
// later, unrelated failure as a host error.
func (c *Context) resetPending() func() {
	c.takePending()
	return func() { c.takePending() }
}

// resolveHostRef reads the hidden back-pointer of the object at the stack
// top and resolves it to its live host entry.
func (c *Context) resolveHostRef(e engine.Engine) (uint64, *hostEntry, error) {
	var tok uint64
	if e.GetProp(-1, hostRefProp) {
		tok, _ = e.GetPointer(-1)
	}
	e.Pop()
	v, ok := c.hosts.Get(tok)
	if !ok {
		return 0, nil, errDeadReference
	}
	return tok, v.(*hostEntry), nil
}

func (c *Context) trapGet(e engine.Engine) (int, error) {
	e.Pop() // receiver
	key := e.GetString(-1)
	e.Pop()

	tok, entry, err := c.resolveHostRef(e)
	if err != nil {
		return 0, err
	}

	// Reserved name: short-circuit the raw token so popValue can unwrap
	// the host object without a capability call.
	if key == hostRefProp {
		e.PushPointer(tok)
		return 1, nil
	}

	result, err := entry.obj.Get(key)
	if err != nil {
		c.setPending(err)
		return 0, err
	}
	if err := c.pushValue(result); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *Context) trapApply(e engine.Engine) (int, error) {
	n := e.GetLength(-1)
	args := make([]any, n)
	for i := 0; i < n; i++ {
		e.GetPropIndex(-1, i)
		v, err := c.popValue()
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	e.Pop() // arguments array

	this, err := c.popValue()
	if err != nil {
		return 0, err
	}

	_, entry, err := c.resolveHostRef(e)
	if err != nil {
		return 0, err
	}

	result, err := entry.obj.Invoke(this, args)
	if err != nil {
		c.setPending(err)
		return 0, fmt.Errorf("host invocation failed: %s", err)
	}
	if err := c.pushValue(result); err != nil {
		return 0, err
	}
	return 1, nil
}
