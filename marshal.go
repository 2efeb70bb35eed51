package mallard

import (
	"weak"

	"github.com/mallardjs/mallard/engine"
)

// Reserved internal property names. The "\xff\xff" prefix keeps them hidden
// from script code; they are visible only through the engine's C-style API.
const (
	hiddenPrefix  = "\xff\xff"
	hostRefProp   = hiddenPrefix + "mallard_host"
	methodProp    = hiddenPrefix + "mallard_method"
	getTrapProp   = hiddenPrefix + "mallard_get"
	applyTrapProp = hiddenPrefix + "mallard_apply"
)

// pushValue marshals a host value onto the engine stack. Nil becomes script
// null; registered native types convert directly; a handle owned by this
// context is pushed as its original heap pointer; everything else is wrapped
// in a host proxy. Marshalling is total: unsupported types degrade to
// proxying rather than failing.
func (c *Context) pushValue(v any) error {
	e := c.eng
	if v == nil {
		e.PushNull()
		return nil
	}

	if h, ok := v.(*Handle); ok && h != nil {
		if h.ctx == c {
			e.PushHeapPtr(h.ptr)
			return nil
		}
		// A handle from a foreign context cannot reuse its heap pointer
		// here; it is proxied like any other host object and its calls
		// route back into the owning context. A zero-value handle has no
		// owner at all and is treated as an ordinary host value.
		if h.ctx != nil {
			c.log.Debug().
				Stringer("owner", h.ctx.id).
				Stringer("ctx", c.id).
				Msg("proxying foreign-context handle")
		}
	}

	err := c.registry.Push(c, v)
	if err == nil {
		return nil
	}
	if err != errNotConvertible {
		return err
	}
	return c.pushHostProxy(v)
}

// popValue consumes the engine stack top and returns its host
// representation.
func (c *Context) popValue() (any, error) {
	e := c.eng
	switch e.GetType(-1) {
	case engine.TypeBoolean:
		v := e.GetBool(-1)
		e.Pop()
		return v, nil
	case engine.TypeNumber:
		v := e.GetNumber(-1)
		e.Pop()
		return v, nil
	case engine.TypeString:
		v := e.GetString(-1)
		e.Pop()
		return v, nil
	case engine.TypeObject:
		if e.IsArray(-1) {
			return c.popArray()
		}
		return c.popObject()
	default:
		// Undefined, null, or an unsupported engine type.
		e.Pop()
		return nil, nil
	}
}

func (c *Context) popArray() (any, error) {
	e := c.eng
	n := e.GetLength(-1)
	items := make([]any, n)
	for i := 0; i < n; i++ {
		e.GetPropIndex(-1, i)
		v, err := c.popValue()
		if err != nil {
			e.Pop()
			return nil, err
		}
		items[i] = v
	}
	e.Pop()
	return items, nil
}

// popObject resolves an engine object to a host value: a live host
// back-pointer unwraps to the original host object; otherwise the object is
// wrapped in a handle, reusing the existing wrapper when the weak reference
// to it is still live.
func (c *Context) popObject() (any, error) {
	e := c.eng

	// On a proxied host object this read routes through the get trap, which
	// short-circuits the reserved name to the raw token.
	if e.HasProp(-1, hostRefProp) {
		if e.GetProp(-1, hostRefProp) {
			if tok, ok := e.GetPointer(-1); ok {
				if entry, live := c.hosts.Get(tok); live {
					e.Pop()
					e.Pop()
					return entry.(*hostEntry).raw, nil
				}
			}
			e.Pop()
			// Stale back-pointer: scrub the marker and fall through to
			// wrapping the object as a plain script handle.
			e.DelProp(-1, hostRefProp)
		} else {
			e.Pop()
		}
	}

	ptr := e.GetHeapPtr(-1)
	if wp, ok := c.wrappers[ptr]; ok {
		if h := wp.Value(); h != nil {
			e.Pop()
			return h, nil
		}
		// The host collected the previous wrapper; mint a fresh one.
		delete(c.wrappers, ptr)
		c.log.Debug().Stringer("ptr", ptr).Msg("scrubbed dead script wrapper")
	}

	h := &Handle{ctx: c, ptr: ptr}
	c.anchor(ptr)
	c.wrappers[ptr] = weak.Make(h)
	e.Pop()
	return h, nil
}
