package mallard

import (
	"github.com/mallardjs/mallard/engine"
)

// hostEntry is the strong reference held by the engine over a host object.
// It lives in the host table from proxy construction until the proxy's
// finalizer releases it.
type hostEntry struct {
	obj HostObject
	// raw is the original host value, returned unchanged when the proxy
	// crosses back into host space.
	raw any
}

// pushHostProxy wraps an arbitrary host value in a script-heap proxy whose
// property reads and invocations route through the dispatch traps.
func (c *Context) pushHostProxy(v any) error {
	e := c.eng
	entry := &hostEntry{obj: asHostObject(v, c.registry), raw: v}

	objIdx := e.PushObject()

	e.PushFunc(c.finalizeProxy, 1)
	e.SetFinalizer(objIdx)

	tok := c.hosts.Add(entry)
	e.PushPointer(tok)
	e.PutProp(objIdx, hostRefProp)

	e.PushFunc(c.trapGet, 3)
	e.PutProp(objIdx, getTrapProp)
	e.PushFunc(c.trapApply, 3)
	e.PutProp(objIdx, applyTrapProp)

	if err := e.MakeProxy(getTrapProp, applyTrapProp); err != nil {
		e.Pop()
		c.hosts.Release(tok)
		return err
	}
	return nil
}

// pushBoundObject builds the script object for ExposeHostObject: one native
// callable slot per method descriptor, a finalizer, and the strong host
// reference. The caller has already validated every descriptor, so no
// partial state is possible here.
func (c *Context) pushBoundObject(entry *hostEntry, records []*boundMethod) {
	e := c.eng
	objIdx := e.PushObject()

	e.PushFunc(c.finalizeProxy, 1)
	e.SetFinalizer(objIdx)

	for _, rec := range records {
		mtok := c.hosts.Add(rec)
		fnIdx := e.PushFunc(c.boundMethodFunc(mtok), -1)
		e.PushPointer(mtok)
		e.PutProp(fnIdx, methodProp)
		e.PutProp(objIdx, rec.spec.Name)
	}

	tok := c.hosts.Add(entry)
	e.PushPointer(tok)
	e.PutProp(objIdx, hostRefProp)
}

// finalizeProxy is the engine-side finalizer for every host-backed object.
// It releases the strong host reference first, then destroys each bound
// method record found on the object. It must be safe to run after partial
// construction and must tolerate being invoked twice: the generation-checked
// host table turns a second release into a no-op.
func (c *Context) finalizeProxy(e engine.Engine) (int, error) {
	// The dying object is the single argument.
	if e.GetProp(-1, hostRefProp) {
		if tok, ok := e.GetPointer(-1); ok {
			if c.hosts.Release(tok) {
				c.log.Debug().Stringer("ctx", c.id).Msg("released host reference")
			}
		}
		e.Pop()
		e.DelProp(-1, hostRefProp)
	} else {
		e.Pop()
	}

	for _, key := range e.Keys(-1) {
		if !e.GetProp(-1, key) {
			e.Pop()
			continue
		}
		if e.GetType(-1) == engine.TypeObject {
			if e.GetProp(-1, methodProp) {
				if tok, ok := e.GetPointer(-1); ok {
					c.hosts.Release(tok)
				}
				e.Pop()
				e.Pop()
				e.DelProp(-1, key)
				continue
			}
			e.Pop()
		}
		e.Pop()
	}
	return 0, nil
}
