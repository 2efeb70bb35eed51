package mallard

import "fmt"

// guard captures the engine stack depth and returns a closure verifying
// that, when the surrounding operation finishes, the depth changed by
// exactly delta. Balance violations mean the bridge itself mismanaged the
// stack, so they panic rather than surface as script errors. When stack
// checking is disabled the returned closure does nothing.
func (c *Context) guard(delta int) func() {
	if !c.stackCheck {
		return func() {}
	}
	before := c.eng.Depth()
	return func() {
		after := c.eng.Depth()
		if after != before+delta {
			panic(fmt.Sprintf("mallard: stack depth %d on exit, expected %d (entered at %d)",
				after, before+delta, before))
		}
	}
}
