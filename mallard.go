// Package mallard bridges Go host code and an embedded stack-based script
// engine. A Context owns one engine heap and mediates every crossing of the
// boundary: host values are marshalled into script space, script objects are
// handed back as lifetime-managed handles, and host objects exposed into
// script space are kept alive by engine-held references until the engine
// finalizes them.
//
// The engine itself is pluggable behind the engine.Engine interface; the
// enginetest package provides an in-memory implementation used throughout
// the test suite.
package mallard

import "github.com/mallardjs/mallard/engine"

// Eval creates a throwaway context on eng, evaluates source, and closes the
// context. It is a convenience for one-shot scripts; hosts that expose
// objects or keep handles should manage a Context directly.
func Eval(eng engine.Engine, source string, opts ...Option) (any, error) {
	c, err := New(eng, opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Evaluate(source, "eval")
}
