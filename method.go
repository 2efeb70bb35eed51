package mallard

import (
	"fmt"
	"strings"

	"github.com/mallardjs/mallard/engine"
)

// MethodSpec describes one host-exposed callable: its script-visible name
// and calling convention.
type MethodSpec struct {
	Name     string
	NumArgs  int
	Variadic bool
}

// Method describes a fixed-arity host method.
func Method(name string, numArgs int) MethodSpec {
	return MethodSpec{Name: name, NumArgs: numArgs}
}

// VariadicMethod describes a host method accepting any number of arguments.
func VariadicMethod(name string) MethodSpec {
	return MethodSpec{Name: name, Variadic: true}
}

func (s MethodSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMethod)
	}
	if strings.HasPrefix(s.Name, hiddenPrefix) {
		return fmt.Errorf("%w: %q uses a reserved name", ErrInvalidMethod, s.Name)
	}
	if !s.Variadic && s.NumArgs < 0 {
		return fmt.Errorf("%w: %q has negative arity", ErrInvalidMethod, s.Name)
	}
	return nil
}

// checkArity validates the actual argument count of a script-side call.
// Slots are bound as variadic natives so that the engine does not pad or
// truncate arguments; the count is enforced here instead.
func (s MethodSpec) checkArity(n int) error {
	if s.Variadic {
		return nil
	}
	if n != s.NumArgs {
		return fmt.Errorf("%s: expected %d argument(s), got %d", s.Name, s.NumArgs, n)
	}
	return nil
}

// boundMethod is the record behind one native callable slot on a host proxy.
// It is owned by the slot that created it and destroyed when that slot is
// finalized.
type boundMethod struct {
	spec   MethodSpec
	invoke func(this any, args []any) (any, error)
}

// bindMethod adapts one method descriptor to the named capability of a host
// object, validating that the descriptor fits the native calling convention.
func bindMethod(ho HostObject, spec MethodSpec) (*boundMethod, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	member, err := ho.Get(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidMethod, spec.Name, err)
	}
	callable, ok := member.(HostObject)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not callable", ErrInvalidMethod, spec.Name)
	}
	if gf, ok := callable.(*goFunc); ok {
		if gf.IsVariadic() != spec.Variadic || (!spec.Variadic && gf.NumArgs() != spec.NumArgs) {
			return nil, fmt.Errorf("%w: %q: descriptor arity %d (variadic=%v) does not match Go signature",
				ErrInvalidMethod, spec.Name, spec.NumArgs, spec.Variadic)
		}
	}
	return &boundMethod{spec: spec, invoke: callable.Invoke}, nil
}

// boundMethodFunc returns the native slot function for a bound method
// record. The record itself lives in the host table behind token so the
// finalizer can destroy it by enumeration.
func (c *Context) boundMethodFunc(token uint64) engine.NativeFunc {
	return func(e engine.Engine) (int, error) {
		v, ok := c.hosts.Get(token)
		rec, _ := v.(*boundMethod)
		if !ok || rec == nil {
			return 0, fmt.Errorf("bound method invoked after release")
		}
		n := e.Depth()
		if err := rec.spec.checkArity(n); err != nil {
			return 0, err
		}

		args := make([]any, n)
		for i := n - 1; i >= 0; i-- {
			arg, err := c.popValue()
			if err != nil {
				return 0, err
			}
			args[i] = arg
		}
		e.PushThis()
		this, err := c.popValue()
		if err != nil {
			return 0, err
		}

		result, err := rec.invoke(this, args)
		if err != nil {
			c.setPending(err)
			return 0, err
		}
		if err := c.pushValue(result); err != nil {
			return 0, err
		}
		return 1, nil
	}
}
