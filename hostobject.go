package mallard

import (
	"fmt"
	"reflect"
)

// HostObject is the capability interface implemented by every bridgeable
// host object. Script-side property reads and invocations on a proxied host
// object route through these two methods.
type HostObject interface {
	// Get resolves a property by name. Returning a callable HostObject
	// makes the property invocable from script code.
	Get(name string) (any, error)

	// Invoke calls the object itself with the given receiver and arguments.
	Invoke(this any, args []any) (any, error)
}

// asHostObject adapts an arbitrary Go value to the HostObject capability,
// using reflection when the value does not implement it directly.
func asHostObject(v any, registry *TypeRegistry) HostObject {
	if ho, ok := v.(HostObject); ok {
		return ho
	}
	return &reflectHost{value: reflect.ValueOf(v), registry: registry}
}

// reflectHost exposes an arbitrary Go value's methods and struct fields
// through the HostObject capability.
type reflectHost struct {
	value    reflect.Value
	registry *TypeRegistry
}

func (r *reflectHost) Get(name string) (any, error) {
	if m := r.value.MethodByName(name); m.IsValid() {
		return newGoFunc(m, name, r.registry), nil
	}
	v := r.value
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("%s: nil receiver", name)
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("%T has no member %q", r.value.Interface(), name)
}

func (r *reflectHost) Invoke(this any, args []any) (any, error) {
	if r.value.Kind() == reflect.Func {
		return newGoFunc(r.value, "func", r.registry).Invoke(this, args)
	}
	return nil, fmt.Errorf("%T is not callable", r.value.Interface())
}

// goFunc wraps a Go function for invocation with bridge-marshalled
// arguments. It uses reflection to handle argument conversion, variadic
// parameters, and a trailing error return.
type goFunc struct {
	fn         reflect.Value
	fnType     reflect.Type
	name       string
	numIn      int
	isVariadic bool
	hasError   bool
	registry   *TypeRegistry
}

var _ HostObject = (*goFunc)(nil)

func newGoFunc(fn reflect.Value, name string, registry *TypeRegistry) *goFunc {
	fnType := fn.Type()
	g := &goFunc{
		fn:         fn,
		fnType:     fnType,
		name:       name,
		numIn:      fnType.NumIn(),
		isVariadic: fnType.IsVariadic(),
		registry:   registry,
	}
	if fnType.NumOut() > 0 && fnType.Out(fnType.NumOut()-1).Implements(errorInterface) {
		g.hasError = true
	}
	return g
}

func (g *goFunc) Get(name string) (any, error) {
	return nil, fmt.Errorf("%s: a bound function has no members", g.name)
}

// Invoke calls the wrapped function. The receiver is ignored; the function
// is already bound.
func (g *goFunc) Invoke(this any, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in %s: %v", g.name, r)
		}
	}()

	if err := g.validateArgCount(len(args)); err != nil {
		return nil, err
	}
	callArgs, err := g.buildCallArgs(args)
	if err != nil {
		return nil, err
	}

	var results []reflect.Value
	if g.isVariadic {
		results = g.fn.CallSlice(callArgs)
	} else {
		results = g.fn.Call(callArgs)
	}
	return g.processResults(results)
}

func (g *goFunc) validateArgCount(numArgs int) error {
	if g.isVariadic {
		if minArgs := g.numIn - 1; numArgs < minArgs {
			return fmt.Errorf("%s: expected at least %d argument(s), got %d", g.name, minArgs, numArgs)
		}
		return nil
	}
	if numArgs != g.numIn {
		return fmt.Errorf("%s: expected %d argument(s), got %d", g.name, g.numIn, numArgs)
	}
	return nil
}

func (g *goFunc) buildCallArgs(args []any) ([]reflect.Value, error) {
	var callArgs []reflect.Value

	if g.isVariadic {
		nonVariadic := g.numIn - 1
		for i := 0; i < nonVariadic; i++ {
			goVal, err := g.registry.ToGo(args[i], g.fnType.In(i))
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", g.name, i+1, err)
			}
			callArgs = append(callArgs, reflect.ValueOf(goVal))
		}
		variadicType := g.fnType.In(g.numIn - 1)
		elemType := variadicType.Elem()
		variadicSlice := reflect.MakeSlice(variadicType, 0, len(args)-nonVariadic)
		for i := nonVariadic; i < len(args); i++ {
			goVal, err := g.registry.ToGo(args[i], elemType)
			if err != nil {
				return nil, fmt.Errorf("%s: variadic argument %d: %w", g.name, i+1, err)
			}
			variadicSlice = reflect.Append(variadicSlice, reflect.ValueOf(goVal))
		}
		callArgs = append(callArgs, variadicSlice)
		return callArgs, nil
	}

	for i := 0; i < len(args); i++ {
		goVal, err := g.registry.ToGo(args[i], g.fnType.In(i))
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", g.name, i+1, err)
		}
		callArgs = append(callArgs, reflect.ValueOf(goVal))
	}
	return callArgs, nil
}

func (g *goFunc) processResults(results []reflect.Value) (any, error) {
	numOut := len(results)
	if g.hasError {
		errVal := results[numOut-1]
		if !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
		results = results[:numOut-1]
		numOut--
	}
	switch numOut {
	case 0:
		return nil, nil
	case 1:
		return results[0].Interface(), nil
	default:
		out := make([]any, numOut)
		for i, rv := range results {
			out[i] = rv.Interface()
		}
		return out, nil
	}
}

// NumArgs reports the number of non-variadic parameters.
func (g *goFunc) NumArgs() int {
	if g.isVariadic {
		return g.numIn - 1
	}
	return g.numIn
}

// IsVariadic reports whether the function accepts trailing arguments.
func (g *goFunc) IsVariadic() bool { return g.isVariadic }
