package mallard

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// errNotConvertible signals that a Go value has no native engine
// representation and should be proxied instead.
var errNotConvertible = errors.New("not convertible")

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// PushFunc converts a Go value of a registered type into an engine value and
// pushes it on the context's engine stack.
type PushFunc func(c *Context, v any) error

// ToGoFunc converts a popped bridge value to a Go value of a specific type.
type ToGoFunc func(v any, targetType reflect.Type) (any, error)

// TypeRegistry handles conversion between Go values and engine values. It is
// immutable after construction and safe to share between contexts.
type TypeRegistry struct {
	pushers map[reflect.Type]PushFunc
	toGo    map[reflect.Type]ToGoFunc
}

// Push attempts a native conversion of v onto the engine stack. It returns
// errNotConvertible when v has no scalar or array representation, leaving
// the stack untouched so the caller can fall back to proxying.
func (r *TypeRegistry) Push(c *Context, v any) error {
	typ := reflect.TypeOf(v)
	if fn, ok := r.pushers[typ]; ok {
		return fn(c, v)
	}
	return r.pushByKind(c, v, typ)
}

func (r *TypeRegistry) pushByKind(c *Context, v any, typ reflect.Type) error {
	e := c.eng
	rv := reflect.ValueOf(v)

	switch typ.Kind() {
	case reflect.Bool:
		e.PushBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.PushNumber(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.PushNumber(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		e.PushNumber(rv.Float())
	case reflect.String:
		e.PushString(rv.String())
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			e.PushString(string(rv.Bytes()))
			return nil
		}
		return r.pushSequence(c, rv)
	case reflect.Array:
		return r.pushSequence(c, rv)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			e.PushNull()
			return nil
		}
		return r.Push(c, rv.Elem().Interface())
	default:
		return errNotConvertible
	}
	return nil
}

// pushSequence marshals a slice or array element-wise. The engine array is
// fixed at the length observed here; later mutation of the source is not
// reflected.
func (r *TypeRegistry) pushSequence(c *Context, rv reflect.Value) error {
	e := c.eng
	arrIdx := e.PushArray()
	count := rv.Len()
	for i := 0; i < count; i++ {
		if err := c.pushValue(rv.Index(i).Interface()); err != nil {
			e.Pop()
			return fmt.Errorf("element %d: %w", i, err)
		}
		e.PutPropIndex(arrIdx, i)
	}
	return nil
}

// ToGo converts a popped bridge value (nil, bool, float64, string, []any, or
// a host object) to a Go value of the target type.
func (r *TypeRegistry) ToGo(v any, target reflect.Type) (any, error) {
	if v == nil {
		return reflect.Zero(target).Interface(), nil
	}
	if fn, ok := r.toGo[target]; ok {
		return fn(v, target)
	}
	return r.toGoByKind(v, target)
}

func (r *TypeRegistry) toGoByKind(v any, target reflect.Type) (any, error) {
	if reflect.TypeOf(v).AssignableTo(target) {
		return v, nil
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return toNumeric(v, target)
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("type error: expected bool, got %T", v)
		}
		return b, nil
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("type error: expected string, got %T", v)
		}
		return s, nil
	case reflect.Slice:
		return r.toGoSlice(v, target)
	case reflect.Ptr:
		elem, err := r.ToGo(v, target.Elem())
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(elem))
		return ptr.Interface(), nil
	case reflect.Interface:
		if target.NumMethod() == 0 {
			return v, nil
		}
		if target.Implements(errorInterface) {
			if s, ok := v.(string); ok {
				return errors.New(s), nil
			}
		}
		return nil, fmt.Errorf("type error: cannot convert %T to %s", v, target)
	default:
		return nil, fmt.Errorf("type error: unsupported target type %s", target)
	}
}

func (r *TypeRegistry) toGoSlice(v any, target reflect.Type) (any, error) {
	if target.Elem().Kind() == reflect.Uint8 {
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("type error: expected array, got %T", v)
	}
	elemType := target.Elem()
	slice := reflect.MakeSlice(target, 0, len(items))
	for i, item := range items {
		elem, err := r.ToGo(item, elemType)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		slice = reflect.Append(slice, reflect.ValueOf(elem))
	}
	return slice.Interface(), nil
}

func toNumeric(v any, target reflect.Type) (any, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil, fmt.Errorf("type error: expected number, got %T", v)
	}
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.SetUint(uint64(f))
	case reflect.Float32, reflect.Float64:
		out.SetFloat(f)
	}
	return out.Interface(), nil
}

// RegistryBuilder constructs a TypeRegistry with custom converters.
type RegistryBuilder struct {
	base    *TypeRegistry
	pushers map[reflect.Type]PushFunc
	toGo    map[reflect.Type]ToGoFunc
}

// NewRegistryBuilder creates a builder starting from the default registry.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		base:    DefaultRegistry(),
		pushers: make(map[reflect.Type]PushFunc),
		toGo:    make(map[reflect.Type]ToGoFunc),
	}
}

// RegisterPush adds a converter for Go -> engine.
func (b *RegistryBuilder) RegisterPush(typ reflect.Type, fn PushFunc) *RegistryBuilder {
	b.pushers[typ] = fn
	return b
}

// RegisterToGo adds a converter for bridge value -> Go.
func (b *RegistryBuilder) RegisterToGo(typ reflect.Type, fn ToGoFunc) *RegistryBuilder {
	b.toGo[typ] = fn
	return b
}

// Build creates an immutable TypeRegistry.
func (b *RegistryBuilder) Build() *TypeRegistry {
	pushers := make(map[reflect.Type]PushFunc)
	toGo := make(map[reflect.Type]ToGoFunc)
	if b.base != nil {
		for k, v := range b.base.pushers {
			pushers[k] = v
		}
		for k, v := range b.base.toGo {
			toGo[k] = v
		}
	}
	for k, v := range b.pushers {
		pushers[k] = v
	}
	for k, v := range b.toGo {
		toGo[k] = v
	}
	return &TypeRegistry{pushers: pushers, toGo: toGo}
}

var defaultRegistry *TypeRegistry

// DefaultRegistry returns a TypeRegistry with converters for all built-in
// types.
func DefaultRegistry() *TypeRegistry {
	if defaultRegistry == nil {
		defaultRegistry = createDefaultRegistry()
	}
	return defaultRegistry
}

func createDefaultRegistry() *TypeRegistry {
	return &TypeRegistry{
		pushers: map[reflect.Type]PushFunc{
			// time.Time crosses the boundary as an RFC 3339 string.
			reflect.TypeOf(time.Time{}): func(c *Context, v any) error {
				c.eng.PushString(v.(time.Time).Format(time.RFC3339))
				return nil
			},
			reflect.TypeOf(json.Number("")): func(c *Context, v any) error {
				n := v.(json.Number)
				if f, err := n.Float64(); err == nil {
					c.eng.PushNumber(f)
					return nil
				}
				c.eng.PushString(n.String())
				return nil
			},
		},
		toGo: map[reflect.Type]ToGoFunc{
			reflect.TypeOf(time.Time{}): func(v any, _ reflect.Type) (any, error) {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("type error: expected time string, got %T", v)
				}
				return time.Parse(time.RFC3339, s)
			},
		},
	}
}
