package jcrom

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Converter performs bidirectional conversion between one Go field type and a
// store Value. Converters must round-trip: FromValue(ToValue(v)) == v under
// the type's own equality.
type Converter interface {
	ToValue(v any) (Value, error)
	FromValue(v Value) (any, error)
}

// NewConverter adapts a typed encode/decode pair into a Converter.
func NewConverter[T any](enc func(T) (Value, error), dec func(Value) (T, error)) Converter {
	return &typedConverter[T]{enc: enc, dec: dec}
}

type typedConverter[T any] struct {
	enc func(T) (Value, error)
	dec func(Value) (T, error)
}

func (c *typedConverter[T]) ToValue(v any) (Value, error) {
	t, ok := v.(T)
	if !ok {
		return Value{}, &UnsupportedTypeError{Type: reflect.TypeOf(v)}
	}
	return c.enc(t)
}

func (c *typedConverter[T]) FromValue(v Value) (any, error) {
	return c.dec(v)
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	binaryType = reflect.TypeOf([]byte(nil))
)

// toStoreValue converts a field value to a store Value. The second return is
// false when the value is null (nil pointer) and the null policy applies.
func (m *Mapper) toStoreValue(rv reflect.Value) (Value, bool, error) {
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Value{}, false, nil
		}
		rv = rv.Elem()
	}
	if c := m.converterFor(rv.Type()); c != nil {
		v, err := c.ToValue(rv.Interface())
		return v, true, err
	}
	v, err := scalarToValue(rv)
	return v, true, err
}

func scalarToValue(rv reflect.Value) (Value, error) {
	t := rv.Type()
	if t == timeType {
		return TimeValue(rv.Interface().(time.Time)), nil
	}
	switch rv.Kind() {
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("jcrom: uint value %d overflows the store's integer range", u)
		}
		return IntValue(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 && t.ConvertibleTo(binaryType) {
			return BinaryValue(rv.Convert(binaryType).Bytes()), nil
		}
		vs := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := scalarToValue(rv.Index(i))
			if err != nil {
				return Value{}, err
			}
			vs = append(vs, ev)
		}
		return MultiValue(vs...)
	}
	return Value{}, &UnsupportedTypeError{Type: t}
}

// fromStoreValue converts a store Value back into the declared field type.
func (m *Mapper) fromStoreValue(v Value, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		inner, err := m.fromStoreValue(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if c := m.converterFor(t); c != nil {
		out, err := c.FromValue(v)
		if err != nil {
			return reflect.Value{}, err
		}
		ov := reflect.ValueOf(out)
		if !ov.Type().AssignableTo(t) {
			if !ov.Type().ConvertibleTo(t) {
				return reflect.Value{}, &UnsupportedTypeError{Type: t}
			}
			ov = ov.Convert(t)
		}
		return ov, nil
	}
	return valueToScalar(v, t)
}

func valueToScalar(v Value, t reflect.Type) (reflect.Value, error) {
	if t == timeType {
		if v.Kind() != KindTime {
			return reflect.Value{}, mismatch(v, t)
		}
		return reflect.ValueOf(v.Time()), nil
	}
	switch t.Kind() {
	case reflect.String:
		if v.Kind() != KindString && v.Kind() != KindReference {
			return reflect.Value{}, mismatch(v, t)
		}
		return reflect.ValueOf(v.Str()).Convert(t), nil
	case reflect.Bool:
		if v.Kind() != KindBool {
			return reflect.Value{}, mismatch(v, t)
		}
		return reflect.ValueOf(v.Bool()).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Kind() != KindInt {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.SetInt(v.Int())
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Kind() != KindInt || v.Int() < 0 {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.SetUint(uint64(v.Int()))
		return out, nil
	case reflect.Float32, reflect.Float64:
		if v.Kind() != KindFloat {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.SetFloat(v.Float())
		return out, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 && binaryType.ConvertibleTo(t) {
			if v.Kind() != KindBinary {
				return reflect.Value{}, mismatch(v, t)
			}
			return reflect.ValueOf(v.Binary()).Convert(t), nil
		}
		elems := v.Values()
		out := reflect.MakeSlice(t, 0, len(elems))
		for _, ev := range elems {
			sv, err := valueToScalar(ev, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, sv)
		}
		return out, nil
	}
	return reflect.Value{}, &UnsupportedTypeError{Type: t}
}

func mismatch(v Value, t reflect.Type) error {
	return fmt.Errorf("jcrom: cannot read %s property into %s: %w", v.Kind(), t, &UnsupportedTypeError{Type: t})
}
