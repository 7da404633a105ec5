package jcrom

import (
	"bytes"
	"fmt"
	"time"
)

// Kind enumerates the store-primitive value kinds a Node property can hold.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBinary
	KindTime
	KindReference // identifier of another node
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBinary:
		return "binary"
	case KindTime:
		return "time"
	case KindReference:
		return "reference"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a store property value: one of the primitive kinds, or a
// multi-valued sequence of a single kind. The zero Value is an empty string.
type Value struct {
	kind  Kind
	multi bool

	s   string
	b   bool
	i   int64
	f   float64
	bin []byte
	t   time.Time

	list []Value
}

func StringValue(s string) Value    { return Value{kind: KindString, s: s} }
func BoolValue(b bool) Value        { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value        { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value    { return Value{kind: KindFloat, f: f} }
func BinaryValue(p []byte) Value    { return Value{kind: KindBinary, bin: p} }
func TimeValue(t time.Time) Value   { return Value{kind: KindTime, t: t} }
func ReferenceValue(id string) Value {
	return Value{kind: KindReference, s: id}
}

// MultiValue wraps values of a single kind into a multi-valued Value.
// An empty multi defaults to KindString elements.
func MultiValue(vs ...Value) (Value, error) {
	k := KindString
	for i, v := range vs {
		if v.multi {
			return Value{}, fmt.Errorf("jcrom: nested multi-valued value at index %d", i)
		}
		if i == 0 {
			k = v.kind
		} else if v.kind != k {
			return Value{}, fmt.Errorf("jcrom: mixed kinds in multi-valued value: %s vs %s", k, v.kind)
		}
	}
	return Value{kind: k, multi: true, list: vs}, nil
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsMulti() bool { return v.multi }

// Values returns the elements of a multi-valued Value, or a single-element
// slice for a scalar.
func (v Value) Values() []Value {
	if v.multi {
		return v.list
	}
	return []Value{v}
}

func (v Value) Str() string       { return v.s }
func (v Value) Bool() bool        { return v.b }
func (v Value) Int() int64        { return v.i }
func (v Value) Float() float64    { return v.f }
func (v Value) Binary() []byte    { return v.bin }
func (v Value) Time() time.Time   { return v.t }
func (v Value) Reference() string { return v.s }

// Equal reports deep equality. Times compare with time.Time.Equal so that
// location normalization does not break round-trips.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.multi != o.multi {
		return false
	}
	if v.multi {
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	switch v.kind {
	case KindString, KindReference:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBinary:
		return bytes.Equal(v.bin, o.bin)
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

func (v Value) String() string {
	if v.multi {
		return fmt.Sprintf("multi[%s]x%d", v.kind, len(v.list))
	}
	switch v.kind {
	case KindString, KindReference:
		return v.s
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.bin))
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	}
	return "?"
}
