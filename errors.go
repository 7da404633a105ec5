package jcrom

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNotFound is returned by Session implementations when a path or identifier
// does not resolve to a node.
var ErrNotFound = errors.New("jcrom: node not found")

// MetadataError reports an unresolvable or ambiguous field-role declaration.
// It is fatal: the type cannot be mapped until its declarations are fixed.
type MetadataError struct {
	Type   reflect.Type
	Field  string // empty for type-level problems
	Reason string
}

func (e *MetadataError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("jcrom: metadata for %s.%s: %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("jcrom: metadata for %s: %s", e.Type, e.Reason)
}

// InstantiationError reports that a target type has no accessible zero-argument
// construction path.
type InstantiationError struct {
	Type   reflect.Type
	Reason string
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("jcrom: cannot instantiate %s: %s", e.Type, e.Reason)
}

// CyclicGraphError reports a containment cycle: an object was reached twice
// through child-container fields within one mapping call. Only reference
// fields may close cycles.
type CyclicGraphError struct {
	Path string
	Type reflect.Type
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("jcrom: containment cycle through %s at %s; declare the field as a reference instead", e.Type, e.Path)
}

// UnresolvedReferenceError reports a reference field pointing at an object
// that has not been persisted yet (no identifier to serialize).
type UnresolvedReferenceError struct {
	Path  string
	Field string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("jcrom: reference field %s at %s points to an unpersisted object", e.Field, e.Path)
}

// UnsupportedTypeError reports a field type with no built-in conversion and no
// registered converter.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("jcrom: no conversion for type %s", e.Type)
}

// InvalidKeyError reports a map key that cannot be represented as a node-name
// segment.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("jcrom: map key %q: %s", e.Key, e.Reason)
}

// KeyRoundTripError reports a child-node name whose decoded key does not
// re-encode to the same name, so the map cannot be reconstructed losslessly.
type KeyRoundTripError struct {
	Name string
	Key  string
}

func (e *KeyRoundTripError) Error() string {
	return fmt.Sprintf("jcrom: child name %q decodes to key %q which does not round-trip", e.Name, e.Key)
}

// SessionClosedError reports lazy materialization attempted after the
// originating store session was closed.
type SessionClosedError struct {
	Path string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("jcrom: session closed; cannot load %s", e.Path)
}
