package jcrom

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Lazy is a deferred child-collection (or reference) cell. A field declared
// with the "lazy" tag option must be typed *Lazy[C] where C is the container
// type an eager field would use, e.g. *Lazy[[]*Comment] or *Lazy[map[string]*Page].
//
// Materialization happens on the first Get and executes at most once; racing
// callers all observe the same loaded container. A Lazy built over a closed
// session fails with SessionClosedError.
type Lazy[T any] struct {
	once    sync.Once
	done    atomic.Bool
	load    func() (any, error)
	backed  bool // loader reads from the store (installed by the mapper)
	val     T
	err     error
}

// LazyOf returns an already-materialized cell. Useful when building objects by
// hand that will be written with ToNode.
func LazyOf[T any](v T) *Lazy[T] {
	l := &Lazy[T]{}
	l.load = func() (any, error) { return v, nil }
	return l
}

// Get returns the materialized value, loading it on first call.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		defer l.done.Store(true)
		if l.load == nil {
			return // zero cell: zero value, no error
		}
		v, err := l.load()
		if err != nil {
			l.err = err
			return
		}
		l.val, _ = v.(T)
	})
	return l.val, l.err
}

// MustGet is Get, panicking on load failure.
func (l *Lazy[T]) MustGet() T {
	v, err := l.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Resolved reports whether the cell has materialized (successfully or not).
func (l *Lazy[T]) Resolved() bool { return l.done.Load() }

// lazyCell is the reflection-facing view of *Lazy[T]; the mapper installs
// loaders and reads values through it without knowing T.
type lazyCell interface {
	elemType() reflect.Type
	bind(load func() (any, error))
	getAny() (any, error)
	resolved() bool
	storeBacked() bool
}

func (l *Lazy[T]) elemType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (l *Lazy[T]) bind(load func() (any, error)) {
	l.load = load
	l.backed = true
}

func (l *Lazy[T]) getAny() (any, error) { return l.Get() }

func (l *Lazy[T]) resolved() bool { return l.Resolved() }

func (l *Lazy[T]) storeBacked() bool { return l.backed }

var lazyCellType = reflect.TypeOf((*lazyCell)(nil)).Elem()

// isLazyType reports whether t is a *Lazy[...] field type.
func isLazyType(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t.Implements(lazyCellType)
}

// lazyElemType returns the container type C of a *Lazy[C] field type.
func lazyElemType(t reflect.Type) reflect.Type {
	cell := reflect.New(t.Elem()).Interface().(lazyCell)
	return cell.elemType()
}

// newLazyCell allocates a cell of field type t (*Lazy[C]) bound to load.
func newLazyCell(t reflect.Type, load func() (any, error)) reflect.Value {
	rv := reflect.New(t.Elem())
	rv.Interface().(lazyCell).bind(load)
	return rv
}
