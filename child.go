package jcrom

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
)

// containerType is the eager container type of the field (unwrapping Lazy).
func (cf *childField) containerType() reflect.Type {
	if isLazyType(cf.typ) {
		return lazyElemType(cf.typ)
	}
	return cf.typ
}

// ---- object -> tree ----

// mapToChildren writes a container field's elements as named child nodes.
// Mapping is a full replace: child nodes with no corresponding element are
// removed unless additive mode is set. Filtered-out names are never pruned.
func (m *Mapper) mapToChildren(ctx *mappingContext, parent Node, cf *childField, cv reflect.Value) error {
	if cf.kind == kindSingle {
		return m.mapSingleChild(ctx, parent, cf, cv)
	}
	container, err := parent.CreateChild(cf.store)
	if err != nil {
		return err
	}
	keep := map[string]bool{}

	ctx.depth++
	defer func() { ctx.depth-- }()

	switch cf.kind {
	case kindList, kindSet:
		if cv.IsValid() {
			for i := 0; i < cv.Len(); i++ {
				ev, emd, err := elementPointer(cv.Index(i))
				if err != nil {
					return err
				}
				if !ev.IsValid() {
					continue
				}
				name, err := m.elementName(emd, ev, i)
				if err != nil {
					return err
				}
				if keep[name] {
					if cf.kind == kindSet {
						continue // set semantics: first occurrence wins
					}
					name = name + "-" + strconv.Itoa(i)
				}
				child, err := container.CreateChild(name)
				if err != nil {
					return err
				}
				if err := m.mapObject(ctx, child, ev, emd); err != nil {
					return err
				}
				keep[name] = true
			}
		}
	case kindMap:
		if cv.IsValid() {
			it := cv.MapRange()
			for it.Next() {
				name, err := encodeKey(it.Key())
				if err != nil {
					return err
				}
				ev, emd, err := elementPointer(it.Value())
				if err != nil {
					return err
				}
				if !ev.IsValid() {
					continue
				}
				child, err := container.CreateChild(name)
				if err != nil {
					return err
				}
				if err := m.mapObject(ctx, child, ev, emd); err != nil {
					return err
				}
				keep[name] = true
			}
		}
	}

	if m.additive {
		return nil
	}
	for _, stale := range container.Children() {
		if !keep[stale.Name()] && cf.filter.Include(stale.Name()) {
			if err := stale.Remove(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mapper) mapSingleChild(ctx *mappingContext, parent Node, cf *childField, cv reflect.Value) error {
	if !cv.IsValid() || isNullValue(cv) {
		if !m.additive {
			if old, ok := parent.Child(cf.store); ok {
				return old.Remove()
			}
		}
		return nil
	}
	ev, emd, err := elementPointer(cv)
	if err != nil {
		return err
	}
	node, err := parent.CreateChild(cf.store)
	if err != nil {
		return err
	}
	ctx.depth++
	defer func() { ctx.depth-- }()
	return m.mapObject(ctx, node, ev, emd)
}

// elementPointer normalizes a container element to a struct pointer plus its
// metadata. Interface elements resolve through their runtime concrete type.
func elementPointer(ev reflect.Value) (reflect.Value, *TypeMetadata, error) {
	if ev.Kind() == reflect.Interface {
		if ev.IsNil() {
			return reflect.Value{}, nil, nil
		}
		ev = ev.Elem()
	}
	switch ev.Kind() {
	case reflect.Pointer:
		if ev.IsNil() {
			return reflect.Value{}, nil, nil
		}
	case reflect.Struct:
		if ev.CanAddr() {
			ev = ev.Addr()
		} else {
			p := reflect.New(ev.Type())
			p.Elem().Set(ev)
			ev = p
		}
	default:
		return reflect.Value{}, nil, fmt.Errorf("jcrom: child elements must be structs or struct pointers, got %s", ev.Type())
	}
	md, err := resolveMetadata(ev.Type().Elem())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return ev, md, nil
}

// elementName names a list/set element: the element's own name field when it
// carries one, otherwise the sequential index.
func (m *Mapper) elementName(emd *TypeMetadata, ev reflect.Value, i int) (string, error) {
	if emd.name != nil {
		if n := m.clean(ev.Elem().FieldByIndex(emd.name.index).String()); n != "" {
			return n, nil
		}
	}
	return strconv.Itoa(i), nil
}

// ---- tree -> object ----

// mapFromChildren reconstructs a container field from the child nodes under
// the field's container node, filtered by the field's name filter. Returns an
// invalid value when the container node does not exist.
func (m *Mapper) mapFromChildren(ctx *mappingContext, parent Node, cf *childField, parentObj reflect.Value) (reflect.Value, error) {
	ct := cf.containerType()
	container, ok := parent.Child(cf.store)
	if !ok {
		return reflect.Value{}, nil
	}

	if cf.kind == kindSingle {
		ctx.depth++
		rv, err := m.fromNode(ctx, container, cf.elem, parentObj)
		ctx.depth--
		if err != nil {
			return reflect.Value{}, err
		}
		return asElement(rv, ct), nil
	}

	children := container.Children()
	ctx.depth++
	defer func() { ctx.depth-- }()

	switch cf.kind {
	case kindList, kindSet:
		out := reflect.MakeSlice(ct, 0, len(children))
		for _, child := range children {
			if !cf.filter.Include(child.Name()) {
				continue
			}
			rv, err := m.fromNode(ctx, child, cf.elem, parentObj)
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, asElement(rv, ct.Elem()))
		}
		return out, nil
	case kindMap:
		out := reflect.MakeMapWithSize(ct, len(children))
		for _, child := range children {
			if !cf.filter.Include(child.Name()) {
				continue
			}
			key, err := decodeKey(child.Name(), cf.key)
			if err != nil {
				return reflect.Value{}, err
			}
			rv, err := m.fromNode(ctx, child, cf.elem, parentObj)
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(key, asElement(rv, ct.Elem()))
		}
		return out, nil
	}
	return reflect.Value{}, nil
}

// asElement adapts the pointer returned by fromNode to the declared element
// type (struct elements are stored by value).
func asElement(rv reflect.Value, want reflect.Type) reflect.Value {
	if want.Kind() == reflect.Struct && rv.Kind() == reflect.Pointer {
		return rv.Elem()
	}
	return rv
}

// ---- map-key codec ----

// encodeKey turns a map key into a node-name segment. The transform is
// injective and its own inverse: distinct keys yield distinct names, and
// decodeKey(encodeKey(k)) == k for every representable key.
func encodeKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		s := k.String()
		if s == "" {
			return "", &InvalidKeyError{Key: s, Reason: "empty keys have no node-name representation"}
		}
		return url.PathEscape(s), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &InvalidKeyError{Key: fmt.Sprint(k.Interface()), Reason: "unsupported key type " + k.Type().String()}
}

// decodeKey parses a child-node name back into a key of type t, failing with
// KeyRoundTripError when the name did not come from encodeKey.
func decodeKey(name string, t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		s, err := url.PathUnescape(name)
		if err != nil || url.PathEscape(s) != name {
			return reflect.Value{}, &KeyRoundTripError{Name: name, Key: s}
		}
		return reflect.ValueOf(s).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(name, 10, t.Bits())
		if err != nil || strconv.FormatInt(i, 10) != name {
			return reflect.Value{}, &KeyRoundTripError{Name: name, Key: name}
		}
		out := reflect.New(t).Elem()
		out.SetInt(i)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(name, 10, t.Bits())
		if err != nil || strconv.FormatUint(u, 10) != name {
			return reflect.Value{}, &KeyRoundTripError{Name: name, Key: name}
		}
		out := reflect.New(t).Elem()
		out.SetUint(u)
		return out, nil
	}
	return reflect.Value{}, &KeyRoundTripError{Name: name, Key: name}
}
