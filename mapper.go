package jcrom

import (
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/charmbracelet/log"
)

// NullPolicy controls what happens to a store property when the corresponding
// field value is null (nil pointer, nil slice, nil map).
type NullPolicy int

const (
	NullOmit       NullPolicy = iota // remove/skip the property
	NullWriteEmpty                   // write the type's empty value
)

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option { return func(m *Mapper) { m.log = l } }

// WithNullPolicy sets the null-handling policy for property fields.
func WithNullPolicy(p NullPolicy) Option { return func(m *Mapper) { m.nullPolicy = p } }

// WithAdditiveChildren disables full-replace semantics: stale child nodes are
// left in place instead of being removed on re-map.
func WithAdditiveChildren() Option { return func(m *Mapper) { m.additive = true } }

// WithDeferredReferences makes ToNode skip reference fields whose target has
// no identifier yet instead of failing with UnresolvedReferenceError.
func WithDeferredReferences() Option { return func(m *Mapper) { m.deferRefs = true } }

// WithConverter registers a converter for the given field type.
func WithConverter(t reflect.Type, c Converter) Option {
	return func(m *Mapper) { m.conv[t] = c }
}

// WithConverterFor registers a converter for fields of type T.
func WithConverterFor[T any](c Converter) Option {
	return WithConverter(reflect.TypeOf((*T)(nil)).Elem(), c)
}

// WithNameCleaner installs a node-name normalization hook applied to every
// name the mapper derives from an object. The default validates only.
func WithNameCleaner(f func(string) string) Option { return func(m *Mapper) { m.clean = f } }

// Mapper translates object graphs to node subtrees and back. A Mapper is
// immutable after New and safe for concurrent use; each top-level call gets
// its own mappingContext.
type Mapper struct {
	log        *log.Logger
	nullPolicy NullPolicy
	additive   bool
	deferRefs  bool
	conv       map[reflect.Type]Converter
	clean      func(string) string
}

// New builds a Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		log:   log.Default(),
		conv:  map[reflect.Type]Converter{},
		clean: func(s string) string { return s },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Mapper) converterFor(t reflect.Type) Converter { return m.conv[t] }

// mappingContext is the per-call state of one top-level mapping operation.
// It is never shared across concurrent calls.
type mappingContext struct {
	session  Session
	visited  map[any]struct{}         // containment cycle detection, identity keyed
	byID     map[string]reflect.Value // reconstructed objects per node id (tree -> object)
	depth    int
	maxDepth int // negative means unbounded
}

func newContext(ses Session, maxDepth int) *mappingContext {
	return &mappingContext{
		session:  ses,
		visited:  map[any]struct{}{},
		byID:     map[string]reflect.Value{},
		maxDepth: maxDepth,
	}
}

func (c *mappingContext) withinBudget() bool {
	return c.maxDepth < 0 || c.depth < c.maxDepth
}

// snapshot copies the depth bookkeeping for a lazy loader; the visited and
// identity sets belong to the originating call and are not carried over.
func (c *mappingContext) snapshot() *mappingContext {
	return &mappingContext{
		session:  c.session,
		visited:  map[any]struct{}{},
		byID:     map[string]reflect.Value{},
		depth:    c.depth,
		maxDepth: c.maxDepth,
	}
}

// ---- object -> tree ----

// ToNode maps obj to a child node under parentPath, named from the object's
// name field (or the base of its path field). maxDepth bounds child-container
// recursion; 0 maps scalars and references only, negative is unbounded.
func (m *Mapper) ToNode(ses Session, parentPath string, obj any, maxDepth int) (Node, error) {
	rv, md, err := mappedValue(obj)
	if err != nil {
		return nil, err
	}
	parent, err := ses.Node(parentPath)
	if err != nil {
		return nil, err
	}
	name, err := m.nodeName(md, rv)
	if err != nil {
		return nil, err
	}
	node, err := parent.CreateChild(name)
	if err != nil {
		return nil, err
	}
	if err := m.mapObject(newContext(ses, maxDepth), node, rv, md); err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode re-maps obj onto an existing node (merge/overwrite). Child
// containers follow full-replace semantics unless additive mode is set.
func (m *Mapper) UpdateNode(ses Session, node Node, obj any, maxDepth int) (Node, error) {
	rv, md, err := mappedValue(obj)
	if err != nil {
		return nil, err
	}
	if err := m.mapObject(newContext(ses, maxDepth), node, rv, md); err != nil {
		return nil, err
	}
	return node, nil
}

func mappedValue(obj any) (reflect.Value, *TypeMetadata, error) {
	rv := reflect.ValueOf(obj)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("jcrom: mapped objects must be non-nil struct pointers, got %T", obj)
	}
	md, err := resolveMetadata(rv.Type().Elem())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return rv, md, nil
}

func (m *Mapper) nodeName(md *TypeMetadata, rv reflect.Value) (string, error) {
	var name string
	if md.name != nil {
		name = rv.Elem().FieldByIndex(md.name.index).String()
	}
	if name == "" && md.path != nil {
		if p := rv.Elem().FieldByIndex(md.path.index).String(); p != "" {
			name = path.Base(p)
		}
	}
	name = m.clean(name)
	if name == "" || name == "/" || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("jcrom: %s has no usable node name (got %q)", md.typ, name)
	}
	return name, nil
}

// mapObject writes one object's fields onto node, recursing into children.
// rv is a non-nil struct pointer already matched to md.
func (m *Mapper) mapObject(ctx *mappingContext, node Node, rv reflect.Value, md *TypeMetadata) error {
	key := rv.Interface()
	if _, seen := ctx.visited[key]; seen {
		return &CyclicGraphError{Path: node.Path(), Type: md.typ}
	}
	ctx.visited[key] = struct{}{}

	m.log.Debug("mapping object to node", "type", md.typ.String(), "path", node.Path())

	sv := rv.Elem()
	m.writeIdentity(node, sv, md)

	for i := range md.props {
		if err := m.writeProperty(node, sv, &md.props[i]); err != nil {
			return err
		}
	}
	for i := range md.refs {
		if err := m.writeReference(node, sv, &md.refs[i]); err != nil {
			return err
		}
	}
	if !ctx.withinBudget() {
		return nil
	}
	for i := range md.children {
		cf := &md.children[i]
		cv, skip, err := containerValue(sv.FieldByIndex(cf.index))
		if err != nil {
			return err
		}
		if skip {
			continue // unmaterialized store-backed lazy field: contents unchanged
		}
		if err := m.mapToChildren(ctx, node, cf, cv); err != nil {
			return err
		}
	}
	return nil
}

// writeIdentity pushes the node's identity back into the object, so a freshly
// persisted object carries its store-assigned id and path.
func (m *Mapper) writeIdentity(node Node, sv reflect.Value, md *TypeMetadata) {
	setString := func(ref *fieldRef, s string) {
		if ref == nil {
			return
		}
		fv := sv.FieldByIndex(ref.index)
		fv.SetString(s)
	}
	setString(md.id, node.ID())
	setString(md.path, node.Path())
	setString(md.name, node.Name())
}

func (m *Mapper) writeProperty(node Node, sv reflect.Value, pf *propertyField) error {
	fv := sv.FieldByIndex(pf.index)
	if isNullValue(fv) {
		return m.writeNull(node, pf.store, fv.Type())
	}
	v, present, err := m.toStoreValue(fv)
	if err != nil {
		return err
	}
	if !present {
		return m.writeNull(node, pf.store, fv.Type())
	}
	return node.SetProperty(pf.store, v)
}

func (m *Mapper) writeNull(node Node, name string, t reflect.Type) error {
	if m.nullPolicy == NullOmit {
		return node.RemoveProperty(name)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	empty, err := scalarToValue(reflect.Zero(t))
	if err != nil {
		return err
	}
	return node.SetProperty(name, empty)
}

func isNullValue(fv reflect.Value) bool {
	switch fv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return fv.IsNil()
	}
	return false
}

func (m *Mapper) writeReference(node Node, sv reflect.Value, rf *referenceField) error {
	fv := sv.FieldByIndex(rf.index)
	if rf.lazy {
		if fv.IsNil() {
			return m.nullReference(node, rf)
		}
		cell := fv.Interface().(lazyCell)
		if cell.storeBacked() && !cell.resolved() {
			return nil // identifier already in the store, nothing changed
		}
		v, err := cell.getAny()
		if err != nil {
			return err
		}
		fv = reflect.ValueOf(v)
	}
	if !fv.IsValid() || isNullValue(fv) {
		return m.nullReference(node, rf)
	}
	if rf.multi {
		vs := make([]Value, 0, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			id, err := m.referenceID(node, rf, fv.Index(i))
			if err != nil {
				return err
			}
			if id == "" {
				continue // deferred
			}
			vs = append(vs, ReferenceValue(id))
		}
		mv, err := MultiValue(vs...)
		if err != nil {
			return err
		}
		return node.SetProperty(rf.store, mv)
	}
	id, err := m.referenceID(node, rf, fv)
	if err != nil {
		return err
	}
	if id == "" {
		return nil // deferred
	}
	return node.SetProperty(rf.store, ReferenceValue(id))
}

func (m *Mapper) nullReference(node Node, rf *referenceField) error {
	if m.nullPolicy == NullOmit {
		return node.RemoveProperty(rf.store)
	}
	if rf.multi {
		mv, _ := MultiValue()
		return node.SetProperty(rf.store, mv)
	}
	return node.SetProperty(rf.store, ReferenceValue(""))
}

// referenceID extracts the persisted identifier of a referenced object;
// an empty identifier means the target was never mapped.
func (m *Mapper) referenceID(node Node, rf *referenceField, target reflect.Value) (string, error) {
	if isNullValue(target) {
		return "", nil
	}
	tmd, err := resolveMetadata(target.Type())
	if err != nil {
		return "", err
	}
	if tmd.id == nil {
		return "", &MetadataError{Type: tmd.typ, Reason: "referenced types must declare an id field"}
	}
	id := target.Elem().FieldByIndex(tmd.id.index).String()
	if id == "" {
		if m.deferRefs {
			return "", nil
		}
		return "", &UnresolvedReferenceError{Path: node.Path(), Field: rf.name}
	}
	return id, nil
}

// containerValue unwraps a child-container field value, resolving lazy cells.
// skip is true for a store-backed lazy cell that was never materialized.
func containerValue(fv reflect.Value) (reflect.Value, bool, error) {
	if !isLazyType(fv.Type()) {
		return fv, false, nil
	}
	if fv.IsNil() {
		return reflect.Zero(lazyElemType(fv.Type())), false, nil
	}
	cell := fv.Interface().(lazyCell)
	if cell.storeBacked() && !cell.resolved() {
		return reflect.Value{}, true, nil
	}
	v, err := cell.getAny()
	if err != nil {
		return reflect.Value{}, false, err
	}
	if v == nil {
		return reflect.Zero(cell.elemType()), false, nil
	}
	return reflect.ValueOf(v), false, nil
}

// ---- tree -> object ----

// FromNode reconstructs a *T from the node at path. maxDepth bounds
// child-container recursion the same way as ToNode.
func FromNode[T any](m *Mapper, ses Session, path string, maxDepth int) (*T, error) {
	out, err := m.FromNodeAs(ses, path, reflect.TypeOf((*T)(nil)), maxDepth)
	if err != nil {
		return nil, err
	}
	return out.(*T), nil
}

// FromNodeAs is the non-generic variant of FromNode; t must be a pointer to a
// mapped struct type.
func (m *Mapper) FromNodeAs(ses Session, path string, t reflect.Type, maxDepth int) (any, error) {
	node, err := ses.Node(path)
	if err != nil {
		return nil, err
	}
	rv, err := m.fromNode(newContext(ses, maxDepth), node, t, reflect.Value{})
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// fromNode instantiates t (a struct or pointer-to-struct type) from node and
// returns a pointer value. parent, when valid, feeds the parent-role field.
func (m *Mapper) fromNode(ctx *mappingContext, node Node, t reflect.Type, parent reflect.Value) (reflect.Value, error) {
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return reflect.Value{}, &InstantiationError{Type: t, Reason: "not a struct type; interface elements need a registered concrete type"}
	}
	md, err := resolveMetadata(st)
	if err != nil {
		return reflect.Value{}, err
	}

	rv := reflect.New(st)
	if id := node.ID(); id != "" {
		ctx.byID[id] = rv
	}
	sv := rv.Elem()

	m.readIdentity(node, sv, md)
	if md.parent != nil && parent.IsValid() {
		pv := sv.FieldByIndex(md.parent.index)
		if parent.Type().AssignableTo(pv.Type()) {
			pv.Set(parent)
		}
	}

	for i := range md.props {
		pf := &md.props[i]
		v, ok := node.Property(pf.store)
		if !ok {
			continue
		}
		fv, err := m.fromStoreValue(v, pf.typ)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("jcrom: property %s of %s: %w", pf.store, md.typ, err)
		}
		sv.FieldByIndex(pf.index).Set(fv)
	}

	for i := range md.refs {
		if err := m.readReference(ctx, node, sv, &md.refs[i]); err != nil {
			return reflect.Value{}, err
		}
	}

	for i := range md.children {
		cf := &md.children[i]
		if cf.lazy {
			m.installLazyChildren(ctx, node, sv, rv, cf)
			continue
		}
		if !ctx.withinBudget() {
			continue
		}
		cv, err := m.mapFromChildren(ctx, node, cf, rv)
		if err != nil {
			return reflect.Value{}, err
		}
		if cv.IsValid() {
			sv.FieldByIndex(cf.index).Set(cv)
		}
	}
	return rv, nil
}

func (m *Mapper) readIdentity(node Node, sv reflect.Value, md *TypeMetadata) {
	set := func(ref *fieldRef, s string) {
		if ref != nil {
			sv.FieldByIndex(ref.index).SetString(s)
		}
	}
	set(md.id, node.ID())
	set(md.path, node.Path())
	set(md.name, node.Name())
	if md.version != nil {
		if v, ok := node.Property(baseVersionProperty); ok && v.Kind() == KindString {
			sv.FieldByIndex(md.version.index).SetString(v.Str())
		}
	}
	if md.created != nil {
		if v, ok := node.Property(versionCreatedProperty); ok && v.Kind() == KindTime {
			sv.FieldByIndex(md.created.index).Set(reflect.ValueOf(v.Time()))
		}
	}
}

func (m *Mapper) readReference(ctx *mappingContext, node Node, sv reflect.Value, rf *referenceField) error {
	v, ok := node.Property(rf.store)
	if !ok {
		return nil
	}
	fv := sv.FieldByIndex(rf.index)
	if rf.lazy {
		snap := ctx.snapshot()
		load := func() (any, error) {
			m.log.Debug("lazy loading reference", "path", node.Path(), "field", rf.name)
			if snap.session.Closed() {
				return nil, &SessionClosedError{Path: node.Path()}
			}
			rv, err := m.resolveReference(snap, v, rf)
			if err != nil || !rv.IsValid() {
				return nil, err
			}
			return rv.Interface(), nil
		}
		fv.Set(newLazyCell(fv.Type(), load))
		return nil
	}
	rv, err := m.resolveReference(ctx, v, rf)
	if err != nil {
		return err
	}
	if rv.IsValid() {
		fv.Set(rv)
	}
	return nil
}

// resolveReference loads the object(s) behind an identifier-valued property.
// Objects already reconstructed in this context are reused, which both
// preserves identity and terminates mutually referencing graphs.
func (m *Mapper) resolveReference(ctx *mappingContext, v Value, rf *referenceField) (reflect.Value, error) {
	one := func(id string) (reflect.Value, error) {
		if id == "" {
			return reflect.Value{}, nil
		}
		if prior, ok := ctx.byID[id]; ok && prior.Type().AssignableTo(rf.elem) {
			return prior, nil
		}
		target, err := ctx.session.NodeByID(id)
		if err != nil {
			return reflect.Value{}, err
		}
		return m.fromNode(ctx, target, rf.elem, reflect.Value{})
	}
	if rf.multi {
		elems := v.Values()
		out := reflect.MakeSlice(reflect.SliceOf(rf.elem), 0, len(elems))
		for _, ev := range elems {
			rv, err := one(ev.Reference())
			if err != nil {
				return reflect.Value{}, err
			}
			if rv.IsValid() {
				out = reflect.Append(out, rv)
			}
		}
		return out, nil
	}
	return one(v.Reference())
}

// installLazyChildren binds a deferred loader capturing the container node
// identity and a depth snapshot; a proxy is installed even past the depth
// ceiling so callers can explicitly re-enter deeper.
func (m *Mapper) installLazyChildren(ctx *mappingContext, node Node, sv, parentObj reflect.Value, cf *childField) {
	snap := ctx.snapshot()
	nodePath := node.Path()
	load := func() (any, error) {
		m.log.Debug("lazy loading children", "path", nodePath, "field", cf.name)
		if snap.session.Closed() {
			return nil, &SessionClosedError{Path: nodePath}
		}
		parent, err := snap.session.Node(nodePath)
		if err != nil {
			return nil, err
		}
		cv, err := m.mapFromChildren(snap, parent, cf, parentObj)
		if err != nil {
			return nil, err
		}
		if !cv.IsValid() {
			return nil, nil
		}
		return cv.Interface(), nil
	}
	fv := sv.FieldByIndex(cf.index)
	fv.Set(newLazyCell(fv.Type(), load))
}
