package jcrom

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Struct tag key carrying field-role declarations, e.g.
//
//	type Document struct {
//		ID      string              `jcrom:"id"`
//		Name    string              `jcrom:"name"`
//		Title   string              `jcrom:"prop,name=title"`
//		Tags    []string            `jcrom:"prop"`
//		Pages   []*Page             `jcrom:"child"`
//		Index   map[string]*Page    `jcrom:"child,name=index"`
//		Author  *User               `jcrom:"ref"`
//		Folder  *Folder             `jcrom:"parent"`
//		Drafts  *Lazy[[]*Page]      `jcrom:"child,lazy,filter=-tmp*"`
//	}
//
// Untagged fields are not mapped. Exactly one role per field; a second role
// declaration on the same field is a MetadataError.
const tagKey = "jcrom"

// Reserved property names the engine reads for version-role fields. They are
// never written by the engine.
const (
	baseVersionProperty    = "jcrom:baseVersion"
	versionCreatedProperty = "jcrom:created"
)

type containerKind int

const (
	kindSingle containerKind = iota
	kindList
	kindSet
	kindMap
)

func (k containerKind) String() string {
	switch k {
	case kindSingle:
		return "single"
	case kindList:
		return "list"
	case kindSet:
		return "set"
	case kindMap:
		return "map"
	}
	return "?"
}

type fieldRef struct {
	index []int
	name  string
	typ   reflect.Type
}

type propertyField struct {
	fieldRef
	store string
	multi bool
}

type childField struct {
	fieldRef
	store  string
	kind   containerKind
	elem   reflect.Type // element type: ptr-to-struct, struct, or interface upper bound
	key    reflect.Type // map key type, kindMap only
	lazy   bool
	filter NameFilter
}

type referenceField struct {
	fieldRef
	store string
	multi bool
	lazy  bool
	elem  reflect.Type
}

// TypeMetadata is the resolved field-role table for one mapped type. It is
// immutable after resolution and safe for concurrent reads.
type TypeMetadata struct {
	typ reflect.Type

	id      *fieldRef
	path    *fieldRef
	name    *fieldRef
	version *fieldRef
	created *fieldRef
	parent  *fieldRef

	props    []propertyField
	children []childField
	refs     []referenceField
}

// Type returns the struct type this metadata describes.
func (md *TypeMetadata) Type() reflect.Type { return md.typ }

// ---- cache ----

type metaEntry struct {
	once sync.Once
	md   *TypeMetadata
	err  error
}

var metaCache sync.Map // reflect.Type -> *metaEntry

// resolveMetadata returns the cached role table for t, building it at most
// once per type under concurrent first use. Failed resolutions are not cached.
func resolveMetadata(t reflect.Type) (*TypeMetadata, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	actual, _ := metaCache.LoadOrStore(t, &metaEntry{})
	e := actual.(*metaEntry)
	e.once.Do(func() { e.md, e.err = buildMetadata(t) })
	if e.err != nil {
		metaCache.CompareAndDelete(t, e)
		return nil, e.err
	}
	return e.md, nil
}

// RegisterMetadata installs an explicitly built role table, taking precedence
// over struct-tag resolution for the same type. Intended for types that cannot
// carry tags (see metayaml).
func RegisterMetadata(md *TypeMetadata) {
	e := &metaEntry{md: md}
	e.once.Do(func() {})
	metaCache.Store(md.typ, e)
}

// ---- struct tag resolution ----

func buildMetadata(t reflect.Type) (*TypeMetadata, error) {
	if t.Kind() != reflect.Struct {
		return nil, &MetadataError{Type: t, Reason: "mapped types must be structs"}
	}
	md := &TypeMetadata{typ: t}
	if err := addFields(md, t, nil); err != nil {
		return nil, err
	}
	if md.id == nil && md.path == nil && md.name == nil {
		return nil, &MetadataError{Type: t, Reason: "no id, path or name field declared"}
	}
	return md, nil
}

// addFields walks declared fields in order, recursing into embedded structs so
// that inherited role declarations participate at their declaration position.
func addFields(md *TypeMetadata, t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag, ok := sf.Tag.Lookup(tagKey)
		if tag == "-" {
			continue
		}
		if !ok {
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
				if err := addFields(md, sf.Type, index); err != nil {
					return err
				}
			}
			continue
		}
		if !sf.IsExported() {
			return &MetadataError{Type: md.typ, Field: sf.Name, Reason: "role declared on unexported field"}
		}
		role, opts := splitTag(tag)
		if err := addField(md, sf, index, role, opts); err != nil {
			return err
		}
	}
	return nil
}

func splitTag(tag string) (string, map[string]string) {
	parts := strings.Split(tag, ",")
	opts := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			opts[p[:eq]] = p[eq+1:]
		} else {
			opts[p] = ""
		}
	}
	return parts[0], opts
}

func addField(md *TypeMetadata, sf reflect.StructField, index []int, role string, opts map[string]string) error {
	ref := fieldRef{index: index, name: sf.Name, typ: sf.Type}
	store := sf.Name
	if n, ok := opts["name"]; ok && n != "" {
		store = n
	}
	switch role {
	case "id":
		return setExclusive(md, &md.id, ref, "id", reflect.String)
	case "path":
		return setExclusive(md, &md.path, ref, "path", reflect.String)
	case "name":
		return setExclusive(md, &md.name, ref, "name", reflect.String)
	case "version":
		return setExclusive(md, &md.version, ref, "version", reflect.String)
	case "created":
		if sf.Type != timeType {
			return &MetadataError{Type: md.typ, Field: sf.Name, Reason: "created field must be time.Time"}
		}
		if md.created != nil {
			return &MetadataError{Type: md.typ, Field: sf.Name, Reason: "duplicate created field (" + md.created.name + " already declared)"}
		}
		md.created = &ref
		return nil
	case "parent":
		if md.parent != nil {
			return &MetadataError{Type: md.typ, Field: sf.Name, Reason: "duplicate parent field (" + md.parent.name + " already declared)"}
		}
		k := sf.Type.Kind()
		if k != reflect.Pointer && k != reflect.Interface {
			return &MetadataError{Type: md.typ, Field: sf.Name, Reason: "parent field must be a pointer or interface"}
		}
		md.parent = &ref
		return nil
	case "prop":
		pf := propertyField{fieldRef: ref, store: store}
		ft := sf.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		pf.multi = ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8
		md.props = append(md.props, pf)
		return nil
	case "child":
		cf, err := classifyChild(md.typ, sf, ref, store, opts)
		if err != nil {
			return err
		}
		md.children = append(md.children, cf)
		return nil
	case "ref":
		rf, err := classifyReference(md.typ, sf, ref, store, opts)
		if err != nil {
			return err
		}
		md.refs = append(md.refs, rf)
		return nil
	}
	return &MetadataError{Type: md.typ, Field: sf.Name, Reason: fmt.Sprintf("unknown role %q", role)}
}

func setExclusive(md *TypeMetadata, slot **fieldRef, ref fieldRef, role string, want reflect.Kind) error {
	if ref.typ.Kind() != want {
		return &MetadataError{Type: md.typ, Field: ref.name, Reason: role + " field must be of kind " + want.String()}
	}
	if *slot != nil {
		return &MetadataError{Type: md.typ, Field: ref.name, Reason: "duplicate " + role + " field (" + (*slot).name + " already declared)"}
	}
	*slot = &ref
	return nil
}

// classifyChild resolves the container kind and element type of a child field.
// Three shapes resolve uniformly: a directly parameterized container
// (slice/map/pointer), a named type whose underlying type fixes the container
// (handled by reflect.Kind), and an interface-typed element, which falls back
// to the interface as its upper bound.
func classifyChild(owner reflect.Type, sf reflect.StructField, ref fieldRef, store string, opts map[string]string) (childField, error) {
	cf := childField{fieldRef: ref, store: store}
	if spec, ok := opts["filter"]; ok {
		// '|' separates patterns inside the tag; commas belong to the tag grammar
		cf.filter = ParseNameFilter(strings.ReplaceAll(spec, "|", ","))
	}
	ct := sf.Type
	if isLazyType(ct) {
		cf.lazy = true
		ct = lazyElemType(ct)
	}
	if _, ok := opts["lazy"]; ok && !cf.lazy {
		return cf, &MetadataError{Type: owner, Field: sf.Name, Reason: "lazy child field must be typed *jcrom.Lazy[...]"}
	}
	_, wantSet := opts["set"]
	switch ct.Kind() {
	case reflect.Slice:
		cf.kind = kindList
		if wantSet {
			cf.kind = kindSet
		}
		cf.elem = ct.Elem()
	case reflect.Map:
		if wantSet {
			return cf, &MetadataError{Type: owner, Field: sf.Name, Reason: "set option requires a slice field"}
		}
		cf.kind = kindMap
		cf.key = ct.Key()
		if !validKeyType(ct.Key()) {
			return cf, &MetadataError{Type: owner, Field: sf.Name, Reason: "map key type " + ct.Key().String() + " is not encodable as a node name"}
		}
		cf.elem = ct.Elem()
	case reflect.Pointer, reflect.Struct, reflect.Interface:
		cf.kind = kindSingle
		cf.elem = ct
	default:
		return cf, &MetadataError{Type: owner, Field: sf.Name, Reason: "child field must be a struct, pointer, slice, map or Lazy thereof"}
	}
	if cf.elem.Kind() == reflect.Map || cf.elem.Kind() == reflect.Slice {
		return cf, &MetadataError{Type: owner, Field: sf.Name, Reason: "ambiguous element type " + cf.elem.String()}
	}
	return cf, nil
}

func classifyReference(owner reflect.Type, sf reflect.StructField, ref fieldRef, store string, opts map[string]string) (referenceField, error) {
	rf := referenceField{fieldRef: ref, store: store}
	rt := sf.Type
	if isLazyType(rt) {
		rf.lazy = true
		rt = lazyElemType(rt)
	}
	if _, ok := opts["lazy"]; ok && !rf.lazy {
		return rf, &MetadataError{Type: owner, Field: sf.Name, Reason: "lazy reference field must be typed *jcrom.Lazy[...]"}
	}
	if rt.Kind() == reflect.Slice {
		rf.multi = true
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return rf, &MetadataError{Type: owner, Field: sf.Name, Reason: "reference field must hold pointers to mapped structs"}
	}
	rf.elem = rt
	return rf, nil
}

func validKeyType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// ---- explicit builder (used by metayaml and tag-free types) ----

// MetadataBuilder assembles a role table without struct tags. Field names are
// Go field names on the target struct; validation happens in Build.
type MetadataBuilder struct {
	t    reflect.Type
	decl []builderDecl
}

type builderDecl struct {
	field string
	role  string
	opts  map[string]string
}

// NewMetadata starts a builder for T.
func NewMetadata[T any]() *MetadataBuilder {
	return NewMetadataFor(reflect.TypeOf((*T)(nil)).Elem())
}

// NewMetadataFor starts a builder for the given struct type.
func NewMetadataFor(t reflect.Type) *MetadataBuilder {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return &MetadataBuilder{t: t}
}

func (b *MetadataBuilder) add(field, role string, opts map[string]string) *MetadataBuilder {
	if opts == nil {
		opts = map[string]string{}
	}
	b.decl = append(b.decl, builderDecl{field: field, role: role, opts: opts})
	return b
}

func (b *MetadataBuilder) ID(field string) *MetadataBuilder      { return b.add(field, "id", nil) }
func (b *MetadataBuilder) Path(field string) *MetadataBuilder    { return b.add(field, "path", nil) }
func (b *MetadataBuilder) Name(field string) *MetadataBuilder    { return b.add(field, "name", nil) }
func (b *MetadataBuilder) Parent(field string) *MetadataBuilder  { return b.add(field, "parent", nil) }
func (b *MetadataBuilder) Version(field string) *MetadataBuilder { return b.add(field, "version", nil) }
func (b *MetadataBuilder) Created(field string) *MetadataBuilder { return b.add(field, "created", nil) }

// FieldOption tunes a Property, Child or Reference declaration.
type FieldOption func(map[string]string)

// StoreName overrides the store-side property or container name.
func StoreName(name string) FieldOption { return func(o map[string]string) { o["name"] = name } }

// AsLazy marks the field lazy; the field must be typed *Lazy[C].
func AsLazy() FieldOption { return func(o map[string]string) { o["lazy"] = "" } }

// AsSet gives a slice child field set semantics (unordered, name-deduplicated).
func AsSet() FieldOption { return func(o map[string]string) { o["set"] = "" } }

// WithFilter attaches a name filter to a child field ('|' separates patterns).
func WithFilter(spec string) FieldOption { return func(o map[string]string) { o["filter"] = spec } }

func applyOpts(opts []FieldOption) map[string]string {
	m := map[string]string{}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (b *MetadataBuilder) Property(field string, opts ...FieldOption) *MetadataBuilder {
	return b.add(field, "prop", applyOpts(opts))
}

func (b *MetadataBuilder) Child(field string, opts ...FieldOption) *MetadataBuilder {
	return b.add(field, "child", applyOpts(opts))
}

func (b *MetadataBuilder) Reference(field string, opts ...FieldOption) *MetadataBuilder {
	return b.add(field, "ref", applyOpts(opts))
}

// Build validates every declaration against the struct type and returns the
// immutable role table. Build does not register; see RegisterMetadata.
func (b *MetadataBuilder) Build() (*TypeMetadata, error) {
	if b.t.Kind() != reflect.Struct {
		return nil, &MetadataError{Type: b.t, Reason: "mapped types must be structs"}
	}
	md := &TypeMetadata{typ: b.t}
	declared := map[string]bool{}
	for _, d := range b.decl {
		if declared[d.field] {
			return nil, &MetadataError{Type: b.t, Field: d.field, Reason: "field matches two role declarations"}
		}
		declared[d.field] = true
		sf, ok := b.t.FieldByName(d.field)
		if !ok {
			return nil, &MetadataError{Type: b.t, Field: d.field, Reason: "no such field"}
		}
		if !sf.IsExported() {
			return nil, &MetadataError{Type: b.t, Field: d.field, Reason: "role declared on unexported field"}
		}
		if err := addField(md, sf, sf.Index, d.role, d.opts); err != nil {
			return nil, err
		}
	}
	if md.id == nil && md.path == nil && md.name == nil {
		return nil, &MetadataError{Type: b.t, Reason: "no id, path or name field declared"}
	}
	return md, nil
}
