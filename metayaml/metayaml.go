// Package metayaml compiles YAML-authored field-role tables into jcrom
// metadata, for mapped types that cannot (or should not) carry struct tags.
//
// Document shape:
//
//	id: ID
//	name: Slug
//	properties:
//	  - field: Title
//	    store: title
//	children:
//	  - field: Pages
//	    lazy: true
//	    filter: "-tmp*"
//	references:
//	  - field: Author
package metayaml

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	jcrom "github.com/jmptrader/jcrom"
)

type document struct {
	ID      string `yaml:"id"`
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
	Parent  string `yaml:"parent"`
	Version string `yaml:"version"`
	Created string `yaml:"created"`

	Properties []fieldDecl `yaml:"properties"`
	Children   []fieldDecl `yaml:"children"`
	References []fieldDecl `yaml:"references"`
}

type fieldDecl struct {
	Field  string `yaml:"field"`
	Store  string `yaml:"store"`
	Lazy   bool   `yaml:"lazy"`
	Set    bool   `yaml:"set"`
	Filter string `yaml:"filter"`
}

// Parse compiles a YAML role table for the struct type t.
func Parse(t reflect.Type, data []byte) (*jcrom.TypeMetadata, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metayaml: %w", err)
	}
	b := jcrom.NewMetadataFor(t)
	if doc.ID != "" {
		b.ID(doc.ID)
	}
	if doc.Path != "" {
		b.Path(doc.Path)
	}
	if doc.Name != "" {
		b.Name(doc.Name)
	}
	if doc.Parent != "" {
		b.Parent(doc.Parent)
	}
	if doc.Version != "" {
		b.Version(doc.Version)
	}
	if doc.Created != "" {
		b.Created(doc.Created)
	}
	for _, d := range doc.Properties {
		b.Property(d.Field, d.options()...)
	}
	for _, d := range doc.Children {
		b.Child(d.Field, d.options()...)
	}
	for _, d := range doc.References {
		b.Reference(d.Field, d.options()...)
	}
	return b.Build()
}

func (d fieldDecl) options() []jcrom.FieldOption {
	var opts []jcrom.FieldOption
	if d.Store != "" {
		opts = append(opts, jcrom.StoreName(d.Store))
	}
	if d.Lazy {
		opts = append(opts, jcrom.AsLazy())
	}
	if d.Set {
		opts = append(opts, jcrom.AsSet())
	}
	if d.Filter != "" {
		opts = append(opts, jcrom.WithFilter(d.Filter))
	}
	return opts
}

// Register compiles and installs a YAML role table for T.
func Register[T any](data []byte) error {
	md, err := Parse(reflect.TypeOf((*T)(nil)).Elem(), data)
	if err != nil {
		return err
	}
	jcrom.RegisterMetadata(md)
	return nil
}
