package jcrom

// Package jcrom maps Go object graphs onto a hierarchical content tree and back:
//
// - Struct-tag (or builder-declared) field roles: id, path, name, prop, child, ref, parent
// - A stable error model via typed errors (MetadataError, CyclicGraphError, ...)
// - Bidirectional scalar conversion with a user converter registry (see codec/)
// - Lazy child collections via Lazy[T] with at-most-once materialization
//
// Design policy:
// - Keep only public APIs in the root package; the store boundary is the Session/Node pair.
// - Place extra converters under codec/, the in-memory store under memstore/,
//   and YAML-authored metadata under metayaml/.
// - Prefer black-box testing against public APIs.
//
// Typical usage:
//
//	m := jcrom.New()
//	node, err := m.ToNode(session, "/docs", &doc, -1)
//	back, err := jcrom.FromNode[Document](m, session, "/docs/sample", -1)
