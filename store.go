package jcrom

// Session is the engine's view of an open tree-store session. Implementations
// live outside this package (memstore provides an in-memory one). All calls
// are synchronous; a closed session fails lazy materialization with
// SessionClosedError.
type Session interface {
	// Node resolves an absolute path, returning ErrNotFound when absent.
	Node(path string) (Node, error)
	// NodeByID resolves a store-assigned identifier, returning ErrNotFound
	// when absent.
	NodeByID(id string) (Node, error)
	// Closed reports whether the session has been torn down.
	Closed() bool
}

// Node is one unit of the tree store: a path and identifier, named properties,
// and an ordered set of named children.
type Node interface {
	ID() string
	Path() string
	Name() string

	Property(name string) (Value, bool)
	SetProperty(name string, v Value) error
	RemoveProperty(name string) error
	Properties() []string

	// Child returns the named child, if present.
	Child(name string) (Node, bool)
	// CreateChild returns the named child, creating it when absent.
	CreateChild(name string) (Node, error)
	// Children returns the children in store order.
	Children() []Node

	// Remove detaches this node (and its subtree) from the store.
	Remove() error
}
