// Package memstore provides an in-memory jcrom.Session: a process-local
// content tree with ordered children, store-assigned identifiers and close
// semantics. It is the reference implementation of the store contract and the
// backend the test suite runs against.
package memstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	jcrom "github.com/jmptrader/jcrom"
)

// Store is an in-memory content tree. It doubles as its own Session; Open
// hands out session views that share the tree but close independently.
type Store struct {
	mu   sync.RWMutex
	root *node
	byID map[string]*node
}

// New returns a Store with an empty root node at "/".
func New() *Store {
	s := &Store{byID: map[string]*node{}}
	s.root = &node{st: s, id: uuid.NewString(), name: ""}
	s.byID[s.root.id] = s.root
	return s
}

// Open returns a new session over the store's tree.
func (s *Store) Open() *Session {
	return &Session{st: s}
}

// Session is one open view of the store. Closing it fails later lazy loads
// without touching the underlying tree.
type Session struct {
	st     *Store
	mu     sync.Mutex
	closed bool
}

var _ jcrom.Session = (*Session)(nil)

// Close tears the session down. Idempotent.
func (ses *Session) Close() {
	ses.mu.Lock()
	ses.closed = true
	ses.mu.Unlock()
}

func (ses *Session) Closed() bool {
	ses.mu.Lock()
	defer ses.mu.Unlock()
	return ses.closed
}

func (ses *Session) guard() error {
	if ses.Closed() {
		return fmt.Errorf("memstore: session closed")
	}
	return nil
}

// Node resolves an absolute path like "/docs/sample".
func (ses *Session) Node(path string) (jcrom.Node, error) {
	if err := ses.guard(); err != nil {
		return nil, err
	}
	ses.st.mu.RLock()
	defer ses.st.mu.RUnlock()
	if path == "/" || path == "" {
		return ses.view(ses.st.root), nil
	}
	cur := ses.st.root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		next := cur.childLocked(seg)
		if next == nil {
			return nil, fmt.Errorf("memstore: %s: %w", path, jcrom.ErrNotFound)
		}
		cur = next
	}
	return ses.view(cur), nil
}

// NodeByID resolves a store-assigned identifier.
func (ses *Session) NodeByID(id string) (jcrom.Node, error) {
	if err := ses.guard(); err != nil {
		return nil, err
	}
	ses.st.mu.RLock()
	defer ses.st.mu.RUnlock()
	n, ok := ses.st.byID[id]
	if !ok {
		return nil, fmt.Errorf("memstore: id %s: %w", id, jcrom.ErrNotFound)
	}
	return ses.view(n), nil
}

func (ses *Session) view(n *node) jcrom.Node {
	return &nodeView{ses: ses, n: n}
}

// node is the stored representation; nodeView binds it to a session.
type node struct {
	st       *Store
	id       string
	name     string
	parent   *node
	props    map[string]jcrom.Value
	propKeys []string
	children []*node
}

func (n *node) childLocked(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) pathLocked() string {
	if n.parent == nil {
		return "/"
	}
	parts := []string{}
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}

func (n *node) detachLocked() {
	delete(n.st.byID, n.id)
	for _, c := range n.children {
		c.detachLocked()
	}
	if n.parent != nil {
		kids := n.parent.children
		for i, c := range kids {
			if c == n {
				n.parent.children = append(kids[:i:i], kids[i+1:]...)
				break
			}
		}
		n.parent = nil
	}
}

type nodeView struct {
	ses *Session
	n   *node
}

var _ jcrom.Node = (*nodeView)(nil)

func (v *nodeView) ID() string { return v.n.id }

func (v *nodeView) Name() string { return v.n.name }

func (v *nodeView) Path() string {
	v.n.st.mu.RLock()
	defer v.n.st.mu.RUnlock()
	return v.n.pathLocked()
}

func (v *nodeView) Property(name string) (jcrom.Value, bool) {
	v.n.st.mu.RLock()
	defer v.n.st.mu.RUnlock()
	val, ok := v.n.props[name]
	return val, ok
}

func (v *nodeView) SetProperty(name string, val jcrom.Value) error {
	if err := v.ses.guard(); err != nil {
		return err
	}
	v.n.st.mu.Lock()
	defer v.n.st.mu.Unlock()
	if v.n.props == nil {
		v.n.props = map[string]jcrom.Value{}
	}
	if _, ok := v.n.props[name]; !ok {
		v.n.propKeys = append(v.n.propKeys, name)
	}
	v.n.props[name] = val
	return nil
}

func (v *nodeView) RemoveProperty(name string) error {
	if err := v.ses.guard(); err != nil {
		return err
	}
	v.n.st.mu.Lock()
	defer v.n.st.mu.Unlock()
	if _, ok := v.n.props[name]; !ok {
		return nil
	}
	delete(v.n.props, name)
	for i, k := range v.n.propKeys {
		if k == name {
			v.n.propKeys = append(v.n.propKeys[:i:i], v.n.propKeys[i+1:]...)
			break
		}
	}
	return nil
}

func (v *nodeView) Properties() []string {
	v.n.st.mu.RLock()
	defer v.n.st.mu.RUnlock()
	out := make([]string, len(v.n.propKeys))
	copy(out, v.n.propKeys)
	return out
}

func (v *nodeView) Child(name string) (jcrom.Node, bool) {
	v.n.st.mu.RLock()
	defer v.n.st.mu.RUnlock()
	c := v.n.childLocked(name)
	if c == nil {
		return nil, false
	}
	return v.ses.view(c), true
}

func (v *nodeView) CreateChild(name string) (jcrom.Node, error) {
	if err := v.ses.guard(); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsRune(name, '/') {
		return nil, fmt.Errorf("memstore: invalid node name %q", name)
	}
	v.n.st.mu.Lock()
	defer v.n.st.mu.Unlock()
	if c := v.n.childLocked(name); c != nil {
		return v.ses.view(c), nil
	}
	c := &node{st: v.n.st, id: uuid.NewString(), name: name, parent: v.n}
	v.n.st.byID[c.id] = c
	v.n.children = append(v.n.children, c)
	return v.ses.view(c), nil
}

func (v *nodeView) Children() []jcrom.Node {
	v.n.st.mu.RLock()
	defer v.n.st.mu.RUnlock()
	out := make([]jcrom.Node, len(v.n.children))
	for i, c := range v.n.children {
		out[i] = v.ses.view(c)
	}
	return out
}

func (v *nodeView) Remove() error {
	if err := v.ses.guard(); err != nil {
		return err
	}
	v.n.st.mu.Lock()
	defer v.n.st.mu.Unlock()
	if v.n.parent == nil {
		return fmt.Errorf("memstore: cannot remove the root node")
	}
	v.n.detachLocked()
	return nil
}
