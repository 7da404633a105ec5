package jcrom_test

import (
	"errors"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	jcrom "github.com/jmptrader/jcrom"
	"github.com/jmptrader/jcrom/memstore"
)

type Author struct {
	ID   string `jcrom:"id"`
	Name string `jcrom:"name"`
	Bio  string `jcrom:"prop"`
}

type Page struct {
	ID    string    `jcrom:"id"`
	Title string    `jcrom:"prop"`
	Doc   *Document `jcrom:"parent"`
}

type Document struct {
	ID       string           `jcrom:"id"`
	Name     string           `jcrom:"name"`
	Title    string           `jcrom:"prop,name=title"`
	Subtitle *string          `jcrom:"prop"`
	Tags     []string         `jcrom:"prop"`
	Words    int64            `jcrom:"prop"`
	Public   bool             `jcrom:"prop"`
	Rating   float64          `jcrom:"prop"`
	Raw      []byte           `jcrom:"prop"`
	Edited   time.Time        `jcrom:"prop"`
	Cover    *Page            `jcrom:"child"`
	Pages    []*Page          `jcrom:"child"`
	Index    map[string]*Page `jcrom:"child"`
	Author   *Author          `jcrom:"ref"`
}

// newSession opens a fresh in-memory store with the given top-level folders.
func newSession(t *testing.T, folders ...string) *memstore.Session {
	t.Helper()
	ses := memstore.New().Open()
	root, err := ses.Node("/")
	require.NoError(t, err)
	for _, f := range folders {
		_, err := root.CreateChild(f)
		require.NoError(t, err)
	}
	return ses
}

func TestDocumentRoundTrip(t *testing.T) {
	ses := newSession(t, "docs", "authors")
	m := jcrom.New()

	author := &Author{Name: "bob", Bio: "writes things"}
	_, err := m.ToNode(ses, "/authors", author, -1)
	require.NoError(t, err)
	require.NotEmpty(t, author.ID, "store-assigned id written back")

	sub := "a subtitle"
	edited := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	doc := &Document{
		Name:     "sample",
		Title:    "Hello, world!",
		Subtitle: &sub,
		Tags:     []string{"a", "b"},
		Words:    2,
		Public:   true,
		Rating:   4.5,
		Raw:      []byte{0x01, 0x02},
		Edited:   edited,
		Cover:    &Page{Title: "cover"},
		Pages:    []*Page{{Title: "one"}, {Title: "two"}},
		Index:    map[string]*Page{"x": {Title: "ex"}, "y": {Title: "why"}},
		Author:   author,
	}
	node, err := m.ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)
	require.Equal(t, "/docs/sample", node.Path())
	require.NotEmpty(t, doc.ID)

	back, err := jcrom.FromNode[Document](m, ses, "/docs/sample", -1)
	require.NoError(t, err, spew.Sdump(doc))

	require.Equal(t, doc.ID, back.ID)
	require.Equal(t, "sample", back.Name)
	require.Equal(t, "Hello, world!", back.Title)
	require.NotNil(t, back.Subtitle)
	require.Equal(t, sub, *back.Subtitle)
	require.Equal(t, []string{"a", "b"}, back.Tags)
	require.Equal(t, int64(2), back.Words)
	require.True(t, back.Public)
	require.Equal(t, 4.5, back.Rating)
	require.Equal(t, []byte{0x01, 0x02}, back.Raw)
	require.True(t, edited.Equal(back.Edited))

	require.NotNil(t, back.Cover)
	require.Equal(t, "cover", back.Cover.Title)
	require.Same(t, back, back.Cover.Doc, "parent back-reference is the caller-side instance")

	require.Len(t, back.Pages, 2)
	require.Equal(t, "one", back.Pages[0].Title)
	require.Equal(t, "two", back.Pages[1].Title)
	require.Same(t, back, back.Pages[0].Doc)

	require.Len(t, back.Index, 2)
	require.Equal(t, "ex", back.Index["x"].Title)
	require.Equal(t, "why", back.Index["y"].Title)

	require.NotNil(t, back.Author)
	require.Equal(t, "bob", back.Author.Name)
	require.Equal(t, author.ID, back.Author.ID)
}

type TreeNode struct {
	ID   string      `jcrom:"id"`
	Name string      `jcrom:"name"`
	Kids []*TreeNode `jcrom:"child"`
}

func chain(names ...string) *TreeNode {
	var root, cur *TreeNode
	for _, n := range names {
		next := &TreeNode{Name: n}
		if cur == nil {
			root = next
		} else {
			cur.Kids = []*TreeNode{next}
		}
		cur = next
	}
	return root
}

func TestFromNodeDepthBound(t *testing.T) {
	ses := newSession(t, "forest")
	m := jcrom.New()
	_, err := m.ToNode(ses, "/forest", chain("a", "b", "c", "d"), -1)
	require.NoError(t, err)

	zero, err := jcrom.FromNode[TreeNode](m, ses, "/forest/a", 0)
	require.NoError(t, err)
	require.Equal(t, "a", zero.Name)
	require.Nil(t, zero.Kids, "maxDepth 0 maps scalars only")

	one, err := jcrom.FromNode[TreeNode](m, ses, "/forest/a", 1)
	require.NoError(t, err)
	require.Len(t, one.Kids, 1)
	require.Nil(t, one.Kids[0].Kids, "recursion stops at the ceiling")

	all, err := jcrom.FromNode[TreeNode](m, ses, "/forest/a", -1)
	require.NoError(t, err)
	require.Equal(t, "d", all.Kids[0].Kids[0].Kids[0].Name)
}

func TestToNodeDepthBound(t *testing.T) {
	ses := newSession(t, "forest")
	m := jcrom.New()
	_, err := m.ToNode(ses, "/forest", chain("a", "b", "c"), 1)
	require.NoError(t, err)

	_, err = ses.Node("/forest/a/Kids/b")
	require.NoError(t, err)
	_, err = ses.Node("/forest/a/Kids/b/Kids")
	require.ErrorIs(t, err, jcrom.ErrNotFound, "children beyond the budget are not written")
}

type LinkNode struct {
	ID   string    `jcrom:"id"`
	Name string    `jcrom:"name"`
	Next *LinkNode `jcrom:"child"`
}

type PeerNode struct {
	ID   string    `jcrom:"id"`
	Name string    `jcrom:"name"`
	Peer *PeerNode `jcrom:"ref"`
}

func TestContainmentCycleRejected(t *testing.T) {
	ses := newSession(t, "links")
	m := jcrom.New()

	a := &LinkNode{Name: "a"}
	b := &LinkNode{Name: "b"}
	a.Next = b
	b.Next = a

	_, err := m.ToNode(ses, "/links", a, -1)
	var cge *jcrom.CyclicGraphError
	require.ErrorAs(t, err, &cge)
}

func TestReferenceCycleAllowed(t *testing.T) {
	ses := newSession(t, "peers")
	m := jcrom.New(jcrom.WithDeferredReferences())

	a := &PeerNode{Name: "a"}
	b := &PeerNode{Name: "b"}
	na, err := m.ToNode(ses, "/peers", a, -1)
	require.NoError(t, err)

	a.Peer = b
	b.Peer = a
	_, err = m.ToNode(ses, "/peers", b, -1)
	require.NoError(t, err)
	_, err = m.UpdateNode(ses, na, a, -1)
	require.NoError(t, err)

	// identifiers only in the store
	prop, ok := na.Property("Peer")
	require.True(t, ok)
	require.Equal(t, jcrom.KindReference, prop.Kind())
	require.Equal(t, b.ID, prop.Reference())

	back, err := jcrom.FromNode[PeerNode](m, ses, "/peers/a", -1)
	require.NoError(t, err)
	require.Equal(t, "b", back.Peer.Name)
	require.Same(t, back, back.Peer.Peer, "mutual references resolve to one instance per call")
}

func TestMapChildFullReplace(t *testing.T) {
	ses := newSession(t, "docs")
	m := jcrom.New()

	doc := &Document{
		Name:  "sample",
		Index: map[string]*Page{"x": {Title: "ex"}, "y": {Title: "why"}},
	}
	node, err := m.ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)

	_, err = ses.Node("/docs/sample/Index/x")
	require.NoError(t, err)
	_, err = ses.Node("/docs/sample/Index/y")
	require.NoError(t, err)

	delete(doc.Index, "y")
	_, err = m.UpdateNode(ses, node, doc, -1)
	require.NoError(t, err)

	_, err = ses.Node("/docs/sample/Index/x")
	require.NoError(t, err)
	_, err = ses.Node("/docs/sample/Index/y")
	require.ErrorIs(t, err, jcrom.ErrNotFound, "re-mapping is a full replace")
}

func TestAdditiveChildrenKeepStaleNodes(t *testing.T) {
	ses := newSession(t, "docs")
	m := jcrom.New(jcrom.WithAdditiveChildren())

	doc := &Document{Name: "sample", Index: map[string]*Page{"x": {Title: "ex"}, "y": {Title: "why"}}}
	node, err := m.ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)

	delete(doc.Index, "y")
	_, err = m.UpdateNode(ses, node, doc, -1)
	require.NoError(t, err)
	_, err = ses.Node("/docs/sample/Index/y")
	require.NoError(t, err)
}

func TestNullPolicy(t *testing.T) {
	ses := newSession(t, "docs")

	doc := &Document{Name: "omitted"}
	node, err := jcrom.New().ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)
	_, ok := node.Property("Tags")
	require.False(t, ok, "NullOmit drops null properties")
	_, ok = node.Property("Subtitle")
	require.False(t, ok)

	doc2 := &Document{Name: "empties"}
	node2, err := jcrom.New(jcrom.WithNullPolicy(jcrom.NullWriteEmpty)).ToNode(ses, "/docs", doc2, -1)
	require.NoError(t, err)
	v, ok := node2.Property("Tags")
	require.True(t, ok, "NullWriteEmpty writes the empty value")
	require.True(t, v.IsMulti())
	require.Empty(t, v.Values())
}

func TestUnresolvedReference(t *testing.T) {
	ses := newSession(t, "docs")

	doc := &Document{Name: "sample", Author: &Author{Name: "nobody"}}
	_, err := jcrom.New().ToNode(ses, "/docs", doc, -1)
	var ure *jcrom.UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)

	node, err := jcrom.New(jcrom.WithDeferredReferences()).ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)
	_, ok := node.Property("Author")
	require.False(t, ok, "deferred reference is skipped, not written")
}

type Folder struct {
	ID    string  `jcrom:"id"`
	Name  string  `jcrom:"name"`
	Items []*Page `jcrom:"child,filter=-tmp*"`
}

func TestNameFilterOnRead(t *testing.T) {
	ses := newSession(t, "f")
	folder, err := ses.Node("/f")
	require.NoError(t, err)
	items, err := folder.CreateChild("Items")
	require.NoError(t, err)
	keep, err := items.CreateChild("keep")
	require.NoError(t, err)
	require.NoError(t, keep.SetProperty("Title", jcrom.StringValue("A")))
	tmp, err := items.CreateChild("tmp-1")
	require.NoError(t, err)
	require.NoError(t, tmp.SetProperty("Title", jcrom.StringValue("B")))

	back, err := jcrom.FromNode[Folder](jcrom.New(), ses, "/f", -1)
	require.NoError(t, err)
	require.Len(t, back.Items, 1)
	require.Equal(t, "A", back.Items[0].Title)
}

type NamedPart struct {
	ID   string `jcrom:"id"`
	Name string `jcrom:"name"`
	V    int64  `jcrom:"prop"`
}

type Bundle struct {
	ID    string       `jcrom:"id"`
	Name  string       `jcrom:"name"`
	Parts []*NamedPart `jcrom:"child,set"`
}

func TestSetChildDeduplicatesNames(t *testing.T) {
	ses := newSession(t, "bundles")
	m := jcrom.New()

	b := &Bundle{Name: "b", Parts: []*NamedPart{
		{Name: "p", V: 1},
		{Name: "p", V: 2},
		{Name: "q", V: 3},
	}}
	_, err := m.ToNode(ses, "/bundles", b, -1)
	require.NoError(t, err)

	back, err := jcrom.FromNode[Bundle](m, ses, "/bundles/b", -1)
	require.NoError(t, err)
	require.Len(t, back.Parts, 2, "set semantics: first occurrence per name wins")
}

type Canvas struct {
	ID   string `jcrom:"id"`
	Name string `jcrom:"name"`
	Body any    `jcrom:"child"`
}

func TestInterfaceElementUpperBound(t *testing.T) {
	ses := newSession(t, "canvases")
	m := jcrom.New()

	// writing resolves the concrete type from the runtime instance
	c := &Canvas{Name: "c", Body: &NamedPart{Name: "np", V: 7}}
	_, err := m.ToNode(ses, "/canvases", c, -1)
	require.NoError(t, err)
	_, err = ses.Node("/canvases/c/Body")
	require.NoError(t, err)

	// reading cannot instantiate the upper bound
	_, err = jcrom.FromNode[Canvas](m, ses, "/canvases/c", -1)
	var ie *jcrom.InstantiationError
	require.ErrorAs(t, err, &ie)
}

type Release struct {
	ID   string    `jcrom:"id"`
	Name string    `jcrom:"name"`
	Base string    `jcrom:"version"`
	At   time.Time `jcrom:"created"`
}

func TestVersionFieldsReadOnly(t *testing.T) {
	ses := newSession(t)
	root, err := ses.Node("/")
	require.NoError(t, err)
	n, err := root.CreateChild("rel")
	require.NoError(t, err)
	ts := time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, n.SetProperty("jcrom:baseVersion", jcrom.StringValue("1.4")))
	require.NoError(t, n.SetProperty("jcrom:created", jcrom.TimeValue(ts)))

	m := jcrom.New()
	back, err := jcrom.FromNode[Release](m, ses, "/rel", -1)
	require.NoError(t, err)
	require.Equal(t, "1.4", back.Base)
	require.True(t, ts.Equal(back.At))

	// the engine never writes version metadata
	out := &Release{Name: "rel2", Base: "9.9"}
	node, err := m.ToNode(ses, "/", out, -1)
	require.NoError(t, err)
	_, ok := node.Property("jcrom:baseVersion")
	require.False(t, ok)
}

func TestUpdateNodeOverwritesProperties(t *testing.T) {
	ses := newSession(t, "docs")
	m := jcrom.New()

	doc := &Document{Name: "sample", Title: "first", Tags: []string{"a"}}
	node, err := m.ToNode(ses, "/docs", doc, -1)
	require.NoError(t, err)

	doc.Title = "second"
	doc.Tags = []string{"b", "c"}
	_, err = m.UpdateNode(ses, node, doc, -1)
	require.NoError(t, err)

	back, err := jcrom.FromNode[Document](m, ses, "/docs/sample", -1)
	require.NoError(t, err)
	require.Equal(t, "second", back.Title)
	require.Equal(t, []string{"b", "c"}, back.Tags)
}

func TestFromNodeMissingPath(t *testing.T) {
	ses := newSession(t)
	_, err := jcrom.FromNode[Document](jcrom.New(), ses, "/nope", -1)
	require.True(t, errors.Is(err, jcrom.ErrNotFound))
}

func TestToNodeRequiresName(t *testing.T) {
	ses := newSession(t, "docs")
	_, err := jcrom.New().ToNode(ses, "/docs", &Document{}, -1)
	require.Error(t, err)
}
