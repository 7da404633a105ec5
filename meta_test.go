package jcrom

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type metaArticle struct {
	ID      string                `jcrom:"id"`
	Slug    string                `jcrom:"name"`
	Title   string                `jcrom:"prop,name=title"`
	Tags    []string              `jcrom:"prop"`
	When    time.Time             `jcrom:"prop"`
	Body    *metaBlock            `jcrom:"child"`
	Blocks  []*metaBlock          `jcrom:"child"`
	ByKey   map[string]*metaBlock `jcrom:"child,name=by-key"`
	Writer  *metaWriter           `jcrom:"ref"`
	Ignored string
}

type metaBlock struct {
	ID   string       `jcrom:"id"`
	Text string       `jcrom:"prop"`
	Up   *metaArticle `jcrom:"parent"`
}

type metaWriter struct {
	ID   string `jcrom:"id"`
	Name string `jcrom:"name"`
}

func TestResolveMetadataRoles(t *testing.T) {
	md, err := resolveMetadata(reflect.TypeOf(&metaArticle{}))
	require.NoError(t, err)

	require.NotNil(t, md.id)
	require.Equal(t, "Slug", md.name.name)
	require.Nil(t, md.path)

	require.Len(t, md.props, 3)
	require.Equal(t, "title", md.props[0].store)
	require.True(t, md.props[1].multi, "slice property is multi-valued")
	require.False(t, md.props[2].multi)

	require.Len(t, md.children, 3)
	require.Equal(t, kindSingle, md.children[0].kind)
	require.Equal(t, kindList, md.children[1].kind)
	require.Equal(t, kindMap, md.children[2].kind)
	require.Equal(t, "by-key", md.children[2].store)
	require.Equal(t, reflect.TypeOf(""), md.children[2].key)

	require.Len(t, md.refs, 1)
	require.False(t, md.refs[0].multi)
}

func TestResolveMetadataParentRole(t *testing.T) {
	md, err := resolveMetadata(reflect.TypeOf(metaBlock{}))
	require.NoError(t, err)
	require.NotNil(t, md.parent)
	require.Equal(t, "Up", md.parent.name)
}

type metaBase struct {
	ID string `jcrom:"id"`
}

type metaDerived struct {
	metaBase
	Label string `jcrom:"name"`
	Note  string `jcrom:"prop"`
}

func TestResolveMetadataEmbeddedInheritance(t *testing.T) {
	md, err := resolveMetadata(reflect.TypeOf(metaDerived{}))
	require.NoError(t, err)
	require.NotNil(t, md.id)
	require.Equal(t, []int{0, 0}, md.id.index, "inherited id resolves through the embedded chain")
}

type metaDupID struct {
	A string `jcrom:"id"`
	B string `jcrom:"id"`
	N string `jcrom:"name"`
}

func TestResolveMetadataDuplicateRole(t *testing.T) {
	_, err := resolveMetadata(reflect.TypeOf(metaDupID{}))
	var me *MetadataError
	require.ErrorAs(t, err, &me)
	require.Equal(t, "B", me.Field)
}

type metaNoIdentity struct {
	Text string `jcrom:"prop"`
}

func TestResolveMetadataNoIdentity(t *testing.T) {
	_, err := resolveMetadata(reflect.TypeOf(metaNoIdentity{}))
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

type metaBadKey struct {
	ID string                  `jcrom:"id"`
	M  map[float64]*metaWriter `jcrom:"child"`
}

func TestResolveMetadataBadMapKey(t *testing.T) {
	_, err := resolveMetadata(reflect.TypeOf(metaBadKey{}))
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

type metaBadLazy struct {
	ID string        `jcrom:"id"`
	K  []*metaWriter `jcrom:"child,lazy"`
}

func TestResolveMetadataLazyNeedsLazyType(t *testing.T) {
	_, err := resolveMetadata(reflect.TypeOf(metaBadLazy{}))
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

type metaConcurrent struct {
	ID string `jcrom:"id"`
}

func TestResolveMetadataConcurrentSingleInstance(t *testing.T) {
	const n = 32
	var wg sync.WaitGroup
	out := make([]*TypeMetadata, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			md, err := resolveMetadata(reflect.TypeOf(metaConcurrent{}))
			require.NoError(t, err)
			out[i] = md
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Same(t, out[0], out[i], "all callers must observe one TypeMetadata instance")
	}
}

type metaTagFree struct {
	Key      string
	Headline string
}

func TestMetadataBuilderAndRegistry(t *testing.T) {
	md, err := NewMetadata[metaTagFree]().
		Name("Key").
		Property("Headline", StoreName("headline")).
		Build()
	require.NoError(t, err)
	RegisterMetadata(md)

	got, err := resolveMetadata(reflect.TypeOf(metaTagFree{}))
	require.NoError(t, err)
	require.Same(t, md, got, "registered metadata takes precedence over tag resolution")
}

func TestMetadataBuilderRejectsTwoRoles(t *testing.T) {
	_, err := NewMetadata[metaTagFree]().
		Name("Key").
		Property("Key").
		Build()
	var me *MetadataError
	require.ErrorAs(t, err, &me)
}

type metaFailedOnce struct {
	A string `jcrom:"id"`
	B string `jcrom:"id"`
}

func TestFailedResolutionIsNotCached(t *testing.T) {
	_, err := resolveMetadata(reflect.TypeOf(metaFailedOnce{}))
	require.Error(t, err)

	// a later explicit registration must not be shadowed by the failure
	md, err := NewMetadata[metaFailedOnce]().ID("A").Build()
	require.NoError(t, err)
	RegisterMetadata(md)
	got, err := resolveMetadata(reflect.TypeOf(metaFailedOnce{}))
	require.NoError(t, err)
	require.Same(t, md, got)
}
