package project_test

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/tsproject/project"
	"github.com/c360studio/tsproject/vfs"
	"github.com/c360studio/tsproject/workingset"
)

const (
	configA = `{"sources": ["src/**/*.ts"], "outDir": "out"}`
	configB = `{"sources": ["../shared/*.ts"], "outFile": "b.js"}`
)

type registryFixture struct {
	fs       *vfs.MemFS
	hosts    *hosts
	registry *project.Registry
	metrics  *prometheus.Registry
}

func newRegistryFixture(t *testing.T, files map[string]string) *registryFixture {
	t.Helper()
	f := &registryFixture{
		fs:      vfs.NewMemFS(files),
		hosts:   newHosts(),
		metrics: prometheus.NewRegistry(),
	}
	f.registry = project.NewRegistry(project.RegistryOptions{
		Reader:     f.fs,
		Lister:     f.fs,
		Changes:    f.fs,
		WorkingSet: workingset.New(nil),
		Extractor:  newExtractor(),
		NewHost:    f.hosts.fn,
		Metrics:    project.NewMetrics(f.metrics),
	})
	require.NoError(t, f.registry.Initialize(context.Background()))
	t.Cleanup(func() { _ = f.registry.Dispose() })
	f.wait(t)
	return f
}

func (f *registryFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.registry.WaitIdle(ctx))
}

func (f *registryFixture) graphs(t *testing.T) map[string]*project.Graph {
	t.Helper()
	f.wait(t)
	graphs, err := f.registry.Graphs(context.Background())
	require.NoError(t, err)
	return graphs
}

func (f *registryFixture) owner(t *testing.T, p string) string {
	t.Helper()
	f.wait(t)
	g, ok := f.registry.ResolveOwner(context.Background(), p)
	if !ok {
		return ""
	}
	return g.Name()
}

func graphNames(graphs map[string]*project.Graph) []string {
	out := make([]string, 0, len(graphs))
	for k := range graphs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestRegistry_DiscoversProjects(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json":       configA,
		"/a/src/main.ts":          "",
		"/b/.brackets-typescript": configB,
		"/c/tsproject.json":       `{"sources": []}`,
		"/d/other.json":           configA,
	})

	graphs := f.graphs(t)
	assert.Equal(t, []string{"/a/tsproject.json", "/b/.brackets-typescript"}, graphNames(graphs))
	assert.Equal(t, "/a", graphs["/a/tsproject.json"].BaseDir())

	diags, err := f.registry.Diagnostics(context.Background())
	require.NoError(t, err)
	require.Contains(t, diags, "/c/tsproject.json")
	assert.ErrorIs(t, diags["/c/tsproject.json"], project.ErrInvalidConfig)

	expected := `
# HELP tsproject_projects Live project graphs.
# TYPE tsproject_projects gauge
tsproject_projects 2
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics, strings.NewReader(expected), "tsproject_projects"))
}

func TestRegistry_ResolveOwnerPrefersSource(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json":       configA,
		"/a/src/main.ts":          `require("../../shared/util.ts")`,
		"/b/.brackets-typescript": configB,
		"/shared/util.ts":         "",
		"/lonely/x.ts":            "",
	})

	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/a/src/main.ts"))
	assert.Equal(t, "/b/.brackets-typescript", f.owner(t, "/shared/util.ts"), "source owner wins over reference owner")
	assert.Equal(t, "", f.owner(t, "/lonely/x.ts"))

	// Without the source owner the reference owner is used.
	f.fs.DeleteFile("/b/.brackets-typescript")
	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/shared/util.ts"))
}

func TestRegistry_ConfigUpdateInPlace(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json": configA,
		"/a/src/main.ts":    "",
		"/a/test/spec.ts":   "",
	})
	before := f.graphs(t)["/a/tsproject.json"]

	f.fs.WriteFile("/a/tsproject.json", `{"sources": ["test/*.ts"], "outDir": "out"}`)

	after := f.graphs(t)["/a/tsproject.json"]
	assert.Same(t, before, after)
	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/a/test/spec.ts"))
	assert.Equal(t, "", f.owner(t, "/a/src/main.ts"))
}

func TestRegistry_InvalidUpdateKeepsGraph(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json": configA,
		"/a/src/main.ts":    "",
	})
	before := f.graphs(t)["/a/tsproject.json"]

	f.fs.WriteFile("/a/tsproject.json", `{not json`)

	after := f.graphs(t)["/a/tsproject.json"]
	assert.Same(t, before, after)
	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/a/src/main.ts"))

	diags, err := f.registry.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, diags, "/a/tsproject.json")

	// A later valid update clears the diagnostic.
	f.fs.WriteFile("/a/tsproject.json", configA)
	f.wait(t)
	diags, err = f.registry.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestRegistry_UpdateCreatesMissingGraph(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json": `{"sources": ["src/*.ts"]}`,
		"/a/src/main.ts":    "",
	})
	assert.Empty(t, f.graphs(t))

	f.fs.WriteFile("/a/tsproject.json", configA)
	assert.Contains(t, f.graphs(t), "/a/tsproject.json")
}

func TestRegistry_ConfigAddAndDelete(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{"/a/src/main.ts": ""})
	assert.Empty(t, f.graphs(t))

	f.fs.WriteFile("/a/tsproject.json", configA)
	graphs := f.graphs(t)
	require.Contains(t, graphs, "/a/tsproject.json")
	g := graphs["/a/tsproject.json"]
	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/a/src/main.ts"))

	f.fs.DeleteFile("/a/tsproject.json")
	assert.Empty(t, f.graphs(t))
	_, err := g.Files(context.Background())
	assert.ErrorIs(t, err, project.ErrDisposed)
	assert.True(t, f.hosts.latest().Closed())
}

func TestRegistry_AddReplacesExistingGraph(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{"/a/tsproject.json": configA})
	before := f.graphs(t)["/a/tsproject.json"]

	f.fs.Dispatch([]project.ChangeRecord{{Kind: project.ChangeAdd, Path: "/a/tsproject.json"}})

	after := f.graphs(t)["/a/tsproject.json"]
	require.NotNil(t, after)
	assert.NotEqual(t, before.ID(), after.ID())
	_, err := before.Files(context.Background())
	assert.ErrorIs(t, err, project.ErrDisposed)
}

func TestRegistry_InvalidAddKeepsGraph(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json": configA,
		"/a/src/main.ts":    "",
	})
	before := f.graphs(t)["/a/tsproject.json"]

	f.fs.Put("/a/tsproject.json", `{not json`)
	f.fs.Dispatch([]project.ChangeRecord{{Kind: project.ChangeAdd, Path: "/a/tsproject.json"}})

	after := f.graphs(t)["/a/tsproject.json"]
	assert.Same(t, before, after)
	assert.Equal(t, "/a/tsproject.json", f.owner(t, "/a/src/main.ts"))
	_, err := before.Files(context.Background())
	assert.NoError(t, err)

	diags, err := f.registry.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, diags, "/a/tsproject.json")
}

func TestRegistry_ResetRediscovers(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{"/a/tsproject.json": configA})
	before := f.graphs(t)["/a/tsproject.json"]

	f.fs.Put("/b/tsproject.json", configA)
	f.fs.Reset()

	graphs := f.graphs(t)
	assert.Equal(t, []string{"/a/tsproject.json", "/b/tsproject.json"}, graphNames(graphs))
	assert.NotEqual(t, before.ID(), graphs["/a/tsproject.json"].ID())
}

func TestRegistry_IgnoresNonConfigPaths(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{"/a/tsproject.json": configA})
	before := f.graphs(t)

	f.fs.WriteFile("/a/notes.json", configA)
	f.fs.DeleteFile("/a/notes.json")

	assert.Equal(t, graphNames(before), graphNames(f.graphs(t)))
}

func TestRegistry_Dispose(t *testing.T) {
	f := newRegistryFixture(t, map[string]string{
		"/a/tsproject.json": configA,
		"/b/tsproject.json": configA,
	})
	graphs := f.graphs(t)
	require.Len(t, graphs, 2)

	require.NoError(t, f.registry.Dispose())
	for _, g := range graphs {
		_, err := g.Files(context.Background())
		assert.ErrorIs(t, err, project.ErrDisposed)
	}

	// Changes after disposal are not observed.
	f.fs.WriteFile("/c/tsproject.json", configA)
	_, err := f.registry.Graphs(context.Background())
	assert.ErrorIs(t, err, project.ErrDisposed)
}

func TestConfigFileMatcher(t *testing.T) {
	match := project.ConfigFileMatcher("tsproject.json")
	assert.True(t, match("/a/b/tsproject.json"))
	assert.True(t, match("/a/b/../tsproject.json"))
	assert.False(t, match("/a/b/tsproject.json.bak"))
}
