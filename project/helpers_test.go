package project_test

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/tsproject/extract"
	"github.com/c360studio/tsproject/host"
	"github.com/c360studio/tsproject/project"
	"github.com/c360studio/tsproject/vfs"
	"github.com/c360studio/tsproject/workingset"
)

var requireCall = regexp.MustCompile(`require\(["']([^"']+)["']\)`)

// testParser understands reference directives and require imports, one per line.
// A line "!fail" makes the parse fail.
type testParser struct{}

func (testParser) Parse(_ context.Context, _ string, content []byte) (extract.Raw, error) {
	var raw extract.Raw
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "!fail" {
			return extract.Raw{}, errFail
		}
		if ref, ok := extract.ReferenceDirective(line); ok {
			raw.References = append(raw.References, ref)
		}
		for _, m := range requireCall.FindAllStringSubmatch(line, -1) {
			raw.Imports = append(raw.Imports, m[1])
		}
	}
	return raw, nil
}

var errFail = errors.New("forced parse failure")

func newExtractor() *extract.Extractor {
	reg := extract.NewRegistry()
	reg.Register("test", []string{".ts"}, func() extract.Parser { return testParser{} })
	return extract.New(extract.WithRegistry(reg), extract.WithFallback("test"))
}

// hosts collects every host created by a factory.
type hosts struct {
	mu  sync.Mutex
	all []*host.ScriptHost
	fn  project.HostFactory
}

func newHosts() *hosts {
	h := &hosts{}
	h.fn = host.Factory(nil, func(s *host.ScriptHost) {
		h.mu.Lock()
		h.all = append(h.all, s)
		h.mu.Unlock()
	})
	return h
}

func (h *hosts) latest() *host.ScriptHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.all) == 0 {
		return nil
	}
	return h.all[len(h.all)-1]
}

func (h *hosts) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.all)
}

type fixture struct {
	fs    *vfs.MemFS
	ws    *workingset.Tracker
	hosts *hosts
	graph *project.Graph
}

type fixtureOption func(*project.GraphOptions)

func withDefaultLib(p string) fixtureOption {
	return func(o *project.GraphOptions) { o.DefaultLibPath = p }
}

func withMetrics(m *project.Metrics) fixtureOption {
	return func(o *project.GraphOptions) { o.Metrics = m }
}

func newFixture(t *testing.T, baseDir string, sources []string, files map[string]string, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		fs:    vfs.NewMemFS(files),
		ws:    workingset.New(nil),
		hosts: newHosts(),
	}
	f.start(t, baseDir, &project.Config{Sources: sources, Module: project.ModuleNone, Target: project.TargetES5}, opts...)
	return f
}

func (f *fixture) start(t *testing.T, baseDir string, cfg *project.Config, opts ...fixtureOption) {
	t.Helper()
	o := project.GraphOptions{
		BaseDir:    baseDir,
		Config:     cfg,
		Reader:     f.fs,
		Lister:     f.fs,
		Changes:    f.fs,
		WorkingSet: f.ws,
		Extractor:  newExtractor(),
		NewHost:    f.hosts.fn,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.graph = project.NewGraph(context.Background(), o)
	t.Cleanup(func() { _ = f.graph.Dispose() })
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.graph.WaitIdle(ctx))
}

// files waits for quiescence and returns the loaded file table.
func (f *fixture) files(t *testing.T) map[string]string {
	t.Helper()
	f.wait(t)
	files, err := f.graph.Files(context.Background())
	require.NoError(t, err)
	return files
}

func (f *fixture) missing(t *testing.T) []string {
	t.Helper()
	f.wait(t)
	missing, err := f.graph.MissingFiles(context.Background())
	require.NoError(t, err)
	return missing
}

func (f *fixture) kind(t *testing.T, p string) project.FileKind {
	t.Helper()
	f.wait(t)
	kind, err := f.graph.FileKind(context.Background(), p)
	require.NoError(t, err)
	return kind
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newFixtureParts(files map[string]string) (*vfs.MemFS, *workingset.Tracker, *hosts) {
	return vfs.NewMemFS(files), workingset.New(nil), newHosts()
}
