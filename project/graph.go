package project

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// FileKind classifies a path with respect to one project.
type FileKind int

// FileKindNone, FileKindSource and FileKindReference enumerate project file kinds.
const (
	FileKindNone FileKind = iota
	FileKindSource
	FileKindReference
)

func (k FileKind) String() string {
	switch k {
	case FileKindSource:
		return "SOURCE"
	case FileKindReference:
		return "REFERENCE"
	}
	return "NONE"
}

// GraphOptions configures a Graph.
type GraphOptions struct {
	// Name identifies the project in logs and metrics, usually the config file path.
	Name string

	// BaseDir is the directory source patterns are relative to.
	BaseDir string

	Config     *Config
	Reader     FileReader
	Lister     FileLister
	Changes    ChangeSource
	WorkingSet WorkingSet
	Extractor  ReferenceExtractor
	NewHost    HostFactory

	// DefaultLibPath is loaded as an extra root unless the config sets noLib.
	DefaultLibPath string

	Logger  *slog.Logger
	Metrics *Metrics
}

type fileState int

const (
	statePending fileState = iota
	stateLoaded
)

type fileEntry struct {
	state   fileState
	content string
	refs    []string

	// gen identifies the read currently in flight; completions for other gens are stale.
	gen     uint64
	reading bool

	// dirty requests one more read after the in-flight one completes.
	dirty bool
}

// Graph maintains the file-dependency graph of one project and mirrors it onto a Host.
// All state is owned by the graph's actor goroutine.
type Graph struct {
	id      string
	name    string
	baseDir string
	opts    GraphOptions
	logger  *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	actor  *actor

	config    *Config
	host      Host
	files     map[string]*fileEntry
	referrers map[string]map[string]struct{}
	missing   map[string]struct{}
	open      map[string]struct{}
	nextGen   uint64

	// orphanCheck is set when a node lost a referrer but kept others, which may leave a detached cycle.
	orphanCheck bool

	unsubscribe []func()
}

// NewGraph creates a graph, collects its files and subscribes to change and working-set events.
// Collection completes asynchronously; use WaitIdle to wait for it.
func NewGraph(ctx context.Context, opts GraphOptions) *Graph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newHost := opts.NewHost
	if newHost == nil {
		newHost = func(CompilationSettings) Host { return nopHost{} }
		opts.NewHost = newHost
	}

	gctx, cancel := context.WithCancel(ctx)
	g := &Graph{
		id:        uuid.NewString(),
		name:      opts.Name,
		baseDir:   filepath.ToSlash(filepath.Clean(opts.BaseDir)),
		opts:      opts,
		metrics:   opts.Metrics,
		ctx:       gctx,
		cancel:    cancel,
		actor:     newActor(),
		config:    opts.Config,
		files:     make(map[string]*fileEntry),
		referrers: make(map[string]map[string]struct{}),
		missing:   make(map[string]struct{}),
		open:      make(map[string]struct{}),
	}
	if g.name == "" {
		g.name = g.baseDir
	}
	g.logger = logger.With("project", g.name, "graph_id", g.id)

	g.actor.post(func() {
		if opts.WorkingSet != nil {
			for _, p := range opts.WorkingSet.Files() {
				g.open[cleanPath(p)] = struct{}{}
			}
		}
		g.host = newHost(g.config.CompilationSettings())
		g.collectFiles()
	})

	if opts.Changes != nil {
		g.unsubscribe = append(g.unsubscribe, opts.Changes.Subscribe(g.onChanges))
	}
	if opts.WorkingSet != nil {
		g.unsubscribe = append(g.unsubscribe,
			opts.WorkingSet.SubscribeChanges(g.onWorkingSetChange),
			opts.WorkingSet.SubscribeEdits(g.onEdits))
	}

	g.logger.Info("Project graph created", "base_dir", g.baseDir, "sources", opts.Config.Sources)
	return g
}

// ID returns the graph instance identifier.
func (g *Graph) ID() string { return g.id }

// Name returns the project name.
func (g *Graph) Name() string { return g.name }

// BaseDir returns the directory source patterns are relative to.
func (g *Graph) BaseDir() string { return g.baseDir }

// Config returns the current configuration.
func (g *Graph) Config(ctx context.Context) (*Config, error) {
	var cfg *Config
	err := g.actor.call(ctx, func() { cfg = g.config })
	return cfg, err
}

// Update replaces the configuration, recreates the host and recollects every file.
func (g *Graph) Update(cfg *Config) {
	g.actor.post(func() {
		g.logger.Info("Project config updated", "sources", cfg.Sources)
		g.config = cfg
		if g.host != nil {
			if err := g.host.Close(); err != nil {
				g.logger.Warn("Failed to close host", "error", err)
			}
		}
		g.host = g.opts.NewHost(cfg.CompilationSettings())
		g.collectFiles()
	})
}

// Files returns the loaded files and their content. Pending reads are never included.
func (g *Graph) Files(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := g.actor.call(ctx, func() {
		out = make(map[string]string, len(g.files))
		for p, e := range g.files {
			if e.state == stateLoaded {
				out[p] = e.content
			}
		}
	})
	return out, err
}

// MissingFiles returns the sorted set of paths that could not be read.
func (g *Graph) MissingFiles(ctx context.Context) ([]string, error) {
	var out []string
	err := g.actor.call(ctx, func() {
		out = make([]string, 0, len(g.missing))
		for p := range g.missing {
			out = append(out, p)
		}
		sort.Strings(out)
	})
	return out, err
}

// FileKind classifies path as a loaded source, a loaded reference, or not part of the project.
func (g *Graph) FileKind(ctx context.Context, path string) (FileKind, error) {
	kind := FileKindNone
	err := g.actor.call(ctx, func() { kind = g.fileKind(cleanPath(path)) })
	return kind, err
}

// Host returns the current host.
func (g *Graph) Host(ctx context.Context) (Host, error) {
	var h Host
	err := g.actor.call(ctx, func() { h = g.host })
	return h, err
}

// WaitIdle blocks until no reads or events are outstanding.
func (g *Graph) WaitIdle(ctx context.Context) error {
	return g.actor.waitIdle(ctx)
}

// Dispose unsubscribes from all sources, closes the host and stops the graph.
// Reads still in flight complete as no-ops.
func (g *Graph) Dispose() error {
	for _, u := range g.unsubscribe {
		u()
	}
	g.unsubscribe = nil

	var closeErr error
	_ = g.actor.call(context.Background(), func() {
		if g.host != nil {
			closeErr = g.host.Close()
			g.host = nopHost{}
		}
	})
	g.cancel()
	g.actor.stop()
	g.metrics.forget(g.name)

	g.logger.Info("Project graph disposed")
	return closeErr
}

func (g *Graph) fileKind(path string) FileKind {
	e, ok := g.files[path]
	if !ok || e.state != stateLoaded {
		return FileKindNone
	}
	if g.isSource(path) {
		return FileKindSource
	}
	return FileKindReference
}

func (g *Graph) isSource(path string) bool {
	return g.config.IsSource(g.baseDir, path)
}

// isRoot reports whether path is retained regardless of its reference count.
func (g *Graph) isRoot(path string) bool {
	return g.isSource(path) || (path != "" && path == g.defaultLib())
}

func (g *Graph) defaultLib() string {
	if g.config.NoLib || g.opts.DefaultLibPath == "" {
		return ""
	}
	return cleanPath(g.opts.DefaultLibPath)
}

// collectFiles clears all state and re-adds every source file.
func (g *Graph) collectFiles() {
	g.files = make(map[string]*fileEntry)
	g.referrers = make(map[string]map[string]struct{})
	g.missing = make(map[string]struct{})
	g.orphanCheck = false

	paths, err := g.opts.Lister.ListFiles(g.ctx)
	if err != nil {
		g.logger.Warn("Failed to list project files", "error", err)
	}

	sources := 0
	for _, p := range paths {
		p = cleanPath(p)
		if g.isSource(p) {
			g.addFile(p)
			sources++
		}
	}
	if lib := g.defaultLib(); lib != "" {
		g.addFile(lib)
	}

	g.logger.Debug("Collecting project files", "candidates", len(paths), "sources", sources)
	g.recordCounts()
}

func (g *Graph) recordCounts() {
	if g.metrics == nil {
		return
	}
	loaded, pending := 0, 0
	for _, e := range g.files {
		if e.state == stateLoaded {
			loaded++
		} else {
			pending++
		}
	}
	g.metrics.setFileCounts(g.name, loaded, pending, len(g.missing))
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(p))
}

// nopHost discards every call. It is used when no host factory is configured.
type nopHost struct{}

func (nopHost) AddScript(string, string) {}
func (nopHost) UpdateScript(string, string) {}
func (nopHost) RemoveScript(string) {}
func (nopHost) EditScript(string, int, int, string) error { return nil }
func (nopHost) SetScriptOpen(string, bool) {}
func (nopHost) PositionToOffset(string, int, int) (int, error) { return 0, nil }
func (nopHost) Close() error { return nil }
