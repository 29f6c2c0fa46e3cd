package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// DefaultConfigFileNames are the base names recognised as project configuration files.
var DefaultConfigFileNames = []string{"tsproject.json", ".brackets-typescript"}

// RegistryOptions configures a Registry. The collaborators are handed to every graph.
type RegistryOptions struct {
	Reader     FileReader
	Lister     FileLister
	Changes    ChangeSource
	WorkingSet WorkingSet
	Extractor  ReferenceExtractor
	NewHost    HostFactory

	// IsConfigFile selects configuration files; nil matches DefaultConfigFileNames.
	IsConfigFile func(path string) bool

	DefaultLibPath string

	Logger  *slog.Logger
	Metrics *Metrics
}

// ConfigFileMatcher returns a predicate matching paths whose base name is in names.
func ConfigFileMatcher(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(p string) bool {
		return set[path.Base(cleanPath(p))]
	}
}

// Registry maps each project configuration file in the workspace to one live Graph.
type Registry struct {
	opts    RegistryOptions
	logger  *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	actor  *actor

	graphs      map[string]*Graph
	diagnostics map[string]error
	unsubscribe func()
}

// NewRegistry creates a registry. Call Initialize to discover projects.
func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IsConfigFile == nil {
		opts.IsConfigFile = ConfigFileMatcher(DefaultConfigFileNames...)
	}
	opts.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:        opts,
		logger:      logger,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		actor:       newActor(),
		graphs:      make(map[string]*Graph),
		diagnostics: make(map[string]error),
	}
}

// Initialize discovers every project configuration and subscribes to file changes.
func (r *Registry) Initialize(ctx context.Context) error {
	return r.actor.call(ctx, func() {
		r.createProjects()
		if r.opts.Changes != nil && r.unsubscribe == nil {
			r.unsubscribe = r.opts.Changes.Subscribe(r.onChanges)
		}
	})
}

// ResolveOwner returns the graph that owns path: a graph declaring it as a source wins over
// one that only carries it as a reference.
func (r *Registry) ResolveOwner(ctx context.Context, p string) (*Graph, bool) {
	graphs, err := r.sortedGraphs(ctx)
	if err != nil {
		return nil, false
	}

	var reference *Graph
	for _, g := range graphs {
		kind, err := g.FileKind(ctx, p)
		if err != nil {
			continue
		}
		switch kind {
		case FileKindSource:
			return g, true
		case FileKindReference:
			if reference == nil {
				reference = g
			}
		}
	}
	return reference, reference != nil
}

// Graphs returns a snapshot of the live graphs keyed by configuration path.
func (r *Registry) Graphs(ctx context.Context) (map[string]*Graph, error) {
	var out map[string]*Graph
	err := r.actor.call(ctx, func() {
		out = make(map[string]*Graph, len(r.graphs))
		for k, g := range r.graphs {
			out[k] = g
		}
	})
	return out, err
}

// Diagnostics returns the last configuration error per configuration path.
func (r *Registry) Diagnostics(ctx context.Context) (map[string]error, error) {
	var out map[string]error
	err := r.actor.call(ctx, func() {
		out = make(map[string]error, len(r.diagnostics))
		for k, e := range r.diagnostics {
			out[k] = e
		}
	})
	return out, err
}

// WaitIdle blocks until the registry and every graph are quiescent.
func (r *Registry) WaitIdle(ctx context.Context) error {
	for {
		if err := r.actor.waitIdle(ctx); err != nil {
			return err
		}
		graphs, err := r.sortedGraphs(ctx)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if err := g.WaitIdle(ctx); err != nil && !errors.Is(err, ErrDisposed) {
				return err
			}
		}
		if r.actor.idle() {
			return nil
		}
	}
}

// Dispose unsubscribes from file changes and disposes every graph.
func (r *Registry) Dispose() error {
	var result error
	err := r.actor.call(context.Background(), func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
			r.unsubscribe = nil
		}
		result = r.disposeProjects()
	})
	if err != nil && !errors.Is(err, ErrDisposed) {
		result = multierror.Append(result, err)
	}
	r.cancel()
	r.actor.stop()
	return result
}

func (r *Registry) sortedGraphs(ctx context.Context) ([]*Graph, error) {
	var out []*Graph
	err := r.actor.call(ctx, func() {
		keys := make([]string, 0, len(r.graphs))
		for k := range r.graphs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, r.graphs[k])
		}
	})
	return out, err
}

func (r *Registry) onChanges(records []ChangeRecord) {
	batch := append([]ChangeRecord(nil), records...)
	batchID := uuid.NewString()
	r.actor.post(func() {
		r.logger.Debug("Handling change batch", "batch", batchID, "records", len(batch))
		for _, rec := range batch {
			r.handleChange(rec)
		}
	})
}

func (r *Registry) handleChange(rec ChangeRecord) {
	if rec.Kind == ChangeReset {
		r.logger.Info("Change source reset, rediscovering projects")
		if err := r.disposeProjects(); err != nil {
			r.logger.Warn("Errors disposing projects", "error", err)
		}
		r.createProjects()
		return
	}

	p := cleanPath(rec.Path)
	if !r.opts.IsConfigFile(p) {
		return
	}

	switch rec.Kind {
	case ChangeDelete:
		r.disposeProject(p)
		delete(r.diagnostics, p)
	case ChangeAdd:
		cfg, err := r.retrieveConfig(p)
		if err != nil {
			r.recordConfigError(p, err)
			return
		}
		delete(r.diagnostics, p)
		r.disposeProject(p)
		r.createProjectFromConfig(p, cfg)
	case ChangeUpdate:
		cfg, err := r.retrieveConfig(p)
		if err != nil {
			r.recordConfigError(p, err)
			return
		}
		delete(r.diagnostics, p)
		if g, ok := r.graphs[p]; ok {
			g.Update(cfg)
			return
		}
		r.createProjectFromConfig(p, cfg)
	}
	r.metrics.setProjects(len(r.graphs))
}

func (r *Registry) createProjects() {
	paths, err := r.opts.Lister.ListFiles(r.ctx)
	if err != nil {
		r.logger.Warn("Failed to list workspace files", "error", err)
	}
	for _, p := range paths {
		p = cleanPath(p)
		if r.opts.IsConfigFile(p) {
			r.createProjectFromFile(p)
		}
	}
	r.metrics.setProjects(len(r.graphs))
	r.logger.Info("Projects discovered", "projects", len(r.graphs), "invalid", len(r.diagnostics))
}

func (r *Registry) createProjectFromFile(p string) {
	cfg, err := r.retrieveConfig(p)
	if err != nil {
		r.recordConfigError(p, err)
		return
	}
	delete(r.diagnostics, p)
	r.createProjectFromConfig(p, cfg)
}

func (r *Registry) createProjectFromConfig(p string, cfg *Config) {
	r.graphs[p] = NewGraph(r.ctx, GraphOptions{
		Name:           p,
		BaseDir:        path.Dir(p),
		Config:         cfg,
		Reader:         r.opts.Reader,
		Lister:         r.opts.Lister,
		Changes:        r.opts.Changes,
		WorkingSet:     r.opts.WorkingSet,
		Extractor:      r.opts.Extractor,
		NewHost:        r.opts.NewHost,
		DefaultLibPath: r.opts.DefaultLibPath,
		Logger:         r.logger,
		Metrics:        r.metrics,
	})
}

func (r *Registry) retrieveConfig(p string) (*Config, error) {
	content, ok := r.opts.Reader.ReadFile(r.ctx, p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigUnreadable, p)
	}
	cfg, err := ParseConfig([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", p, err)
	}
	return cfg, nil
}

func (r *Registry) recordConfigError(p string, err error) {
	r.diagnostics[p] = err
	r.metrics.configError()
	r.logger.Warn("Skipping invalid project config", "path", p, "error", err)
}

func (r *Registry) disposeProject(p string) {
	g, ok := r.graphs[p]
	if !ok {
		return
	}
	delete(r.graphs, p)
	if err := g.Dispose(); err != nil {
		r.logger.Warn("Failed to dispose project", "path", p, "error", err)
	}
}

func (r *Registry) disposeProjects() error {
	var result error
	for p, g := range r.graphs {
		if err := g.Dispose(); err != nil {
			result = multierror.Append(result, fmt.Errorf("dispose %s: %w", p, err))
		}
	}
	r.graphs = make(map[string]*Graph)
	r.metrics.setProjects(0)
	return result
}
