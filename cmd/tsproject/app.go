package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/tsproject/bridge"
	"github.com/c360studio/tsproject/config"
	"github.com/c360studio/tsproject/extract"
	"github.com/c360studio/tsproject/host"
	"github.com/c360studio/tsproject/project"
	"github.com/c360studio/tsproject/vfs"
	"github.com/c360studio/tsproject/watch"
	"github.com/c360studio/tsproject/workingset"

	// Register TypeScript and JavaScript parsers via init()
	_ "github.com/c360studio/tsproject/extract/ts"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// App wires the workspace filesystem, change sources and the project registry together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	fs       *vfs.OSFS
	tracker  *workingset.Tracker
	watcher  *watch.Watcher
	bridge   *bridge.Bridge
	registry *project.Registry
	metrics  *prometheus.Registry
}

// NewApp creates the application. live enables the filesystem watcher and the NATS bridge
// as configured; one-shot commands pass false.
func NewApp(cfg *config.Config, logger *slog.Logger, live bool) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		tracker: workingset.New(logger),
		metrics: prometheus.NewRegistry(),
	}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.fs = vfs.NewOSFS(cfg.Workspace.Root,
		vfs.WithExcludeDirs(cfg.Workspace.ExcludeDirs...),
		vfs.WithExcludePatterns(cfg.Workspace.Exclude...),
		vfs.WithLogger(logger))

	var sources []project.ChangeSource
	if live && cfg.WatchEnabled() {
		w, err := watch.New(watch.Config{
			FS:            a.fs,
			DebounceDelay: cfg.Watch.Debounce,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		a.watcher = w
		sources = append(sources, w)
	}

	parsers := extract.New(extract.WithLogger(logger))
	if err := parsers.Validate(); err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	var extractor project.ReferenceExtractor = parsers
	if cfg.Extract.CacheSize > 0 {
		cached, err := extract.NewCached(extractor, cfg.Extract.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create extraction cache: %w", err)
		}
		extractor = cached
	}

	if live && cfg.NATS.URL != "" {
		a.bridge = bridge.New(a.tracker, bridge.Options{
			Prefix: cfg.NATS.SubjectPrefix,
			Logger: logger,
		})
		sources = append(sources, a.bridge)
	}

	a.registry = project.NewRegistry(project.RegistryOptions{
		Reader:         a.fs,
		Lister:         a.fs,
		Changes:        project.MergeSources(sources...),
		WorkingSet:     a.tracker,
		Extractor:      extractor,
		NewHost:        host.Factory(logger, nil),
		IsConfigFile:   project.ConfigFileMatcher(cfg.Project.ConfigFiles...),
		DefaultLibPath: cfg.Project.DefaultLib,
		Logger:         logger,
		Metrics:        project.NewMetrics(a.metrics),
	})
	if a.bridge != nil {
		a.bridge.SetOwners(a.registry)
	}
	return a, nil
}

// Start discovers projects and waits until every graph has settled.
func (a *App) Start(ctx context.Context) error {
	if err := a.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	if err := a.registry.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait for projects: %w", err)
	}
	return nil
}

// Run starts the live components and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		group.Go(func() error {
			<-ctx.Done()
			return a.watcher.Stop()
		})
	}

	if a.bridge != nil {
		if err := a.bridge.Connect(ctx, a.cfg.NATS.URL); err != nil {
			return err
		}
		group.Go(func() error {
			<-ctx.Done()
			return a.bridge.Close()
		})
	}

	if a.cfg.Metrics.Addr != "" {
		server := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           a.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			a.logger.Info("Metrics server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

func (a *App) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	return mux
}

// Shutdown disposes every project.
func (a *App) Shutdown() error {
	var result error
	if err := a.registry.Dispose(); err != nil {
		result = multierror.Append(result, fmt.Errorf("dispose registry: %w", err))
	}
	a.logger.Info("tsproject shutdown complete")
	return result
}
