// Package watch turns filesystem notifications into batched project change records.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/tsproject/project"
	"github.com/c360studio/tsproject/vfs"
)

// DefaultDebounce is how long changes accumulate before a batch is dispatched.
const DefaultDebounce = 100 * time.Millisecond

// Config configures the watcher.
type Config struct {
	// FS supplies the root directory and the exclusion rules.
	FS *vfs.OSFS

	// DebounceDelay is how long to wait for more changes before dispatching.
	DebounceDelay time.Duration

	Logger *slog.Logger
}

// Watcher watches a directory tree and dispatches change batches to subscribers.
// A batch holds at most one record per path, sorted by path.
type Watcher struct {
	project.Broadcaster

	config  Config
	root    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// Debouncing: collect changes before dispatching
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op // path → accumulated operations

	done chan struct{}
}

// New creates a watcher. Call Start to begin watching.
func New(config Config) (*Watcher, error) {
	if config.FS == nil {
		return nil, errors.New("watch: FS is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = DefaultDebounce
	}

	return &Watcher{
		config:  config,
		root:    filepath.FromSlash(config.FS.Root()),
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]fsnotify.Op),
		done:    make(chan struct{}),
	}, nil
}

// Start adds watches for the whole tree and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.root, false); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		"root", w.root,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop stops the watcher and waits for event processing to end.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

// addWatchesRecursive watches every directory under root. With queueFiles set, files
// found along the way are queued as created; they may predate the watch.
func (w *Watcher) addWatchesRecursive(root string, queueFiles bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}

		if !d.IsDir() {
			if queueFiles && !w.config.FS.Excluded(path) {
				w.queue(path, fsnotify.Create)
			}
			return nil
		}

		if path != w.root && w.config.FS.ExcludedDir(path) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("Watcher event queue overflowed, resetting")
				w.reset()
				continue
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent processes a single fsnotify event.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !w.config.FS.ExcludedDir(path) {
				if err := w.addWatchesRecursive(path, true); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}
	if w.config.FS.Excluded(path) {
		return
	}

	w.queue(path, event.Op)
	w.logger.Debug("File change detected",
		"path", path,
		"op", event.Op.String())
}

func (w *Watcher) queue(path string, op fsnotify.Op) {
	w.pendingMu.Lock()
	w.pending[path] |= op
	w.pendingMu.Unlock()
}

// reset drops accumulated changes and tells subscribers to rebuild from scratch.
func (w *Watcher) reset() {
	w.pendingMu.Lock()
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	w.Dispatch([]project.ChangeRecord{{Kind: project.ChangeReset}})
}

// flushPending dispatches accumulated changes as one batch. The kind of each record is
// decided by whether the file exists now.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	paths := make([]string, 0, len(toProcess))
	for p := range toProcess {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	records := make([]project.ChangeRecord, 0, len(paths))
	for _, p := range paths {
		op := toProcess[p]
		rec := project.ChangeRecord{Path: filepath.ToSlash(p)}

		info, err := os.Stat(p)
		switch {
		case err != nil:
			rec.Kind = project.ChangeDelete
		case info.IsDir():
			continue
		case op.Has(fsnotify.Create):
			rec.Kind = project.ChangeAdd
		default:
			rec.Kind = project.ChangeUpdate
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		w.logger.Debug("Dispatching change batch", "records", len(records))
		w.Dispatch(records)
	}
}
