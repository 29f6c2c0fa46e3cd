// Package vfs provides the file reader, lister and change source a project graph runs on,
// backed either by the operating system or by memory.
package vfs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludeDirs are directory names never descended into.
var DefaultExcludeDirs = []string{".git", "node_modules"}

// OSFS reads and lists files under a root directory. Paths are absolute and slash-separated.
type OSFS struct {
	root        string
	excludeDirs map[string]bool
	exclude     []string
	logger      *slog.Logger
}

// OSOption configures an OSFS.
type OSOption func(*OSFS)

// WithExcludeDirs replaces DefaultExcludeDirs.
func WithExcludeDirs(names ...string) OSOption {
	return func(o *OSFS) {
		o.excludeDirs = make(map[string]bool, len(names))
		for _, n := range names {
			o.excludeDirs[n] = true
		}
	}
}

// WithExcludePatterns skips paths matching any doublestar pattern, relative to the root.
func WithExcludePatterns(patterns ...string) OSOption {
	return func(o *OSFS) { o.exclude = append(o.exclude, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OSOption {
	return func(o *OSFS) { o.logger = l }
}

// NewOSFS creates an OSFS rooted at root.
func NewOSFS(root string, opts ...OSOption) *OSFS {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	o := &OSFS{root: abs, logger: slog.Default()}
	WithExcludeDirs(DefaultExcludeDirs...)(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Root returns the absolute root directory.
func (o *OSFS) Root() string {
	return filepath.ToSlash(o.root)
}

// ListFiles walks the root and returns every regular file not excluded, sorted.
func (o *OSFS) ListFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(o.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			o.logger.Debug("Skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() && p != o.root {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if p != o.root && o.ExcludedDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !o.Excluded(p) {
			files = append(files, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile returns the content of path. ok is false when the file cannot be read.
func (o *OSFS) ReadFile(ctx context.Context, path string) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	data, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		o.logger.Debug("Read failed", "path", path, "error", err)
		return "", false
	}
	return string(data), true
}

// ExcludedDir reports whether the directory at p is skipped.
func (o *OSFS) ExcludedDir(p string) bool {
	return o.excludeDirs[filepath.Base(p)] || o.Excluded(p)
}

// Excluded reports whether p matches an exclude pattern.
func (o *OSFS) Excluded(p string) bool {
	if len(o.exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(o.root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range o.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
