// Package host provides an in-memory analysis host that mirrors the scripts of a project.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/c360studio/tsproject/project"
)

// Errors returned by ScriptHost.
var (
	ErrScriptNotFound  = errors.New("script not found")
	ErrScriptNotOpen   = errors.New("script not open")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidRange    = errors.New("invalid range")
)

// Op names a host call recorded in the history.
type Op string

// Host calls.
const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpEdit   Op = "edit"
	OpOpen   Op = "open"
	OpClose  Op = "close"
)

// Call is one recorded host call.
type Call struct {
	Op   Op
	Path string
}

// Script is a snapshot of one mirrored script.
type Script struct {
	Path    string
	Content string
	Version int
	Open    bool
}

// ScriptHost keeps the content, version and open state of every script a graph hands it.
// It is safe for concurrent use.
type ScriptHost struct {
	mu       sync.RWMutex
	settings project.CompilationSettings
	scripts  map[string]*Script
	history  []Call
	closed   bool
	logger   *slog.Logger
}

// New creates a host for the given settings.
func New(settings project.CompilationSettings, logger *slog.Logger) *ScriptHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptHost{
		settings: settings,
		scripts:  make(map[string]*Script),
		logger:   logger,
	}
}

// Factory returns a project.HostFactory creating ScriptHosts. Every created host is also
// passed to onCreate when it is non-nil.
func Factory(logger *slog.Logger, onCreate func(*ScriptHost)) project.HostFactory {
	return func(settings project.CompilationSettings) project.Host {
		h := New(settings, logger)
		if onCreate != nil {
			onCreate(h)
		}
		return h
	}
}

// AddScript registers a script. Adding a path twice replaces its content.
func (h *ScriptHost) AddScript(path, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(OpAdd, path)
	if s, ok := h.scripts[path]; ok {
		h.logger.Warn("Script added twice", "path", path)
		s.Content = content
		s.Version++
		return
	}
	h.scripts[path] = &Script{Path: path, Content: content, Version: 1}
}

// UpdateScript replaces the content of a script.
func (h *ScriptHost) UpdateScript(path, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(OpUpdate, path)
	s, ok := h.scripts[path]
	if !ok {
		h.logger.Warn("Update for unknown script", "path", path)
		return
	}
	s.Content = content
	s.Version++
}

// RemoveScript drops a script.
func (h *ScriptHost) RemoveScript(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(OpRemove, path)
	delete(h.scripts, path)
}

// EditScript replaces the bytes in [start, end) of an open script with text.
func (h *ScriptHost) EditScript(path string, start, end int, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(OpEdit, path)
	s, ok := h.scripts[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
	}
	if !s.Open {
		return fmt.Errorf("%w: %s", ErrScriptNotOpen, path)
	}
	if start < 0 || end < start || end > len(s.Content) {
		return fmt.Errorf("%w: [%d, %d) in %d bytes", ErrInvalidRange, start, end, len(s.Content))
	}
	s.Content = s.Content[:start] + text + s.Content[end:]
	s.Version++
	return nil
}

// SetScriptOpen marks a script open or closed.
func (h *ScriptHost) SetScriptOpen(path string, open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if open {
		h.record(OpOpen, path)
	} else {
		h.record(OpClose, path)
	}
	s, ok := h.scripts[path]
	if !ok {
		h.logger.Warn("Open state for unknown script", "path", path, "open", open)
		return
	}
	s.Open = open
}

// PositionToOffset maps a 0-based line and UTF-16 column to a byte offset in the script.
// Columns past the end of the line map to the line end.
func (h *ScriptHost) PositionToOffset(path string, line, column int) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.scripts[path]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrScriptNotFound, path)
	}
	offset, ok := offsetForPosition(s.Content, line, column)
	if !ok {
		return 0, fmt.Errorf("%w: %d:%d in %s", ErrInvalidPosition, line, column, path)
	}
	return offset, nil
}

// Close drops every script.
func (h *ScriptHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts = make(map[string]*Script)
	h.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (h *ScriptHost) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Settings returns the compilation settings the host was created with.
func (h *ScriptHost) Settings() project.CompilationSettings {
	return h.settings
}

// Scripts returns the mirrored paths, sorted.
func (h *ScriptHost) Scripts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.scripts))
	for p := range h.scripts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Script returns a snapshot of one script.
func (h *ScriptHost) Script(path string) (Script, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.scripts[path]
	if !ok {
		return Script{}, false
	}
	return *s, true
}

// History returns every call received so far, in order.
func (h *ScriptHost) History() []Call {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Call(nil), h.history...)
}

// Count returns how many calls of op were received for path.
func (h *ScriptHost) Count(op Op, path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.history {
		if c.Op == op && c.Path == path {
			n++
		}
	}
	return n
}

func (h *ScriptHost) record(op Op, path string) {
	h.history = append(h.history, Call{Op: op, Path: path})
}

// offsetForPosition walks to the requested line, then counts UTF-16 code units along it.
func offsetForPosition(text string, line, column int) (int, bool) {
	if line < 0 || column < 0 {
		return 0, false
	}
	i := 0
	for l := 0; l < line; l++ {
		for i < len(text) && text[i] != '\n' {
			i++
		}
		if i >= len(text) {
			return 0, false
		}
		i++
	}

	units := 0
	for i < len(text) && text[i] != '\n' && units < column {
		r, size := utf8.DecodeRuneInString(text[i:])
		need := 1
		if r > 0xFFFF {
			need = 2
		}
		if units+need > column {
			break
		}
		units += need
		i += size
	}
	return i, true
}
