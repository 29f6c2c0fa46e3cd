package vfs

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/c360studio/tsproject/project"
)

// MemFS is an in-memory file system. It also acts as the change source for the files it holds:
// WriteFile and DeleteFile dispatch change records to subscribers.
type MemFS struct {
	project.Broadcaster

	mu       sync.Mutex
	files    map[string]string
	phantoms map[string]bool
	reads    map[string]int
	blocks   map[string]*readBlock
}

// NewMemFS creates a MemFS holding files.
func NewMemFS(files map[string]string) *MemFS {
	m := &MemFS{
		files:    make(map[string]string, len(files)),
		phantoms: make(map[string]bool),
		reads:    make(map[string]int),
		blocks:   make(map[string]*readBlock),
	}
	for p, c := range files {
		m.files[path.Clean(p)] = c
	}
	return m
}

// Put stores content without dispatching a change.
func (m *MemFS) Put(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.files[p] = content
	delete(m.phantoms, p)
}

// Remove deletes p without dispatching a change.
func (m *MemFS) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	delete(m.files, p)
	delete(m.phantoms, p)
}

// ListOnly makes p appear in listings while every read of it fails.
func (m *MemFS) ListOnly(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	delete(m.files, p)
	m.phantoms[p] = true
}

// WriteFile stores content and dispatches ADD for a new file or UPDATE for an existing one.
func (m *MemFS) WriteFile(p, content string) {
	m.mu.Lock()
	p = path.Clean(p)
	_, existed := m.files[p]
	m.files[p] = content
	delete(m.phantoms, p)
	m.mu.Unlock()

	kind := project.ChangeAdd
	if existed {
		kind = project.ChangeUpdate
	}
	m.Dispatch([]project.ChangeRecord{{Kind: kind, Path: p}})
}

// DeleteFile removes p and dispatches DELETE.
func (m *MemFS) DeleteFile(p string) {
	m.Remove(p)
	m.Dispatch([]project.ChangeRecord{{Kind: project.ChangeDelete, Path: path.Clean(p)}})
}

// Reset dispatches RESET.
func (m *MemFS) Reset() {
	m.Dispatch([]project.ChangeRecord{{Kind: project.ChangeReset}})
}

// readBlock holds reads of one path until released.
type readBlock struct {
	ch       chan struct{}
	snapshot bool
}

// Block holds every read of p until the returned function is called. The content returned
// is the content at release time.
func (m *MemFS) Block(p string) (release func()) {
	return m.block(p, false)
}

// BlockSnapshot holds every read of p until the returned function is called. The content
// returned is the content when the read started, like a reader that opened the file before
// it was replaced.
func (m *MemFS) BlockSnapshot(p string) (release func()) {
	return m.block(p, true)
}

func (m *MemFS) block(p string, snapshot bool) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	b := &readBlock{ch: make(chan struct{}), snapshot: snapshot}
	m.blocks[p] = b

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.blocks[p] == b {
				delete(m.blocks, p)
			}
			m.mu.Unlock()
			close(b.ch)
		})
	}
}

// ReadCount returns how many times p has been read.
func (m *MemFS) ReadCount(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[path.Clean(p)]
}

// ReadFile returns the content of p.
func (m *MemFS) ReadFile(ctx context.Context, p string) (string, bool) {
	p = path.Clean(p)
	m.mu.Lock()
	m.reads[p]++
	b := m.blocks[p]
	content, ok := m.files[p]
	m.mu.Unlock()

	if b == nil {
		return content, ok
	}
	select {
	case <-b.ch:
	case <-ctx.Done():
		return "", false
	}
	if b.snapshot {
		return content, ok
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok = m.files[p]
	return content, ok
}

// ListFiles returns every stored and listed-only path, sorted.
func (m *MemFS) ListFiles(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files)+len(m.phantoms))
	for p := range m.files {
		out = append(out, p)
	}
	for p := range m.phantoms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
