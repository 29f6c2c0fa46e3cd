// Package project maintains the set of files that make up each compilable project in a
// workspace and keeps an analysis host synchronized with it.
//
// A Registry discovers project configuration files and owns one Graph per configuration.
// A Graph resolves the project's source files, follows reference and import edges to pull in
// dependencies, reference-counts those dependencies, and mirrors the loaded set onto a Host.
package project

import (
	"context"
	"sort"
	"sync"
)

// ChangeKind identifies the kind of a file change record.
type ChangeKind int

// ChangeAdd, ChangeUpdate, ChangeDelete and ChangeReset enumerate file change kinds.
// ChangeReset signals that the event source's view was invalidated wholesale.
const (
	ChangeAdd ChangeKind = iota
	ChangeUpdate
	ChangeDelete
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	case ChangeReset:
		return "reset"
	}
	return "unknown"
}

// ChangeRecord describes a single change to a file on disk.
type ChangeRecord struct {
	Kind ChangeKind
	Path string
}

// WorkingSetChangeKind identifies whether files entered or left the working set.
type WorkingSetChangeKind int

// WorkingSetAdd and WorkingSetRemove enumerate working-set change kinds.
const (
	WorkingSetAdd WorkingSetChangeKind = iota
	WorkingSetRemove
)

// WorkingSetChange reports files opened or closed in the editor.
type WorkingSetChange struct {
	Kind  WorkingSetChangeKind
	Paths []string
}

// Position is a 0-based line/column location in a document.
type Position struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

// EditRecord is a text delta applied to an open document. A record without From or To
// means the document changed materially and must be re-read.
type EditRecord struct {
	Path string    `json:"path"`
	From *Position `json:"from,omitempty"`
	To   *Position `json:"to,omitempty"`
	Text string    `json:"text"`
}

// References are the absolute paths a file points to.
type References struct {
	// ReferencedPaths come from reference-path directives.
	ReferencedPaths []string
	// ImportedPaths come from module imports and already carry the source extension.
	ImportedPaths []string
}

// All returns referenced paths followed by imported paths, without duplicates.
func (r References) All() []string {
	seen := make(map[string]bool, len(r.ReferencedPaths)+len(r.ImportedPaths))
	out := make([]string, 0, len(r.ReferencedPaths)+len(r.ImportedPaths))
	for _, list := range [][]string{r.ReferencedPaths, r.ImportedPaths} {
		for _, p := range list {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// FileReader reads file content. ok is false when the file cannot be read.
type FileReader interface {
	ReadFile(ctx context.Context, path string) (content string, ok bool)
}

// FileLister enumerates every candidate path in the workspace.
type FileLister interface {
	ListFiles(ctx context.Context) ([]string, error)
}

// ChangeSource delivers batches of file change records.
type ChangeSource interface {
	Subscribe(fn func([]ChangeRecord)) (unsubscribe func())
}

// WorkingSet reports which files are open for editing and forwards their edits.
type WorkingSet interface {
	Files() []string
	SubscribeChanges(fn func(WorkingSetChange)) (unsubscribe func())
	SubscribeEdits(fn func([]EditRecord)) (unsubscribe func())
}

// ReferenceExtractor returns the files a file references or imports.
type ReferenceExtractor interface {
	Extract(path, content string) (References, error)
}

// Host is the analysis engine whose script set a Graph keeps synchronized.
type Host interface {
	AddScript(path, content string)
	UpdateScript(path, content string)
	RemoveScript(path string)
	EditScript(path string, start, end int, text string) error
	SetScriptOpen(path string, open bool)
	PositionToOffset(path string, line, column int) (int, error)
	Close() error
}

// HostFactory creates a host configured with the project's compilation settings.
type HostFactory func(settings CompilationSettings) Host

// MergeSources fans several change sources into one.
func MergeSources(sources ...ChangeSource) ChangeSource {
	return mergedSource(sources)
}

type mergedSource []ChangeSource

func (m mergedSource) Subscribe(fn func([]ChangeRecord)) func() {
	unsubs := make([]func(), 0, len(m))
	for _, s := range m {
		if s != nil {
			unsubs = append(unsubs, s.Subscribe(fn))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Broadcaster is a ChangeSource that delivers dispatched batches to every subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func([]ChangeRecord)
}

// Subscribe registers fn for every subsequent Dispatch.
func (b *Broadcaster) Subscribe(fn func([]ChangeRecord)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func([]ChangeRecord))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Dispatch delivers records to subscribers in subscription order.
func (b *Broadcaster) Dispatch(records []ChangeRecord) {
	if len(records) == 0 {
		return
	}
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]ChangeRecord), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(records)
	}
}
