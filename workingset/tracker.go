// Package workingset tracks the documents open in the editor and forwards their edits.
package workingset

import (
	"log/slog"
	"path"
	"sort"
	"sync"

	"github.com/c360studio/tsproject/project"
)

// Tracker is an in-process working set. Notifications are delivered synchronously, in
// subscription order, on the goroutine that made the change.
type Tracker struct {
	mu     sync.Mutex
	open   map[string]bool
	nextID int

	changeSubs map[int]func(project.WorkingSetChange)
	editSubs   map[int]func([]project.EditRecord)

	logger *slog.Logger
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		open:       make(map[string]bool),
		changeSubs: make(map[int]func(project.WorkingSetChange)),
		editSubs:   make(map[int]func([]project.EditRecord)),
		logger:     logger,
	}
}

// Files returns the open documents, sorted.
func (t *Tracker) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.open))
	for p := range t.open {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsOpen reports whether p is open.
func (t *Tracker) IsOpen(p string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[path.Clean(p)]
}

// Open adds paths to the working set. Paths already open are not reported again.
func (t *Tracker) Open(paths ...string) {
	t.mu.Lock()
	var added []string
	for _, p := range paths {
		p = path.Clean(p)
		if !t.open[p] {
			t.open[p] = true
			added = append(added, p)
		}
	}
	subs := t.changeSubscribers()
	t.mu.Unlock()

	if len(added) == 0 {
		return
	}
	t.logger.Debug("Documents opened", "paths", added)
	change := project.WorkingSetChange{Kind: project.WorkingSetAdd, Paths: added}
	for _, fn := range subs {
		fn(change)
	}
}

// Close removes paths from the working set.
func (t *Tracker) Close(paths ...string) {
	t.mu.Lock()
	var removed []string
	for _, p := range paths {
		p = path.Clean(p)
		if t.open[p] {
			delete(t.open, p)
			removed = append(removed, p)
		}
	}
	subs := t.changeSubscribers()
	t.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	t.logger.Debug("Documents closed", "paths", removed)
	change := project.WorkingSetChange{Kind: project.WorkingSetRemove, Paths: removed}
	for _, fn := range subs {
		fn(change)
	}
}

// Edit forwards text deltas for open documents. Deltas for documents that are not open
// are dropped.
func (t *Tracker) Edit(records ...project.EditRecord) {
	t.mu.Lock()
	batch := make([]project.EditRecord, 0, len(records))
	for _, r := range records {
		r.Path = path.Clean(r.Path)
		if !t.open[r.Path] {
			t.logger.Debug("Dropping edit for closed document", "path", r.Path)
			continue
		}
		batch = append(batch, r)
	}
	subs := make([]func([]project.EditRecord), 0, len(t.editSubs))
	for _, id := range sortedKeys(t.editSubs) {
		subs = append(subs, t.editSubs[id])
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, fn := range subs {
		fn(batch)
	}
}

// SubscribeChanges registers fn for open/close notifications.
func (t *Tracker) SubscribeChanges(fn func(project.WorkingSetChange)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.changeSubs[id] = fn
	return t.unsubscriber(func() { delete(t.changeSubs, id) })
}

// SubscribeEdits registers fn for edit deltas.
func (t *Tracker) SubscribeEdits(fn func([]project.EditRecord)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.editSubs[id] = fn
	return t.unsubscriber(func() { delete(t.editSubs, id) })
}

func (t *Tracker) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			remove()
			t.mu.Unlock()
		})
	}
}

// changeSubscribers must be called with mu held.
func (t *Tracker) changeSubscribers() []func(project.WorkingSetChange) {
	subs := make([]func(project.WorkingSetChange), 0, len(t.changeSubs))
	for _, id := range sortedKeys(t.changeSubs) {
		subs = append(subs, t.changeSubs[id])
	}
	return subs
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
