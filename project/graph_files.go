package project

// This file holds the graph-maintenance algorithms. Every function here runs on the
// graph's actor goroutine.

// addFile loads path unless it is already loaded or being read. The pending entry is
// written before the read starts so a duplicate request observes it and does nothing.
func (g *Graph) addFile(path string) {
	if _, ok := g.files[path]; ok {
		return
	}
	e := &fileEntry{state: statePending}
	g.files[path] = e
	g.startRead(path, e)
}

// updateFile re-reads a loaded file. A read already in flight is asked to read once more
// when it completes instead of starting a second concurrent read.
func (g *Graph) updateFile(path string) {
	e, ok := g.files[path]
	if !ok {
		return
	}
	if e.reading {
		e.dirty = true
		return
	}
	g.startRead(path, e)
}

func (g *Graph) startRead(path string, e *fileEntry) {
	g.nextGen++
	gen := g.nextGen
	e.gen = gen
	e.reading = true
	e.dirty = false

	ctx := g.ctx
	g.actor.hold()
	go func() {
		defer g.actor.release()
		content, ok := g.opts.Reader.ReadFile(ctx, path)
		g.actor.post(func() { g.onRead(path, gen, content, ok) })
	}()
}

func (g *Graph) onRead(path string, gen uint64, content string, ok bool) {
	defer g.recordCounts()

	e, exists := g.files[path]
	if !exists || !e.reading || e.gen != gen {
		g.metrics.read(g.name, "stale")
		g.logger.Debug("Discarding stale read", "path", path)
		return
	}
	if e.dirty {
		g.startRead(path, e)
		return
	}
	e.reading = false

	if !ok {
		g.metrics.read(g.name, "missing")
		g.readFailed(path, e)
		g.sweepIfNeeded()
		return
	}
	g.metrics.read(g.name, "ok")

	if e.state == statePending {
		g.loaded(path, e, content)
	} else {
		g.reloaded(path, e, content)
	}
	g.sweepIfNeeded()
}

func (g *Graph) loaded(path string, e *fileEntry, content string) {
	delete(g.missing, path)
	e.state = stateLoaded
	e.content = content
	e.refs = g.references(path, content)

	g.host.AddScript(path, content)
	if _, open := g.open[path]; open {
		g.host.SetScriptOpen(path, true)
	}
	g.logger.Debug("File loaded", "path", path, "references", len(e.refs))

	for _, ref := range e.refs {
		g.addReference(path, ref)
		g.addFile(ref)
	}
}

func (g *Graph) reloaded(path string, e *fileEntry, content string) {
	oldRefs := e.refs
	newRefs := g.references(path, content)
	e.content = content
	e.refs = newRefs

	g.host.UpdateScript(path, content)
	g.logger.Debug("File updated", "path", path, "references", len(newRefs))

	old := make(map[string]bool, len(oldRefs))
	for _, ref := range oldRefs {
		old[ref] = true
	}
	current := make(map[string]bool, len(newRefs))
	for _, ref := range newRefs {
		current[ref] = true
		if !old[ref] {
			g.addReference(path, ref)
			g.addFile(ref)
		}
	}
	for _, ref := range oldRefs {
		if !current[ref] {
			g.removeReference(path, ref)
		}
	}
}

// readFailed drops an entry whose read returned nothing and records it as missing when
// something still needs it.
func (g *Graph) readFailed(path string, e *fileEntry) {
	g.logger.Debug("File unreadable", "path", path)
	if e.state == stateLoaded {
		g.removeFile(path)
	} else {
		delete(g.files, path)
	}
	if g.isRoot(path) || len(g.referrers[path]) > 0 {
		g.missing[path] = struct{}{}
	}
}

// removeFile drops path from the graph, releasing every edge it held. A path that is still
// referenced afterwards becomes missing; otherwise it is forgotten.
func (g *Graph) removeFile(path string) {
	if e, ok := g.files[path]; ok {
		delete(g.files, path)
		if e.state == stateLoaded {
			g.host.RemoveScript(path)
			for _, ref := range e.refs {
				g.removeReference(path, ref)
			}
		}
		g.logger.Debug("File removed", "path", path)
	}

	if len(g.referrers[path]) > 0 {
		g.missing[path] = struct{}{}
	} else {
		delete(g.missing, path)
	}
}

func (g *Graph) addReference(from, to string) {
	set, ok := g.referrers[to]
	if !ok {
		set = make(map[string]struct{})
		g.referrers[to] = set
	}
	set[from] = struct{}{}
}

// removeReference drops the edge from → to and releases to when nothing references it.
func (g *Graph) removeReference(from, to string) {
	set := g.referrers[to]
	delete(set, from)
	if len(set) > 0 {
		g.orphanCheck = true
		return
	}
	delete(g.referrers, to)
	if !g.isRoot(to) {
		g.removeFile(to)
	}
}

// sweepIfNeeded removes files no longer reachable from a root. Plain reference counting
// cannot release a cycle once it is detached from the sources.
func (g *Graph) sweepIfNeeded() {
	if !g.orphanCheck {
		return
	}
	g.orphanCheck = false

	reachable := make(map[string]bool, len(g.files))
	var stack []string
	for p := range g.files {
		if g.isRoot(p) {
			reachable[p] = true
			stack = append(stack, p)
		}
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := g.files[p]
		if !ok || e.state != stateLoaded {
			continue
		}
		for _, ref := range e.refs {
			if _, known := g.files[ref]; known && !reachable[ref] {
				reachable[ref] = true
				stack = append(stack, ref)
			}
		}
	}

	var detached []string
	for p := range g.files {
		if !reachable[p] {
			detached = append(detached, p)
		}
	}
	for _, p := range detached {
		g.logger.Debug("Releasing detached file", "path", p)
		g.removeFile(p)
	}
	// Edges held by detached files are gone now, so nothing they referenced is missing.
	for p := range g.missing {
		if len(g.referrers[p]) == 0 && !g.isRoot(p) {
			delete(g.missing, p)
		}
	}
	g.orphanCheck = false
}

// references extracts the outgoing edges of path. Extraction failures mean no references.
func (g *Graph) references(path, content string) []string {
	if g.opts.Extractor == nil {
		return nil
	}
	refs, err := g.opts.Extractor.Extract(path, content)
	if err != nil {
		g.metrics.extractFailure(g.name)
		g.logger.Warn("Failed to extract references", "path", path, "error", err)
		return nil
	}
	all := refs.All()
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, ref := range all {
		ref = cleanPath(ref)
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
