package project

// onChanges queues a batch of file changes. Records of one batch are handled in order
// within a single actor turn.
func (g *Graph) onChanges(records []ChangeRecord) {
	batch := append([]ChangeRecord(nil), records...)
	g.actor.post(func() {
		for _, r := range batch {
			g.handleChange(r)
		}
		g.recordCounts()
	})
}

func (g *Graph) handleChange(r ChangeRecord) {
	path := cleanPath(r.Path)
	switch r.Kind {
	case ChangeReset:
		g.logger.Info("Change source reset, recollecting files")
		g.recollect()
	case ChangeAdd:
		// Known path: a loaded file replaced on disk (atomic save), or a pending read that
		// may have looked before the file existed.
		if _, ok := g.files[path]; ok {
			g.updateFile(path)
			return
		}
		_, missing := g.missing[path]
		if g.isRoot(path) || missing {
			g.addFile(path)
		}
	case ChangeDelete:
		if _, ok := g.files[path]; ok {
			g.removeFile(path)
			g.sweepIfNeeded()
		}
	case ChangeUpdate:
		if _, ok := g.files[path]; ok {
			g.updateFile(path)
		}
	}
}

// recollect rebuilds the graph, removing every script from the host first.
func (g *Graph) recollect() {
	for p, e := range g.files {
		if e.state == stateLoaded {
			g.host.RemoveScript(p)
		}
	}
	g.collectFiles()
}

func (g *Graph) onWorkingSetChange(change WorkingSetChange) {
	paths := append([]string(nil), change.Paths...)
	g.actor.post(func() {
		for _, p := range paths {
			p = cleanPath(p)
			switch change.Kind {
			case WorkingSetAdd:
				g.open[p] = struct{}{}
				if e, ok := g.files[p]; ok && e.state == stateLoaded {
					g.host.SetScriptOpen(p, true)
				}
			case WorkingSetRemove:
				delete(g.open, p)
				if e, ok := g.files[p]; ok && e.state == stateLoaded {
					g.host.SetScriptOpen(p, false)
					// Discard unsaved editor state held by the host.
					g.updateFile(p)
				}
			}
		}
		g.recordCounts()
	})
}

func (g *Graph) onEdits(records []EditRecord) {
	batch := append([]EditRecord(nil), records...)
	g.actor.post(func() {
		for _, r := range batch {
			g.applyEdit(r)
		}
	})
}

// applyEdit forwards a text delta to the host as an incremental edit. Deltas without
// well-formed anchors, and deltas the host rejects, fall back to a full re-read.
func (g *Graph) applyEdit(r EditRecord) {
	path := cleanPath(r.Path)
	e, ok := g.files[path]
	if !ok || e.state != stateLoaded {
		return
	}
	if r.From == nil || r.To == nil {
		g.updateFile(path)
		return
	}

	start, err := g.host.PositionToOffset(path, r.From.Line, r.From.Ch)
	if err != nil {
		g.hostViolation(path, "map start position", err)
		g.updateFile(path)
		return
	}
	end, err := g.host.PositionToOffset(path, r.To.Line, r.To.Ch)
	if err != nil {
		g.hostViolation(path, "map end position", err)
		g.updateFile(path)
		return
	}
	if err := g.host.EditScript(path, start, end, r.Text); err != nil {
		g.hostViolation(path, "edit script", err)
		g.updateFile(path)
	}
}

func (g *Graph) hostViolation(path, op string, err error) {
	g.metrics.hostViolation(g.name)
	g.logger.Error("Host rejected call", "op", op, "path", path, "error", err)
}
