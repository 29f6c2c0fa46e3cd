package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/tsproject/project"
)

// WorkingSetMessage opens or closes documents.
type WorkingSetMessage struct {
	Kind  string   `json:"kind"`
	Paths []string `json:"paths"`
}

// EditsMessage carries text deltas for open documents.
type EditsMessage struct {
	Edits []project.EditRecord `json:"edits"`
}

// ChangeMessage is one file change.
type ChangeMessage struct {
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
}

// ChangesMessage carries a batch of file changes.
type ChangesMessage struct {
	Changes []ChangeMessage `json:"changes"`
}

// OwnerRequest asks which project owns Path.
type OwnerRequest struct {
	Path string `json:"path"`
}

// OwnerReply answers an OwnerRequest. Project is empty when no project owns the path.
type OwnerReply struct {
	Path    string `json:"path"`
	Project string `json:"project,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecodeWorkingSet parses a working-set message.
func DecodeWorkingSet(data []byte) (project.WorkingSetChange, error) {
	var msg WorkingSetMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return project.WorkingSetChange{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	var kind project.WorkingSetChangeKind
	switch strings.ToLower(msg.Kind) {
	case "open", "add":
		kind = project.WorkingSetAdd
	case "close", "remove":
		kind = project.WorkingSetRemove
	default:
		return project.WorkingSetChange{}, fmt.Errorf("%w: working set kind %q", ErrInvalidMessage, msg.Kind)
	}
	if len(msg.Paths) == 0 {
		return project.WorkingSetChange{}, fmt.Errorf("%w: working set message without paths", ErrInvalidMessage)
	}
	return project.WorkingSetChange{Kind: kind, Paths: msg.Paths}, nil
}

// DecodeEdits parses an edits message. Every edit needs a path; edits missing an anchor are
// passed through and make the graph re-read the file.
func DecodeEdits(data []byte) ([]project.EditRecord, error) {
	var msg EditsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	for i, e := range msg.Edits {
		if e.Path == "" {
			return nil, fmt.Errorf("%w: edit %d has no path", ErrInvalidMessage, i)
		}
	}
	return msg.Edits, nil
}

// DecodeChanges parses a changes message.
func DecodeChanges(data []byte) ([]project.ChangeRecord, error) {
	var msg ChangesMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	records := make([]project.ChangeRecord, 0, len(msg.Changes))
	for i, c := range msg.Changes {
		kind, err := parseChangeKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		if kind != project.ChangeReset && c.Path == "" {
			return nil, fmt.Errorf("%w: change %d has no path", ErrInvalidMessage, i)
		}
		records = append(records, project.ChangeRecord{Kind: kind, Path: c.Path})
	}
	return records, nil
}

func parseChangeKind(s string) (project.ChangeKind, error) {
	for _, k := range []project.ChangeKind{project.ChangeAdd, project.ChangeUpdate, project.ChangeDelete, project.ChangeReset} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: change kind %q", ErrInvalidMessage, s)
}

// ResolveOwner answers an encoded OwnerRequest. The reply is always usable; err reports a
// malformed request or a failed lookup and is mirrored in the reply's Error field.
func (b *Bridge) ResolveOwner(ctx context.Context, data []byte) (OwnerReply, error) {
	var req OwnerRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Path == "" {
		if err == nil {
			err = fmt.Errorf("owner request without path")
		}
		err = fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		return OwnerReply{Error: err.Error()}, err
	}

	reply := OwnerReply{Path: req.Path}
	if b.opts.Owners == nil {
		return reply, nil
	}
	g, ok := b.opts.Owners.ResolveOwner(ctx, req.Path)
	if !ok {
		return reply, nil
	}
	kind, err := g.FileKind(ctx, req.Path)
	if err != nil {
		reply.Error = err.Error()
		return reply, err
	}
	reply.Project = g.Name()
	reply.Kind = kind.String()
	return reply, nil
}
