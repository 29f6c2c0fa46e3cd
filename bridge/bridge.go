// Package bridge connects an out-of-process editor to the project graphs over NATS.
//
// The editor publishes JSON messages on three subjects under a common prefix:
//
//	<prefix>.workingset  {"kind":"open"|"close","paths":[...]}
//	<prefix>.edits       {"edits":[{"path":...,"from":{"line":0,"ch":0},"to":{...},"text":...}]}
//	<prefix>.changes     {"changes":[{"kind":"add"|"update"|"delete"|"reset","path":...}]}
//
// and may request <prefix>.owner with {"path":...} to learn which project owns a file.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/tsproject/project"
	"github.com/c360studio/tsproject/workingset"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectWorkingSet = "workingset"
	SubjectEdits      = "edits"
	SubjectChanges    = "changes"
	SubjectOwner      = "owner"
)

// DefaultPrefix is used when Options.Prefix is empty.
const DefaultPrefix = "tsproject"

// ErrInvalidMessage is returned for payloads that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid bridge message")

// OwnerResolver finds the project owning a path.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, path string) (*project.Graph, bool)
}

// Options configures a Bridge.
type Options struct {
	// Prefix is the subject prefix; DefaultPrefix when empty.
	Prefix string
	// Owners answers owner requests; owner requests are not subscribed when nil.
	Owners OwnerResolver
	// RequestTimeout bounds an owner lookup.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Bridge applies editor messages to a working-set tracker and republishes file changes
// to its own subscribers. It is a project.ChangeSource.
type Bridge struct {
	project.Broadcaster

	tracker *workingset.Tracker
	opts    Options
	logger  *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// New creates a bridge feeding tracker.
func New(tracker *workingset.Tracker, opts Options) *Bridge {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		tracker: tracker,
		opts:    opts,
		logger:  logger.With("component", "bridge"),
	}
}

// SetOwners sets the resolver answering owner requests. It takes effect on the next Start.
func (b *Bridge) SetOwners(owners OwnerResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Owners = owners
}

// Subject returns the full subject for suffix.
func (b *Bridge) Subject(suffix string) string {
	return b.opts.Prefix + "." + suffix
}

// Connect dials the NATS server at url and starts the subscriptions.
func (b *Bridge) Connect(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before connect: %w", err)
	}
	conn, err := nats.Connect(url,
		nats.Name("tsproject"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	if err := b.Start(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Start subscribes on conn. The bridge takes ownership of conn and drains it on Close.
func (b *Bridge) Start(conn *nats.Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return fmt.Errorf("bridge already started")
	}

	handlers := map[string]nats.MsgHandler{
		SubjectWorkingSet: b.onMessage,
		SubjectEdits:      b.onMessage,
		SubjectChanges:    b.onMessage,
	}
	if b.opts.Owners != nil {
		handlers[SubjectOwner] = b.onOwnerRequest
	}

	for suffix, handler := range handlers {
		sub, err := conn.Subscribe(b.Subject(suffix), handler)
		if err != nil {
			b.unsubscribeLocked()
			return fmt.Errorf("subscribe to %s: %w", b.Subject(suffix), err)
		}
		b.subs = append(b.subs, sub)
	}
	b.conn = conn
	b.logger.Info("Bridge started", "prefix", b.opts.Prefix, "subscriptions", len(b.subs))
	return nil
}

// Close unsubscribes and drains the connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := b.unsubscribeLocked()
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			result = multierror.Append(result, fmt.Errorf("drain: %w", err))
		}
		b.conn = nil
	}
	return result
}

func (b *Bridge) unsubscribeLocked() error {
	var result error
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			result = multierror.Append(result, fmt.Errorf("unsubscribe %s: %w", sub.Subject, err))
		}
	}
	b.subs = nil
	return result
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	if err := b.Handle(msg.Subject, msg.Data); err != nil {
		b.logger.Warn("Dropping bridge message", "subject", msg.Subject, "error", err)
	}
}

// Handle applies one message received on subject.
func (b *Bridge) Handle(subject string, data []byte) error {
	suffix := strings.TrimPrefix(subject, b.opts.Prefix+".")
	switch suffix {
	case SubjectWorkingSet:
		change, err := DecodeWorkingSet(data)
		if err != nil {
			return err
		}
		if change.Kind == project.WorkingSetAdd {
			b.tracker.Open(change.Paths...)
		} else {
			b.tracker.Close(change.Paths...)
		}
	case SubjectEdits:
		edits, err := DecodeEdits(data)
		if err != nil {
			return err
		}
		b.tracker.Edit(edits...)
	case SubjectChanges:
		records, err := DecodeChanges(data)
		if err != nil {
			return err
		}
		b.Dispatch(records)
	default:
		return fmt.Errorf("%w: unknown subject %s", ErrInvalidMessage, subject)
	}
	return nil
}

func (b *Bridge) onOwnerRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.RequestTimeout)
	defer cancel()

	reply, err := b.ResolveOwner(ctx, msg.Data)
	if err != nil {
		b.logger.Warn("Rejecting owner request", "error", err)
	}
	data, err := json.Marshal(reply)
	if err != nil {
		b.logger.Error("Failed to marshal owner reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to respond to owner request", "error", err)
	}
}
