package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustgate/pkg/requestcontext"
)

// Ledger captures structured audit events. It is append-only and never fails
// the caller's primary operation: a failed append is logged and swallowed so
// forensics problems cannot mask the original error.
type Ledger struct {
	store  Store
	logger *slog.Logger
	inbox  chan Event
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used to report swallowed append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithAsyncBuffer makes Record enqueue events onto a buffered channel instead
// of appending inline. A Worker must drain the channel.
func WithAsyncBuffer(size int) Option {
	return func(l *Ledger) {
		l.inbox = make(chan Event, size)
	}
}

// NewLedger constructs a ledger over the given store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record persists the event, filling in id, timestamp, and request id when
// absent. It returns the event id and never propagates store failures.
func (l *Ledger) Record(ctx context.Context, event Event) string {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if l.inbox != nil {
		select {
		case l.inbox <- event:
		default:
			l.logger.Warn("audit inbox full, dropping event",
				"action", event.Action,
				"event_id", event.EventID,
			)
		}
		return event.EventID
	}

	if err := l.store.Append(ctx, event); err != nil {
		l.logger.Error("audit append failed",
			"error", err,
			"action", event.Action,
			"event_id", event.EventID,
		)
	}
	return event.EventID
}

// Query returns events matching the filter, newest first.
func (l *Ledger) Query(ctx context.Context, filter Filter, limit int) ([]Event, error) {
	return l.store.Query(ctx, filter, limit)
}

// Inbox exposes the async channel for a Worker. Nil in sync mode.
func (l *Ledger) Inbox() <-chan Event {
	return l.inbox
}

// Close drains nothing; lifecycle of the inbox is owned by the Worker's
// context. Present so callers can defer symmetric cleanup.
func (l *Ledger) Close() {
	if l.inbox != nil {
		close(l.inbox)
	}
}

// drainTimeout bounds how long a Worker spends flushing after cancellation.
const drainTimeout = 2 * time.Second
