package watch

import (
	"context"
	"time"
)

// Event is one append observed on the source collection.
type Event struct {
	// ID is the source document id, used for linking and MarkProcessed.
	ID string

	// CorrelationID is the business key (signal id / account id). Events
	// without one are skipped in the live phase.
	CorrelationID string

	// Environment tags the deployment the event belongs to.
	Environment string

	// LinkID is non-empty when a downstream record was already created for
	// this event.
	LinkID string

	// Timestamp is the source insertion timestamp.
	Timestamp time.Time

	// Document is the decoded source payload; its concrete type is owned by
	// the Source implementation.
	Document any
}

// Subscription is a live change feed positioned after a resume cursor.
type Subscription interface {
	// Next blocks for the next event and returns it together with the
	// resume token acknowledging it. The token is opaque: it is stored
	// verbatim and handed back to Subscribe, never parsed.
	Next(ctx context.Context) (Event, []byte, error)
	Close(ctx context.Context) error
}

// Source abstracts the append-only event store a Watcher consumes. One
// implementation exists per monitored stream; the watcher logic is shared.
type Source interface {
	Connect(ctx context.Context) error

	// Pending returns unprocessed records for the configured environment in
	// insertion order. Used by the catch-up phase.
	Pending(ctx context.Context) ([]Event, error)

	// MarkProcessed flags a caught-up record so it is not replayed.
	MarkProcessed(ctx context.Context, e Event) error

	// Link atomically creates the downstream record for a live event and
	// writes the back-reference on the source document (test-and-set).
	// created is false when another consumer already linked the event.
	Link(ctx context.Context, e Event) (linkID string, created bool, err error)

	// Subscribe opens a change feed; a nil token starts from now.
	Subscribe(ctx context.Context, resumeToken []byte) (Subscription, error)

	// IsCursorInvalid distinguishes the store's explicit invalid-cursor
	// error from generic connectivity failures.
	IsCursorInvalid(err error) bool
}
