// Package dispatch carries advisory wake-up signals from the ingestion
// gateway to idle consolidation workers.
//
// Signals are lossy by contract. A dropped or duplicated signal never loses
// or duplicates work: workers also poll, and the reaper independently returns
// stale claims to pending. Implementations therefore never block Notify on a
// slow consumer.
package dispatch

import (
	"context"
	"errors"
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeAppended is emitted after an entry is durably appended.
	EventTypeAppended = "memwal.wal.appended"
)

// ErrNilEvent indicates a nil event was provided to Notify.
var ErrNilEvent = errors.New("nil dispatch event")

// Event announces new pending work for a tenant.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	Tenant        string    `json:"tenant"`
	EntryID       string    `json:"entry_id"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// NewAppended builds the event sent after an append commits.
func NewAppended(tenant, entryID string, at time.Time) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeAppended,
		Tenant:        tenant,
		EntryID:       entryID,
		EmittedAt:     at.UTC(),
	}
}

// Signal is both ends of the wake-up channel.
type Signal interface {
	// Notify sends an event without waiting for any consumer.
	Notify(ctx context.Context, event *Event) error

	// Wake delivers events to this process. A nil channel never fires.
	Wake() <-chan Event

	Close() error
}

// Offer delivers ev to ch unless the buffer is full.
func Offer(ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
