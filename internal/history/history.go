// Package history exports lifecycle events to external analytics stores.
// Sends are best effort: a failing sink is logged by the caller and never
// blocks a lifecycle operation.
package history

import (
	"context"
	"time"

	"github.com/loykin/warden/internal/process"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart    EventType = "start"
	EventStop     EventType = "stop"
	EventDied     EventType = "died"
	EventReattach EventType = "reattach"
)

// Event is one lifecycle transition with the record it concerned.
type Event struct {
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Record     process.Record `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
