// ABOUTME: Journal interface and data types for the session event journal
// ABOUTME: Defines Event, PendingStop and the Journal interface for persistence

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventKind names a session lifecycle event.
type EventKind string

const (
	EventSpawn       EventKind = "spawn"
	EventSpawnFailed EventKind = "spawn_failed"
	EventStop        EventKind = "stop"
	EventStopFailed  EventKind = "stop_failed"
	EventReconciled  EventKind = "reconciled"
)

// ValidEventKinds lists all valid event kinds.
var ValidEventKinds = []EventKind{
	EventSpawn,
	EventSpawnFailed,
	EventStop,
	EventStopFailed,
	EventReconciled,
}

// Event is one immutable journal entry.
type Event struct {
	ID        string         // UUID v4
	Kind      EventKind      // what happened
	Wallet    string         // owning wallet
	SessionID string         // empty for spawn failures
	Tier      string         // tier at the time of the event, if known
	Detail    map[string]any // additional context
	Timestamp time.Time
}

// EventFilter specifies filtering options for listing events.
type EventFilter struct {
	Wallet    *string
	SessionID *string
	Kind      *EventKind
	Since     *time.Time
	Limit     int // max results (default 100, max 1000)
}

// PendingStop is an external stop that failed and awaits a retry.
type PendingStop struct {
	SessionID string
	Wallet    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal records session lifecycle events and unresolved external stops.
// It is an audit trail only; the in-memory registry stays authoritative.
type Journal interface {
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)

	// AddPendingStop records a failed stop. Re-adding an existing session id
	// counts as another failed attempt.
	AddPendingStop(ctx context.Context, p *PendingStop) error
	ListPendingStops(ctx context.Context) ([]PendingStop, error)
	// RecordStopAttempt notes another failed retry for sessionID.
	RecordStopAttempt(ctx context.Context, sessionID, errMsg string) error
	// ResolvePendingStop removes sessionID from the pending set.
	ResolvePendingStop(ctx context.Context, sessionID string) error

	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
