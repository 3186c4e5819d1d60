// ABOUTME: Session event entity store methods for the lifecycle journal
// ABOUTME: Appends spawn/stop outcomes and lists them newest first with filters

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendEvent appends a new entry to the journal.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	if err := prepareEvent(e); err != nil {
		return err
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling event detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO session_events (event_id, kind, wallet, session_id, tier, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.Wallet,
		nullString(e.SessionID),
		nullString(e.Tier),
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("appended event",
		"id", e.ID,
		"kind", e.Kind,
		"wallet", e.Wallet,
		"session_id", e.SessionID,
	)
	return nil
}

// prepareEvent validates the kind and fills in ID and Timestamp.
func prepareEvent(e *Event) error {
	if !validKind(e.Kind) {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

func validKind(k EventKind) bool {
	for _, v := range ValidEventKinds {
		if v == k {
			return true
		}
	}
	return false
}

const eventsQuery = `
	SELECT event_id, kind, wallet, session_id, tier, ts, detail_json
	FROM session_events
	WHERE (? IS NULL OR wallet = ?)
	  AND (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR kind = ?)
	  AND (? IS NULL OR ts >= ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListEvents returns events matching the filter criteria, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var kind, since *string
	if f.Kind != nil {
		k := string(*f.Kind)
		kind = &k
	}
	if f.Since != nil {
		ts := formatTime(*f.Since)
		since = &ts
	}

	rows, err := s.db.QueryContext(ctx, eventsQuery,
		f.Wallet, f.Wallet,
		f.SessionID, f.SessionID,
		kind, kind,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// scanEvent scans a row into an Event.
func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var e Event
	var kind, ts string
	var sessionID, tier, detailJSON *string

	if err := scanner.Scan(&e.ID, &kind, &e.Wallet, &sessionID, &tier, &ts, &detailJSON); err != nil {
		return e, fmt.Errorf("scanning event: %w", err)
	}

	e.Kind = EventKind(kind)
	if sessionID != nil {
		e.SessionID = *sessionID
	}
	if tier != nil {
		e.Tier = *tier
	}

	var err error
	e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// timeLayout is fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
