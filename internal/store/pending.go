// ABOUTME: Pending external stop records awaiting reconciliation
// ABOUTME: Tracks failed Hypercore stops, retry attempts and their resolution

package store

import (
	"context"
	"fmt"
	"time"
)

// AddPendingStop records a failed stop, or bumps the attempt count if the
// session is already pending.
func (s *SQLiteStore) AddPendingStop(ctx context.Context, p *PendingStop) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO pending_stops (session_id, wallet, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		p.SessionID,
		p.Wallet,
		p.Attempts,
		p.LastError,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting pending stop: %w", err)
	}
	return nil
}

// ListPendingStops returns all unresolved stops, oldest first.
func (s *SQLiteStore) ListPendingStops(ctx context.Context) ([]PendingStop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, wallet, attempts, last_error, created_at, updated_at
		FROM pending_stops
		ORDER BY created_at ASC, session_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending stops: %w", err)
	}
	defer rows.Close()

	var out []PendingStop
	for rows.Next() {
		var p PendingStop
		var lastError *string
		var created, updated string
		if err := rows.Scan(&p.SessionID, &p.Wallet, &p.Attempts, &lastError, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning pending stop: %w", err)
		}
		if lastError != nil {
			p.LastError = *lastError
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending stops: %w", err)
	}
	return out, nil
}

// RecordStopAttempt notes another failed retry. Returns ErrNotFound if the
// session is not pending.
func (s *SQLiteStore) RecordStopAttempt(ctx context.Context, sessionID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_stops
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE session_id = ?
	`, errMsg, formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("updating pending stop: %w", err)
	}
	return requireAffected(res)
}

// ResolvePendingStop removes the session from the pending set. Returns
// ErrNotFound if it was not pending.
func (s *SQLiteStore) ResolvePendingStop(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_stops WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting pending stop: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
