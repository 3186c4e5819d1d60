// ABOUTME: Mock Journal implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Journal implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	events  []Event
	pending map[string]*PendingStop

	// AppendErr, when set, is returned by AppendEvent.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{pending: make(map[string]*PendingStop)}
}

// AppendEvent stores a copy of e.
func (m *MockStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}
	if err := prepareEvent(e); err != nil {
		return err
	}
	m.events = append(m.events, *e)
	return nil
}

// ListEvents returns matching events, newest first.
func (m *MockStore) ListEvents(_ context.Context, f EventFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(f.Limit)
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if f.Wallet != nil && e.Wallet != *f.Wallet {
			continue
		}
		if f.SessionID != nil && e.SessionID != *f.SessionID {
			continue
		}
		if f.Kind != nil && e.Kind != *f.Kind {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// AddPendingStop records or bumps a pending stop.
func (m *MockStore) AddPendingStop(_ context.Context, p *PendingStop) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.pending[p.SessionID]; ok {
		existing.Attempts++
		existing.LastError = p.LastError
		existing.UpdatedAt = now
		return nil
	}

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.Attempts <= 0 {
		cp.Attempts = 1
	}
	cp.UpdatedAt = now
	m.pending[cp.SessionID] = &cp
	return nil
}

// ListPendingStops returns all pending stops, oldest first.
func (m *MockStore) ListPendingStops(_ context.Context) ([]PendingStop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PendingStop, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RecordStopAttempt bumps the attempt count of a pending stop.
func (m *MockStore) RecordStopAttempt(_ context.Context, sessionID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[sessionID]
	if !ok {
		return ErrNotFound
	}
	p.Attempts++
	p.LastError = errMsg
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ResolvePendingStop removes a pending stop.
func (m *MockStore) ResolvePendingStop(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.pending, sessionID)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var _ Journal = (*MockStore)(nil)
