// ABOUTME: Tests for the Journal implementations
// ABOUTME: Runs the same behavioral suite against SQLiteStore and MockStore

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func journals(t *testing.T) map[string]Journal {
	t.Helper()
	mem, err := NewSQLiteStore(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Journal{
		"sqlite file":   setupTestStore(t),
		"sqlite memory": mem,
		"mock":          NewMockStore(),
	}
}

func strPtr(s string) *string { return &s }

func TestJournal_AppendGeneratesIDAndTimestamp(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			e := &Event{Kind: EventSpawn, Wallet: "w1", SessionID: "vm-1", Tier: "basic"}
			require.NoError(t, j.AppendEvent(context.Background(), e))
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		})
	}
}

func TestJournal_RejectsUnknownKind(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			err := j.AppendEvent(context.Background(), &Event{Kind: "exploded", Wallet: "w1"})
			assert.Error(t, err)
		})
	}
}

func TestJournal_ListNewestFirstWithFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed := []Event{
				{Kind: EventSpawn, Wallet: "w1", SessionID: "vm-1", Tier: "pro"},
				{Kind: EventStop, Wallet: "w1", SessionID: "vm-1", Detail: map[string]any{"uptime_ms": float64(1500)}},
				{Kind: EventSpawnFailed, Wallet: "w2", Detail: map[string]any{"error": "boom"}},
				{Kind: EventSpawn, Wallet: "w2", SessionID: "vm-2"},
			}
			for i := range seed {
				seed[i].Timestamp = base.Add(time.Duration(i) * time.Second)
				require.NoError(t, j.AppendEvent(ctx, &seed[i]))
			}

			all, err := j.ListEvents(ctx, EventFilter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "vm-2", all[0].SessionID)
			assert.Equal(t, EventSpawn, all[3].Kind)
			assert.Equal(t, "pro", all[3].Tier)
			assert.Equal(t, float64(1500), all[2].Detail["uptime_ms"])
			assert.True(t, all[0].Timestamp.Equal(base.Add(3*time.Second)))

			byWallet, err := j.ListEvents(ctx, EventFilter{Wallet: strPtr("w2")})
			require.NoError(t, err)
			assert.Len(t, byWallet, 2)

			kind := EventStop
			stops, err := j.ListEvents(ctx, EventFilter{Kind: &kind})
			require.NoError(t, err)
			require.Len(t, stops, 1)
			assert.Equal(t, "w1", stops[0].Wallet)

			bySession, err := j.ListEvents(ctx, EventFilter{SessionID: strPtr("vm-1")})
			require.NoError(t, err)
			assert.Len(t, bySession, 2)

			since := base.Add(2 * time.Second)
			recent, err := j.ListEvents(ctx, EventFilter{Since: &since})
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			limited, err := j.ListEvents(ctx, EventFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestJournal_PendingStops(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, j.AddPendingStop(ctx, &PendingStop{SessionID: "vm-1", Wallet: "w1", LastError: "timeout"}))
			require.NoError(t, j.AddPendingStop(ctx, &PendingStop{SessionID: "vm-2", Wallet: "w2", LastError: "502"}))

			pending, err := j.ListPendingStops(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, 1, pending[0].Attempts)

			require.NoError(t, j.RecordStopAttempt(ctx, "vm-1", "still down"))
			require.NoError(t, j.AddPendingStop(ctx, &PendingStop{SessionID: "vm-1", Wallet: "w1", LastError: "again"}))

			pending, err = j.ListPendingStops(ctx)
			require.NoError(t, err)
			var vm1 PendingStop
			for _, p := range pending {
				if p.SessionID == "vm-1" {
					vm1 = p
				}
			}
			assert.Equal(t, 3, vm1.Attempts)
			assert.Equal(t, "again", vm1.LastError)

			require.NoError(t, j.ResolvePendingStop(ctx, "vm-1"))
			assert.ErrorIs(t, j.ResolvePendingStop(ctx, "vm-1"), ErrNotFound)
			assert.ErrorIs(t, j.RecordStopAttempt(ctx, "vm-1", "x"), ErrNotFound)

			pending, err = j.ListPendingStops(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "vm-2", pending[0].SessionID)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, &Event{Kind: EventSpawn, Wallet: "w1", SessionID: "vm-1"}))
	require.NoError(t, s.AddPendingStop(ctx, &PendingStop{SessionID: "vm-9", Wallet: "w1"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	events, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	pending, err := s.ListPendingStops(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMockStore_AppendErr(t *testing.T) {
	m := NewMockStore()
	m.AppendErr = errors.New("disk full")
	assert.Error(t, m.AppendEvent(context.Background(), &Event{Kind: EventSpawn, Wallet: "w"}))
}
