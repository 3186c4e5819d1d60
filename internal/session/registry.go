// ABOUTME: Registry of the single active compute session each wallet may own
// ABOUTME: Tracks cumulative uptime and spawn counts that outlive every session

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrConflict = errors.New("session already active")
	ErrNotFound = errors.New("session not found or not owned")
)

// ConflictError is returned by TryCreate when the wallet already owns a session.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.ExistingID)
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Session is one provisioned compute instance attributed to a wallet.
type Session struct {
	ID        string
	URL       string
	Wallet    string
	Tier      string
	StartedAt time.Time
}

// Usage is the lifetime accounting for one wallet.
type Usage struct {
	Wallet      string
	TotalUptime time.Duration
	SpawnCount  int
}

// ActiveView summarizes a live session for usage queries.
type ActiveView struct {
	ID     string
	URL    string
	Uptime time.Duration
}

// Factory provisions the backing resource for a new session. It runs while
// the wallet's lock is held and must honor ctx.
type Factory func(ctx context.Context) (*Session, error)

// Registry maps wallets to their active session and usage record.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	usage    map[string]*Usage

	locks  *lockArena
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions: make(map[string]*Session),
		usage:    make(map[string]*Usage),
		locks:    newLockArena(),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryCreate installs a new session for wallet unless one already exists.
// The factory is only invoked when the wallet has no session, and the session
// is only installed when the factory succeeds.
func (r *Registry) TryCreate(ctx context.Context, wallet string, factory Factory) (*Session, error) {
	unlock := r.locks.lock(wallet)
	defer unlock()

	r.mu.RLock()
	existing, ok := r.sessions[wallet]
	r.mu.RUnlock()
	if ok {
		return nil, &ConflictError{ExistingID: existing.ID}
	}

	s, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("session factory returned no session")
	}

	installed := *s
	installed.Wallet = wallet
	if installed.StartedAt.IsZero() {
		installed.StartedAt = r.now()
	}

	r.mu.Lock()
	r.sessions[wallet] = &installed
	u := r.usageLocked(wallet)
	u.SpawnCount++
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session created",
		"wallet", wallet,
		"session_id", installed.ID,
		"tier", installed.Tier,
		"active_sessions", active,
	)

	out := installed
	return &out, nil
}

// TryDestroy removes the wallet's session if its id matches, folding its
// uptime into the wallet's usage. Returns the session's uptime.
func (r *Registry) TryDestroy(wallet, id string) (time.Duration, error) {
	unlock := r.locks.lock(wallet)
	defer unlock()

	r.mu.Lock()
	s, ok := r.sessions[wallet]
	if !ok || s.ID != id {
		r.mu.Unlock()
		return 0, ErrNotFound
	}
	uptime := r.uptime(s)
	r.usageLocked(wallet).TotalUptime += uptime
	delete(r.sessions, wallet)
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session destroyed",
		"wallet", wallet,
		"session_id", id,
		"uptime", uptime,
		"active_sessions", active,
	)
	return uptime, nil
}

// Get returns the wallet's session if its id matches.
func (r *Registry) Get(wallet, id string) (*Session, time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[wallet]
	if !ok || s.ID != id {
		return nil, 0, ErrNotFound
	}
	out := *s
	return &out, r.uptime(s), nil
}

// UsageOf returns the wallet's usage record (zero if it never spawned) and a
// view of its active session, if any.
func (r *Registry) UsageOf(wallet string) (Usage, *ActiveView) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u := Usage{Wallet: wallet}
	if rec, ok := r.usage[wallet]; ok {
		u = *rec
	}

	s, ok := r.sessions[wallet]
	if !ok {
		return u, nil
	}
	return u, &ActiveView{ID: s.ID, URL: s.URL, Uptime: r.uptime(s)}
}

// List returns a snapshot of all active sessions ordered by start time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// usageLocked returns the wallet's usage record, creating it. Must be called with mu held.
func (r *Registry) usageLocked(wallet string) *Usage {
	u, ok := r.usage[wallet]
	if !ok {
		u = &Usage{Wallet: wallet}
		r.usage[wallet] = u
	}
	return u
}

func (r *Registry) uptime(s *Session) time.Duration {
	d := r.now().Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
