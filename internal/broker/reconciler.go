// ABOUTME: Background retry of external stops that failed after local cleanup
// ABOUTME: Walks the journal's pending stops on an interval until the provisioner confirms each

package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/feed"
	"github.com/romulus-ai/romulus-gateway/internal/metrics"
	"github.com/romulus-ai/romulus-gateway/internal/provisioner"
	"github.com/romulus-ai/romulus-gateway/internal/store"
)

// DefaultReconcileInterval is used when no interval is configured.
const DefaultReconcileInterval = time.Minute

// Reconciler retries pending external stops.
type Reconciler struct {
	journal  store.Journal
	prov     provisioner.Provisioner
	interval time.Duration
	metrics  *metrics.Metrics
	feed     *feed.Broadcaster
	logger   *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// ReconcileFeed publishes reconciled events to f.
func ReconcileFeed(f *feed.Broadcaster) ReconcilerOption {
	return func(r *Reconciler) { r.feed = f }
}

// NewReconciler creates a reconciler. A non-positive interval means
// DefaultReconcileInterval.
func NewReconciler(journal store.Journal, prov provisioner.Provisioner, interval time.Duration, m *metrics.Metrics, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		journal:  journal,
		prov:     prov,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("reconcile pass failed", "error", err)
			}
		}
	}
}

// ReconcileOnce retries every pending stop once and returns how many were resolved.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.journal.ListPendingStops(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}

		if err := r.prov.Stop(ctx, p.SessionID); err != nil {
			r.metrics.Reconcile(metrics.ResultError)
			r.logger.Debug("pending stop still failing",
				"session_id", p.SessionID,
				"attempts", p.Attempts+1,
				"error", err,
			)
			if rerr := r.journal.RecordStopAttempt(ctx, p.SessionID, err.Error()); rerr != nil {
				r.logger.Warn("recording stop attempt failed", "session_id", p.SessionID, "error", rerr)
			}
			continue
		}

		if err := r.journal.ResolvePendingStop(ctx, p.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("resolving pending stop failed", "session_id", p.SessionID, "error", err)
			continue
		}
		e := &store.Event{
			Kind:      store.EventReconciled,
			Wallet:    p.Wallet,
			SessionID: p.SessionID,
			Detail:    map[string]any{"attempts": p.Attempts + 1},
		}
		if err := r.journal.AppendEvent(ctx, e); err != nil {
			r.logger.Warn("journal append failed", "kind", store.EventReconciled, "error", err)
		} else if r.feed != nil {
			r.feed.Publish(*e)
		}

		r.metrics.Reconcile(metrics.ResultOK)
		r.logger.Info("pending stop reconciled", "session_id", p.SessionID, "wallet", p.Wallet)
		resolved++
	}

	r.metrics.SetPendingStops(len(pending) - resolved)
	return resolved, nil
}
