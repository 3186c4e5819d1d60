// ABOUTME: Broker composes the session registry and provisioner into gateway operations
// ABOUTME: Implements spawn, stop, status, usage and listing with journaling and metrics

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/romulus-ai/romulus-gateway/internal/auth"
	"github.com/romulus-ai/romulus-gateway/internal/feed"
	"github.com/romulus-ai/romulus-gateway/internal/metrics"
	"github.com/romulus-ai/romulus-gateway/internal/provisioner"
	"github.com/romulus-ai/romulus-gateway/internal/session"
	"github.com/romulus-ai/romulus-gateway/internal/store"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// Defaults for the container the provisioner starts.
const (
	DefaultExposedPort   = "443"
	DefaultContainerPort = 8080
	DefaultImageTemplate = "ghcr.io/romulus-ai/agent-%s:latest"
)

// DefaultImages returns the stock image for each agent type.
func DefaultImages() map[string]string {
	return map[string]string{
		AgentChat:    fmt.Sprintf(DefaultImageTemplate, AgentChat),
		AgentCoding:  fmt.Sprintf(DefaultImageTemplate, AgentCoding),
		AgentBrowser: fmt.Sprintf(DefaultImageTemplate, AgentBrowser),
	}
}

// Config holds broker settings.
type Config struct {
	// Images maps agent types to images. Missing types fall back to the chat image.
	Images        map[string]string
	ExposedPort   string
	ContainerPort int
}

// Broker runs gateway operations for authenticated wallets.
type Broker struct {
	registry *session.Registry
	prov     provisioner.Provisioner
	tiers    *tier.Resolver
	journal  store.Journal
	feed     *feed.Broadcaster
	metrics  *metrics.Metrics
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithJournal records lifecycle events and failed stops in j.
func WithJournal(j store.Journal) Option {
	return func(b *Broker) { b.journal = j }
}

// WithFeed publishes lifecycle events to live subscribers of f.
func WithFeed(f *feed.Broadcaster) Option {
	return func(b *Broker) { b.feed = f }
}

// WithMetrics counts operations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// New creates a broker.
func New(registry *session.Registry, prov provisioner.Provisioner, tiers *tier.Resolver, cfg Config, logger *slog.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Images) == 0 {
		cfg.Images = DefaultImages()
	}
	if cfg.ExposedPort == "" {
		cfg.ExposedPort = DefaultExposedPort
	}
	if cfg.ContainerPort == 0 {
		cfg.ContainerPort = DefaultContainerPort
	}

	b := &Broker{
		registry: registry,
		prov:     prov,
		tiers:    tiers,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResolveImage picks the image for a spawn: explicit ref, then the agent
// type's default, then the chat default.
func (b *Broker) ResolveImage(body SpawnBody) string {
	if body.ImageRef != "" {
		return body.ImageRef
	}
	if img, ok := b.cfg.Images[body.AgentType]; ok && img != "" {
		return img
	}
	if img, ok := b.cfg.Images[AgentChat]; ok && img != "" {
		return img
	}
	return fmt.Sprintf(DefaultImageTemplate, AgentChat)
}

func (b *Broker) spawnRequest(id *auth.Identity, image string) *provisioner.SpawnRequest {
	return &provisioner.SpawnRequest{
		ImageRef: image,
		Cores:    id.Tier.Cores,
		MemoryMB: id.Tier.MemoryMB,
		Ports:    map[string]int{b.cfg.ExposedPort: b.cfg.ContainerPort},
		Env: []string{
			"WALLET=" + id.Wallet,
			"TIER=" + id.Tier.Name,
		},
	}
}

// Spawn provisions a session for the caller. Returns a *session.ConflictError
// if the wallet already has one, or the provisioner's error, in which case
// nothing is registered.
func (b *Broker) Spawn(ctx context.Context, id *auth.Identity, body SpawnBody) (*SpawnResult, error) {
	image := b.ResolveImage(body)
	req := b.spawnRequest(id, image)

	s, err := b.registry.TryCreate(ctx, id.Wallet, func(ctx context.Context) (*session.Session, error) {
		start := time.Now()
		h, err := b.prov.Spawn(ctx, req)
		b.metrics.ObserveProvisioner("spawn", time.Since(start))
		if err != nil {
			return nil, err
		}
		return &session.Session{ID: h.ID, URL: h.URL, Tier: id.Tier.Name}, nil
	})
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			b.metrics.Spawn(id.Tier.Name, metrics.ResultConflict)
			return nil, err
		}
		b.metrics.Spawn(id.Tier.Name, metrics.ResultError)
		b.logger.Error("spawn failed", "wallet", id.Wallet, "tier", id.Tier.Name, "image", image, "error", err)
		b.record(ctx, &store.Event{
			Kind:   store.EventSpawnFailed,
			Wallet: id.Wallet,
			Tier:   id.Tier.Name,
			Detail: map[string]any{"image_ref": image, "error": err.Error()},
		})
		return nil, err
	}

	b.metrics.Spawn(id.Tier.Name, metrics.ResultOK)
	b.metrics.SetActiveSessions(b.registry.Count())
	b.record(ctx, &store.Event{
		Kind:      store.EventSpawn,
		Wallet:    id.Wallet,
		SessionID: s.ID,
		Tier:      s.Tier,
		Detail:    map[string]any{"image_ref": image, "url": s.URL},
	})

	return &SpawnResult{
		Success:    true,
		Agent:      agentFromSession(*s),
		TierConfig: id.Tier,
	}, nil
}

// Stop ends the caller's session. Local state is removed before the
// provisioner is asked to stop; a failed external stop is reported in
// StopResult.StopError and queued for reconciliation.
func (b *Broker) Stop(ctx context.Context, id *auth.Identity, sessionID string) (*StopResult, error) {
	uptime, err := b.registry.TryDestroy(id.Wallet, sessionID)
	if err != nil {
		b.metrics.Stop(metrics.ResultNotFound)
		return nil, err
	}
	b.metrics.SetActiveSessions(b.registry.Count())

	result := &StopResult{Success: true, UptimeMS: millis(uptime)}

	start := time.Now()
	stopErr := b.prov.Stop(ctx, sessionID)
	b.metrics.ObserveProvisioner("stop", time.Since(start))

	if stopErr != nil {
		b.metrics.Stop(metrics.ResultError)
		b.logger.Warn("external stop failed, queued for reconciliation",
			"wallet", id.Wallet,
			"session_id", sessionID,
			"error", stopErr,
		)
		result.StopError = stopErr.Error()
		b.record(ctx, &store.Event{
			Kind:      store.EventStopFailed,
			Wallet:    id.Wallet,
			SessionID: sessionID,
			Detail:    map[string]any{"uptime_ms": result.UptimeMS, "error": stopErr.Error()},
		})
		b.queueStop(ctx, id.Wallet, sessionID, stopErr)
		return result, nil
	}

	b.metrics.Stop(metrics.ResultOK)
	b.record(ctx, &store.Event{
		Kind:      store.EventStop,
		Wallet:    id.Wallet,
		SessionID: sessionID,
		Detail:    map[string]any{"uptime_ms": result.UptimeMS},
	})
	return result, nil
}

// Status returns the caller's session with its live uptime.
func (b *Broker) Status(id *auth.Identity, sessionID string) (*StatusResult, error) {
	s, uptime, err := b.registry.Get(id.Wallet, sessionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Agent: agentFromSession(*s), UptimeMS: millis(uptime)}, nil
}

// Usage returns the wallet's lifetime accounting and live session, if any.
func (b *Broker) Usage(wallet string) *UsageResult {
	u, active := b.registry.UsageOf(wallet)
	out := &UsageResult{
		Wallet: wallet,
		Stats: UsageStats{
			TotalUptimeMS: millis(u.TotalUptime),
			Spawns:        u.SpawnCount,
		},
	}
	if active != nil {
		out.ActiveAgent = &ActiveAgent{ID: active.ID, URL: active.URL, UptimeMS: millis(active.Uptime)}
	}
	return out
}

// Tiers returns the tier table in effect, ascending.
func (b *Broker) Tiers() []tier.Tier {
	return b.tiers.Table().Tiers()
}

// Agents lists every live session.
func (b *Broker) Agents() *AgentsResult {
	list := b.registry.List()
	agents := make([]Agent, 0, len(list))
	for _, s := range list {
		agents = append(agents, agentFromSession(s))
	}
	return &AgentsResult{Count: len(agents), Agents: agents}
}

// Events returns recent journal entries, newest first.
func (b *Broker) Events(ctx context.Context, f store.EventFilter) ([]store.Event, error) {
	if b.journal == nil {
		return nil, nil
	}
	return b.journal.ListEvents(ctx, f)
}

// record appends e to the journal. Journal failures never fail the operation.
func (b *Broker) record(ctx context.Context, e *store.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if b.journal != nil {
		if err := b.journal.AppendEvent(context.WithoutCancel(ctx), e); err != nil {
			b.logger.Warn("journal append failed", "kind", e.Kind, "wallet", e.Wallet, "error", err)
		}
	}
	if b.feed != nil {
		b.feed.Publish(*e)
	}
}

func (b *Broker) queueStop(ctx context.Context, wallet, sessionID string, cause error) {
	if b.journal == nil {
		return
	}
	err := b.journal.AddPendingStop(context.WithoutCancel(ctx), &store.PendingStop{
		SessionID: sessionID,
		Wallet:    wallet,
		LastError: cause.Error(),
	})
	if err != nil {
		b.logger.Warn("recording pending stop failed", "session_id", sessionID, "error", err)
		return
	}
	if b.metrics == nil {
		return
	}
	pending, err := b.journal.ListPendingStops(context.WithoutCancel(ctx))
	if err != nil {
		b.logger.Warn("counting pending stops failed", "error", err)
		return
	}
	b.metrics.SetPendingStops(len(pending))
}
