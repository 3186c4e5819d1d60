// ABOUTME: Request and response shapes for broker operations
// ABOUTME: Field names follow the public JSON API of the gateway

package broker

import (
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/session"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// Agent types with a default image.
const (
	AgentChat    = "chat"
	AgentCoding  = "coding"
	AgentBrowser = "browser"
)

// SpawnBody is the caller's spawn request.
type SpawnBody struct {
	AgentType string `json:"agent_type,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// Agent is the public view of a session.
type Agent struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Wallet    string `json:"wallet"`
	Tier      string `json:"tier"`
	SpawnedAt int64  `json:"spawned_at"`
}

func agentFromSession(s session.Session) Agent {
	return Agent{
		ID:        s.ID,
		URL:       s.URL,
		Wallet:    s.Wallet,
		Tier:      s.Tier,
		SpawnedAt: s.StartedAt.UnixMilli(),
	}
}

// SpawnResult is returned by a successful spawn.
type SpawnResult struct {
	Success    bool      `json:"success"`
	Agent      Agent     `json:"agent"`
	TierConfig tier.Tier `json:"tier_config"`
}

// StopResult is returned by a stop. StopError is set when the session was
// removed locally but the provisioner could not confirm the stop.
type StopResult struct {
	Success   bool   `json:"success"`
	UptimeMS  int64  `json:"uptime_ms"`
	StopError string `json:"stop_error,omitempty"`
}

// StatusResult is returned by a status query.
type StatusResult struct {
	Agent    Agent `json:"agent"`
	UptimeMS int64 `json:"uptime_ms"`
}

// UsageStats is a wallet's lifetime accounting.
type UsageStats struct {
	TotalUptimeMS int64 `json:"total_uptime_ms"`
	Spawns        int   `json:"spawns"`
}

// ActiveAgent summarizes the live session in a usage query.
type ActiveAgent struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	UptimeMS int64  `json:"uptime_ms"`
}

// UsageResult is returned by a usage query. ActiveAgent is null when the
// wallet has no live session.
type UsageResult struct {
	Wallet      string       `json:"wallet"`
	Stats       UsageStats   `json:"stats"`
	ActiveAgent *ActiveAgent `json:"active_agent"`
}

// AgentsResult is the admin listing of live sessions.
type AgentsResult struct {
	Count  int     `json:"count"`
	Agents []Agent `json:"agents"`
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
