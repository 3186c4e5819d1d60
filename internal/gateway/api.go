// ABOUTME: HTTP API handlers for spawning, stopping and inspecting wallet-gated agents
// ABOUTME: Maps broker errors onto status codes and serves health, tiers, admin and metrics routes

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/auth"
	"github.com/romulus-ai/romulus-gateway/internal/broker"
	"github.com/romulus-ai/romulus-gateway/internal/session"
	"github.com/romulus-ai/romulus-gateway/internal/store"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// Client-facing error messages.
const (
	msgConflict       = "Already have active agent"
	msgNotFound       = "Agent not found or not owned"
	msgInvalidBody    = "invalid request body"
	msgForeignUsage   = "Cannot view usage of another wallet"
	msgJournalFailure = "failed to read events"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// EventResponse is one journal entry in GET /admin/events.
type EventResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Wallet    string         `json:"wallet"`
	SessionID string         `json:"session_id,omitempty"`
	Tier      string         `json:"tier,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// EventsResponse is the JSON response for GET /admin/events.
type EventsResponse struct {
	Count  int             `json:"count"`
	Events []EventResponse `json:"events"`
}

// registerHTTPRoutes mounts the gateway API on mux.
func (g *Gateway) registerHTTPRoutes(mux *http.ServeMux) {
	walletAuth := auth.WalletAuthMiddleware(g.guard)

	// A nil *JWTVerifier must stay a nil interface so admin routes remain open.
	var verifier auth.TokenVerifier
	if g.jwtVerifier != nil {
		verifier = g.jwtVerifier
	}
	adminAuth := auth.RequireAdminHTTP(verifier, g.logger.With("component", "admin"))

	usage := http.Handler(http.HandlerFunc(g.handleUsage))
	if g.config.Auth.ProtectUsage {
		usage = walletAuth(usage)
	}

	g.route(mux, http.MethodPost, "/spawn", walletAuth(http.HandlerFunc(g.handleSpawn)))
	g.route(mux, http.MethodPost, "/stop/{id}", walletAuth(http.HandlerFunc(g.handleStop)))
	g.route(mux, http.MethodGet, "/status/{id}", walletAuth(http.HandlerFunc(g.handleStatus)))
	g.route(mux, http.MethodGet, "/usage/{wallet}", usage)
	g.route(mux, http.MethodGet, "/tiers", http.HandlerFunc(g.handleTiers))
	g.route(mux, http.MethodGet, "/health", http.HandlerFunc(g.handleHealth))
	g.route(mux, http.MethodGet, "/admin/agents", adminAuth(http.HandlerFunc(g.handleAdminAgents)))
	g.route(mux, http.MethodGet, "/admin/events", adminAuth(http.HandlerFunc(g.handleAdminEvents)))
	g.route(mux, http.MethodGet, "/admin/events/stream", adminAuth(http.HandlerFunc(g.handleEventStream)))

	if g.metrics != nil {
		mux.Handle(http.MethodGet+" "+g.config.Metrics.Path, g.metrics.Handler())
	}
}

// route registers h for method and path, counted under path in metrics.
func (g *Gateway) route(mux *http.ServeMux, method, path string, h http.Handler) {
	mux.Handle(method+" "+path, g.metrics.InstrumentHandler(path, h))
}

// handleSpawn handles POST /spawn. An empty body spawns the default chat agent.
func (g *Gateway) handleSpawn(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())

	var body broker.SpawnBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	res, err := g.broker.Spawn(r.Context(), id, body)
	if err != nil {
		g.sendBrokerError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// handleStop handles POST /stop/{id}.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())

	res, err := g.broker.Stop(r.Context(), id, r.PathValue("id"))
	if err != nil {
		g.sendBrokerError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// handleStatus handles GET /status/{id}.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())

	res, err := g.broker.Status(id, r.PathValue("id"))
	if err != nil {
		g.sendBrokerError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, res)
}

// handleUsage handles GET /usage/{wallet}. When usage is protected the
// caller may only read their own wallet.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")

	if g.config.Auth.ProtectUsage {
		id := auth.MustIdentityFromContext(r.Context())
		if id.Wallet != wallet {
			g.sendJSONError(w, http.StatusForbidden, msgForeignUsage)
			return
		}
	}

	g.sendJSON(w, http.StatusOK, g.broker.Usage(wallet))
}

// handleTiers handles GET /tiers, keyed by tier name.
func (g *Gateway) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers := g.broker.Tiers()
	out := make(map[string]tier.Tier, len(tiers))
	for _, t := range tiers {
		out[t.Name] = t
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleHealth returns 200 OK with the current time if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: g.now().UnixMilli()})
}

// handleAdminAgents handles GET /admin/agents.
func (g *Gateway) handleAdminAgents(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.broker.Agents())
}

// handleAdminEvents handles GET /admin/events.
// Supports ?wallet=, ?session_id=, ?kind=, ?since= (unix millis) and ?limit=.
func (g *Gateway) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	filter, errMsg := parseEventFilter(r)
	if errMsg != "" {
		g.sendJSONError(w, http.StatusBadRequest, errMsg)
		return
	}

	events, err := g.broker.Events(r.Context(), filter)
	if err != nil {
		g.logger.Error("listing events failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, msgJournalFailure)
		return
	}

	resp := EventsResponse{Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}
	resp.Count = len(resp.Events)
	g.sendJSON(w, http.StatusOK, resp)
}

func toEventResponse(e store.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Wallet:    e.Wallet,
		SessionID: e.SessionID,
		Tier:      e.Tier,
		Detail:    e.Detail,
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

// parseEventFilter builds a journal filter from query parameters.
// Returns an error message (empty if successful).
func parseEventFilter(r *http.Request) (store.EventFilter, string) {
	q := r.URL.Query()
	var f store.EventFilter

	if v := q.Get("wallet"); v != "" {
		f.Wallet = &v
	}
	if v := q.Get("session_id"); v != "" {
		f.SessionID = &v
	}
	if v := q.Get("kind"); v != "" {
		kind := store.EventKind(v)
		if !validEventKind(kind) {
			return f, "unknown event kind"
		}
		f.Kind = &kind
	}
	if v := q.Get("since"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, "since must be unix milliseconds"
		}
		since := time.UnixMilli(ms)
		f.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, "limit must be a non-negative integer"
		}
		f.Limit = n
	}
	return f, ""
}

func validEventKind(kind store.EventKind) bool {
	for _, k := range store.ValidEventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// decodeOptionalJSON decodes the request body into v. An empty body leaves v untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// sendBrokerError maps a broker failure to its HTTP response.
func (g *Gateway) sendBrokerError(w http.ResponseWriter, err error) {
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &conflict):
		g.sendJSON(w, http.StatusConflict, map[string]string{
			"error":    msgConflict,
			"agent_id": conflict.ExistingID,
		})
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, msgNotFound)
	default:
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
