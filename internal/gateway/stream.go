// ABOUTME: Server-sent event stream of live session lifecycle events for operators
// ABOUTME: Relays the feed broadcaster to GET /admin/events/stream

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/feed"
)

// streamKeepalive is how often an idle stream sends a comment line.
const streamKeepalive = 15 * time.Second

// handleEventStream handles GET /admin/events/stream.
// ?wallet= narrows the stream to one wallet; without it every event is sent.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		wallet = feed.AllWallets
	}
	events, _ := g.feed.Subscribe(r.Context(), wallet)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "ready", map[string]string{"wallet": wallet})
	flusher.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				// Feed closed: the gateway is shutting down.
				return
			}
			g.writeSSEEvent(w, string(e.Kind), toEventResponse(e))
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
