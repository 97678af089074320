package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxForwardBody caps request bodies relayed to the API.
const maxForwardBody = 4 << 20

// sessionHandler reports the current session state.
type sessionHandler struct {
	sessions Sessions
}

func (h *sessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, h.sessions.State(), http.StatusOK)
}

// eventsHandler streams session state changes, starting with the current state.
type eventsHandler struct {
	sessions  Sessions
	heartbeat time.Duration
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeGatewayError(ctx, w, http.StatusInternalServerError, CodeInternal, "event streams unsupported")
		return
	}

	updates, cancel := h.sessions.Subscribe()
	defer cancel()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "client disconnected from event stream")
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.WriteData(state); err != nil {
				slog.ErrorContext(ctx, "failed to write session event", "error", err)
				return
			}
		case <-ticker.C:
			if err := sse.WriteComment("heartbeat"); err != nil {
				slog.DebugContext(ctx, "failed to write heartbeat", "error", err)
				return
			}
		}
	}
}

// forwardHandler relays a request to the API through the dispatcher.
// Mounted behind http.StripPrefix, so the path is already API-relative.
type forwardHandler struct {
	dispatcher Dispatcher
}

func (h *forwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxForwardBody))
	if err != nil {
		writeGatewayError(ctx, w, http.StatusRequestEntityTooLarge, CodeBodyTooLarge, "request body too large")
		return
	}

	var payload any
	if len(body) > 0 {
		payload = body
	}

	// The escaped path keeps %3F and %23 inside the path segment
	target := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := h.dispatcher.Send(ctx, r.Method, target, payload)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}
