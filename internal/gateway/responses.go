package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/florianilch/kokomemo/internal/apiclient"
)

// Codes of errors raised by the gateway itself. Upstream errors are relayed verbatim.
const (
	CodeSessionExpired      = "session_expired"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeBodyTooLarge        = "body_too_large"
	CodeInternal            = "internal"
)

// ErrorResponse is the body of an error raised by the gateway.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON encodes data fully before touching the response, so an encoding
// failure still yields a well-formed 500.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
		body, status = []byte(`{"error":"internal error","code":"internal"}`), http.StatusInternalServerError
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	writeRaw(w, status, "application/json", body)
}

func writeGatewayError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(ctx, w, ErrorResponse{Error: message, Code: code}, status)
}

// writeDispatchError answers a forwarded request whose dispatch failed.
//
//   - session expired: 401 session_expired (the session is already Anonymous)
//   - upstream non-2xx: relayed with its status and body
//   - client gone: nothing is written
//   - anything else: 502 upstream_unavailable
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var statusErr *apiclient.StatusError
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired):
		writeGatewayError(ctx, w, http.StatusUnauthorized, CodeSessionExpired, "session expired")
	case errors.As(err, &statusErr):
		writeRaw(w, statusErr.StatusCode, "application/json", statusErr.Body)
	case ctx.Err() != nil:
		slog.DebugContext(ctx, "client went away during forwarding", "method", r.Method)
	default:
		slog.ErrorContext(ctx, "forwarding failed", "method", r.Method, "path", r.URL.EscapedPath(), "error", err)
		writeGatewayError(ctx, w, http.StatusBadGateway, CodeUpstreamUnavailable, "upstream unavailable")
	}
}

// writeRaw relays a body verbatim.
func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
