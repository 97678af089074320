package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// recoverer turns a handler panic into a 500 internal error.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.ErrorContext(r.Context(), "gateway handler panicked", "panic", rec, "path", r.URL.EscapedPath())
			writeGatewayError(r.Context(), w, http.StatusInternalServerError, CodeInternal, "internal error")
		}()

		next.ServeHTTP(w, r)
	})
}

// accessLog logs gateway requests tagged with the session status at the time
// the response was written. Successful metric scrapes are not logged.
func accessLog(logger *slog.Logger, sessions Sessions) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		Skip: func(req *http.Request, respStatus int) bool {
			return req.URL.Path == "/metrics" && respStatus == http.StatusOK
		},

		// Forwarded bodies carry user notes and headers may carry cookies; log neither
		LogRequestHeaders:  []string{"Content-Type"},
		LogResponseHeaders: []string{},

		LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
			return []slog.Attr{slog.String("session.status", sessions.State().Status.String())}
		},
	})
}

// chain wraps h so the first middleware runs outermost.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
