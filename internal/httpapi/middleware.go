// Package httpapi is the HTTP gateway: it takes the caller's principal from
// the X-Principal header as given (the header is not authenticated), mints
// or propagates a correlation/trace ID, translates HTTP requests into
// calls against the certification, subscription, budget, approval, and
// execution packages, and serializes every error as an RFC 7807
// application/problem+json document.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"govcore/internal/audit"
	"govcore/internal/problemdetail"
)

// quarantineExempt reports whether a request may proceed even while the
// audit chain refuses appends: reads of the chain itself, verification,
// and the operator acknowledgement that lifts the quarantine.
func quarantineExempt(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/v1/audit/") || r.URL.Path == "/health"
}

// TraceMiddleware mints a trace ID (via audit.NewTraceContext) when the
// caller doesn't supply one in the X-Trace-Id header, echoes it in the
// X-Trace-Id and X-Correlation-Id response headers, and stores it on the
// request context for downstream handlers and the audit middleware to pick
// up.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		var tc *audit.TraceContext
		if traceID != "" {
			tc = &audit.TraceContext{TraceID: traceID, Origin: "gateway"}
		} else {
			tc = audit.NewTraceContext("gateway", r.Header.Get("X-Principal"))
		}
		w.Header().Set("X-Trace-Id", tc.TraceID)
		w.Header().Set("X-Correlation-Id", tc.TraceID)
		ctx := audit.WithTraceContext(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuditMiddleware logs every request to the audit store with its trace ID
// before any mutation is attempted, per the gateway's requirement that a
// request is recorded even if the handler never gets to act on it.
func AuditMiddleware(store *audit.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := audit.TraceIDFromContext(r.Context())
		start := time.Now()

		if store != nil {
			evt := &audit.Event{
				EventType:   audit.EventTypeGatewayRequest,
				TraceID:     traceID,
				ActionClass: audit.ClassifyEndpoint(r.Method, r.URL.Path),
				Session:     audit.Session{UserID: r.Header.Get("X-Principal")},
				Input:       audit.Input{UserQuery: r.Method + " " + r.URL.Path},
			}
			if err := store.Record(r.Context(), evt); err != nil {
				if audit.IsQuarantined(err) {
					// A quarantined chain means no business operation that
					// depends on it may proceed; only the verify/ack surface
					// stays reachable so an operator can recover.
					if !quarantineExempt(r) {
						problemdetail.Write(w, traceID, problemdetail.Problem{
							Type:   "https://govcore.dev/problems/audit-quarantined",
							Title:  "audit chain quarantined",
							Status: http.StatusServiceUnavailable,
							Detail: err.Error(),
							Reason: problemdetail.ReasonIntegrity,
						})
						return
					}
				} else {
					slog.Error("audit middleware: failed to record request", "err", err, "trace_id", traceID)
				}
			}
		}

		next.ServeHTTP(w, r)
		slog.Info("request handled", "method", r.Method, "path", r.URL.Path, "trace_id", traceID, "duration", time.Since(start))
	})
}

// Chain composes middleware in the order given, outermost first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
