package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	// Cloud Run and GCLB set this on probe and scrape traffic.
	cloudTraceHeader = "X-Cloud-Trace-Context"
)

// RequestID tags the request log context and response with an id, reusing
// the caller's request id or trace id when present.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestID(r)
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithField(ctx, "request_id", reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" {
		return id
	}
	// Trace context is "TRACE_ID/SPAN_ID;o=OPTIONS".
	if trace := r.Header.Get(cloudTraceHeader); trace != "" {
		if id, _, _ := strings.Cut(trace, "/"); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
