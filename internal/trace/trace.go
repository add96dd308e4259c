// Package trace provides lightweight request-scoped trace identifiers and a
// trace-aware slog logger for the relay HTTP surface. W3C-compatible id
// formats, no external dependencies.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
)

// Header names used for propagation.
const (
	TraceIDHeader = "X-Trace-Id"
)

type ctxKey struct{}

// Context holds trace identifiers for one request.
type Context struct {
	TraceID string
	SpanID  string
}

// New creates a trace context with fresh ids.
func New() Context {
	return Context{TraceID: newID(16), SpanID: newID(8)}
}

func newID(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext extracts the trace context, if any.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects a trace context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns the existing trace context or creates one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// Logger returns a slog.Logger carrying the trace ids from ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With("trace_id", tc.TraceID, "span_id", tc.SpanID)
}

// Middleware attaches a trace context to every request, honoring an inbound
// trace id header when present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := New()
		if id := r.Header.Get(TraceIDHeader); id != "" {
			tc.TraceID = id
		}
		w.Header().Set(TraceIDHeader, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
