package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// TraceIDKey holds the request trace identifier.
	TraceIDKey contextKey = "trace_id"
	// BrowserIDKey holds the browser identifier bound to the session.
	BrowserIDKey contextKey = "browser_id"
)

// NewTraceID generates a new trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores traceID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace identifier from ctx, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithBrowserID stores browserID in ctx.
func WithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, BrowserIDKey, browserID)
}

// GetBrowserID returns the browser identifier from ctx, or "".
func GetBrowserID(ctx context.Context) string {
	if v, ok := ctx.Value(BrowserIDKey).(string); ok {
		return v
	}
	return ""
}
