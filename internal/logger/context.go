package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request- or job-scoped logging context.
//
// HTTP handlers populate RequestID/UserID/RemoteIP; background workers
// (uploader, reaper, mirror synchronizer) populate Operation and ArchiveID.
type LogContext struct {
	RequestID string    // Per-HTTP-request correlation ID
	UserID    string    // Authenticated user, when known
	ArchiveID string    // Archive the operation is scoped to
	Operation string    // Worker operation name (upload, restore, reap, mirror)
	RemoteIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for an inbound request
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// NewJobContext creates a new LogContext for a background worker pass
func NewJobContext(operation, archiveID string) *LogContext {
	return &LogContext{
		Operation: operation,
		ArchiveID: archiveID,
		StartTime: time.Now(),
	}
}

// DurationMs returns the elapsed time since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	out := *lc
	return &out
}
