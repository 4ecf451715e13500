// Package requestctx carries per-request values (logger, trace, shopper session) through context.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	sessionKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the span a request is served under.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// SessionInfo identifies the browser session and the shopper behind a request.
type SessionInfo struct {
	SessionID string
	UserID    string
}

// Authenticated reports whether the session is bound to a backend user.
func (s SessionInfo) Authenticated() bool {
	return s.UserID != ""
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func value[T any](ctx context.Context, key any) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithLogger stores logger on ctx. A nil logger stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger when none was injected.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := value[*zap.Logger](ctx, loggerKey{}); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return value[TraceInfo](ctx, traceKey{})
}

// TraceID is the request's trace id, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

func WithSession(ctx context.Context, info SessionInfo) context.Context {
	return with(ctx, sessionKey{}, info)
}

func Session(ctx context.Context) (SessionInfo, bool) {
	return value[SessionInfo](ctx, sessionKey{})
}
