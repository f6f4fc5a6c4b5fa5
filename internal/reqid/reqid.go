// Package reqid carries the request ID through a context.
package reqid

import (
	"context"
	"log/slog"
)

// Header is the HTTP header carrying the request ID in both directions.
const Header = "X-Request-ID"

type key struct{}

// With returns a new context with the provided request ID attached.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// From extracts the request ID from the context, if present.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key{}).(string)
	return s, ok && s != ""
}

// Logger returns base annotated with the request ID from ctx, or base
// unchanged when ctx carries none.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id, ok := From(ctx); ok {
		return base.With("request_id", id)
	}
	return base
}
