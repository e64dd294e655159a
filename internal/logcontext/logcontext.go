package logcontext

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// AppendCtx returns a context carrying the given attrs in addition to any
// already present. Handlers pick them up so every log line in a request or
// polling run shares the same correlation attributes.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	existing := Attrs(parent)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(parent, ctxKey{}, merged)
}

func Attrs(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		return v
	}
	return nil
}
