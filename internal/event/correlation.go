package event

import (
	"context"
	"log/slog"

	"github.com/fedotovmax/payflow/pkg/logger"
)

// Correlation is the chain of ids that ties log lines and follow-up events to
// the envelope being handled.
type Correlation struct {
	TraceID       string
	EventID       string
	ParentEventID string
}

type correlationKey struct{}

// WithCorrelation returns a child context carrying c. Code that received the
// parent context keeps seeing the previous correlation, so a nested scope
// ends when the callee returns.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	ctx = context.WithValue(ctx, correlationKey{}, c)

	attrs := make([]slog.Attr, 0, 3)
	if c.TraceID != "" {
		attrs = append(attrs, slog.String(HeaderTraceID, c.TraceID))
	}
	if c.EventID != "" {
		attrs = append(attrs, slog.String(HeaderEventID, c.EventID))
	}
	if c.ParentEventID != "" {
		attrs = append(attrs, slog.String(HeaderParentEventID, c.ParentEventID))
	}

	return logger.ContextWith(ctx, attrs...)
}

func CorrelationFrom(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}
