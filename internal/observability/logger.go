package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/llmsql/llmsql/internal/config"
)

type ctxKey string

const (
	traceIDKey      ctxKey = "trace_id"
	routeCaptureKey ctxKey = "route_capture"
)

type routeCapture struct {
	pattern string
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func contextWithRouteCapture(ctx context.Context, routed *routeCapture) context.Context {
	return context.WithValue(ctx, routeCaptureKey, routed)
}

func routeCaptureFromContext(ctx context.Context) *routeCapture {
	routed, _ := ctx.Value(routeCaptureKey).(*routeCapture)
	return routed
}
