package kit

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "cli", "http", "mcp", "worker"
	RequestIDKey  contextKey = "kit_request_id"
	TaskIDKey     contextKey = "kit_task_id"
	DocumentIDKey contextKey = "kit_document_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "cli"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}
func GetTaskID(ctx context.Context) string {
	v, _ := ctx.Value(TaskIDKey).(string)
	return v
}

func WithDocumentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DocumentIDKey, id)
}
func GetDocumentID(ctx context.Context) string {
	v, _ := ctx.Value(DocumentIDKey).(string)
	return v
}

// Logger returns base enriched with the correlation values carried by ctx.
// A nil base falls back to slog.Default().
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var attrs []any
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if v := GetTaskID(ctx); v != "" {
		attrs = append(attrs, "task_id", v)
	}
	if v := GetDocumentID(ctx); v != "" {
		attrs = append(attrs, "document_id", v)
	}
	if v, ok := ctx.Value(TransportKey).(string); ok {
		attrs = append(attrs, "transport", v)
	}
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}
