package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPieceID is the standardized structured logging key for piece identifiers.
	FieldPieceID = "piece_id"
	// FieldPieceType is the standardized structured logging key for machine/piece types.
	FieldPieceType = "piece_type"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering ("piece_started", "recovery_failed", ...).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldTopic names an event bus topic or routing key.
	FieldTopic = "topic"
)

type contextKey int

const (
	pieceKey contextKey = iota
	correlationKey
)

type pieceRef struct {
	id        string
	pieceType string
}

// WithPiece annotates ctx with the piece being handled.
func WithPiece(ctx context.Context, id, pieceType string) context.Context {
	return context.WithValue(ctx, pieceKey, pieceRef{id: id, pieceType: pieceType})
}

// WithCorrelationID annotates ctx with a request or attempt identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation identifier stored on ctx.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if ref, ok := ctx.Value(pieceKey).(pieceRef); ok {
		fields = append(fields, slog.String(FieldPieceID, ref.id))
		if ref.pieceType != "" {
			fields = append(fields, slog.String(FieldPieceType, ref.pieceType))
		}
	}
	if rid, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
