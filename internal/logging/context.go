package logging

import (
	"context"
	"log/slog"

	"traceapi/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldMixID identifies the mix a log line concerns.
	FieldMixID = "mix_id"
	// FieldGenerationID identifies the generation record a log line concerns.
	FieldGenerationID = "generation_id"
	// FieldAnnotatedUnitID identifies an annotated unit.
	FieldAnnotatedUnitID = "annotated_unit_id"
	// FieldUnitID identifies a raw uploaded unit.
	FieldUnitID = "unit_id"
	// FieldEventType classifies notable events for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing next step.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.MixIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldMixID, id))
	}
	if id, ok := services.GenerationIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldGenerationID, id))
	}
	if id, ok := services.AnnotatedUnitIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldAnnotatedUnitID, id))
	}
	if id, ok := services.UnitIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldUnitID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
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
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
