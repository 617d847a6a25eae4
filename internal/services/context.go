package services

import "context"

type contextKey string

const (
	mixIDKey           contextKey = "mix_id"
	generationIDKey    contextKey = "generation_id"
	annotatedUnitIDKey contextKey = "annotated_unit_id"
	unitIDKey          contextKey = "unit_id"
	requestIDKey       contextKey = "request_id"
)

// WithMixID annotates context with the mix identifier.
func WithMixID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, mixIDKey, id)
}

// MixIDFromContext extracts the mix identifier if present.
func MixIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, mixIDKey)
}

// WithGenerationID annotates context with the generation record identifier.
func WithGenerationID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, generationIDKey, id)
}

// GenerationIDFromContext extracts the generation identifier if present.
func GenerationIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, generationIDKey)
}

// WithAnnotatedUnitID annotates context with the annotated unit identifier.
func WithAnnotatedUnitID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, annotatedUnitIDKey, id)
}

// AnnotatedUnitIDFromContext extracts the annotated unit identifier if present.
func AnnotatedUnitIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, annotatedUnitIDKey)
}

// WithUnitID annotates context with the raw unit identifier.
func WithUnitID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, unitIDKey, id)
}

// UnitIDFromContext extracts the raw unit identifier if present.
func UnitIDFromContext(ctx context.Context) (int64, bool) {
	return int64Value(ctx, unitIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func int64Value(ctx context.Context, key contextKey) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	switch val := ctx.Value(key).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}
