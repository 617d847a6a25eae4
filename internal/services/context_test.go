package services_test

import (
	"context"
	"testing"

	"traceapi/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithMixID(ctx, 42)
	ctx = services.WithGenerationID(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.MixIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected mix id: %v %v", id, ok)
	}
	if id, ok := services.GenerationIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected generation id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if _, ok := services.UnitIDFromContext(ctx); ok {
		t.Fatal("expected no unit id")
	}
}

func TestRequestIDBlankPreservesContext(t *testing.T) {
	ctx := services.WithRequestID(context.Background(), "")
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id value")
	}
}
