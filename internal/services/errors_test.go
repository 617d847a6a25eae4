package services_test

import (
	"errors"
	"strings"
	"testing"

	"traceapi/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrMerge, "generation", "mix", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMerge) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generation", "mix", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestMarkerClassification(t *testing.T) {
	notFound := services.Wrap(services.ErrNotFound, "mix", "get", "mix 4", nil)
	if marker := services.Marker(notFound); marker != services.ErrNotFound {
		t.Fatalf("expected not found marker, got %v", marker)
	}
	conflict := services.Wrap(services.ErrConflict, "annotated", "delete", "referenced", nil)
	if marker := services.Marker(conflict); marker != services.ErrConflict {
		t.Fatalf("expected conflict marker, got %v", marker)
	}
	if marker := services.Marker(errors.New("plain")); marker != services.ErrTransient {
		t.Fatalf("expected transient for untagged error, got %v", marker)
	}
}
