package generation

import (
	"fmt"

	"traceapi/internal/services"
	"traceapi/internal/store"
)

var (
	// ErrMixNotFound is returned when the mix does not exist.
	ErrMixNotFound = store.ErrMixNotFound
	// ErrNoGeneration is returned when no generation was ever requested for the mix.
	ErrNoGeneration = fmt.Errorf("no generation requested: %w", services.ErrNotFound)
	// ErrGenerationInProgress is returned when the output is not ready yet.
	ErrGenerationInProgress = fmt.Errorf("generation in progress: %w", services.ErrNotFound)
	// ErrGenerationFailed is returned when the current generation failed.
	ErrGenerationFailed = fmt.Errorf("generation failed: %w", services.ErrNotFound)
	// ErrBusy is returned when another process holds the mix's generate lock.
	ErrBusy = fmt.Errorf("generation lock held by another process: %w", services.ErrConflict)
)

const (
	reasonQueueFull   = "generation queue full"
	reasonInterrupted = "interrupted"
	reasonStale       = "heartbeat timeout"
)
