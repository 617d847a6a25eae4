package preflight

import (
	"context"

	"traceapi/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
	}
	if cfg.LockDir() != "" {
		results = append(results, CheckDirectoryAccess("Lock directory", cfg.LockDir()))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
