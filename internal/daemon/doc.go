// Package daemon coordinates the long-running trace service process.
//
// It wires configuration, the SQLite store, the blob store, the registries
// and the generation orchestrator into a single lifecycle with flock-based
// locking to prevent multiple instances over the same data directory. Start
// runs the preflight checks before any worker or listener comes up, and
// Status aggregates worker pool diagnostics for the HTTP API and the CLI.
//
// Keep orchestration logic here: domain rules live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
