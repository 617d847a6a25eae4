// Package services defines shared utilities consumed by the registries, the
// generation orchestrator and the HTTP layer.
//
// Key responsibilities:
//   - Context helpers that stamp mix, generation and unit IDs plus correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (not found, conflict, validation, ...) far from where they
//     were raised.
package services
