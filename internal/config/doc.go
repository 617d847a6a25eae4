// Package config loads, normalizes, and validates traceapi configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRACEAPI_API_BIND. The Config type centralizes the storage, database,
// worker pool and logging knobs used by the daemon and CLI.
package config
