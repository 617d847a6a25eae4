// Package client is the HTTP client the traces CLI uses to talk to a running
// tracesd daemon. It speaks the JSON API defined in internal/api and turns
// error responses into *APIError values carrying the HTTP status.
package client
