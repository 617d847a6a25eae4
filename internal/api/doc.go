// Package api exposes the trace service over HTTP. It defines the wire-format
// DTOs, converts internal store models into them, validates request bodies,
// and maps service errors onto HTTP status codes.
//
// # Routes
//
// Units are uploaded raw under /unit, annotated units are created from them
// under /annotated_unit, mixes are managed under /mix, and generation of a
// mix is triggered, polled and downloaded under /mix/{id}. /api/status reports
// daemon state and /metrics serves Prometheus metrics.
//
// # Design Notes
//
// DTOs use snake_case JSON tags and the id_<entity> naming existing trace
// clients already send. Request bodies are validated with
// go-playground/validator struct tags before reaching the registries, so the
// registries only see well-formed input. Errors are classified by the
// services taxonomy: not-found markers become 404, conflicts 409, validation
// 400, capture normalization 422 and everything else 500. The body is always
// {"error": "..."}; generation download errors add state and progress.
package api
