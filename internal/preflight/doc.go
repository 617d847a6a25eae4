// Package preflight provides readiness checks for the filesystem paths and
// database the trace daemon depends on.
//
// The daemon runs RunAll before starting the generation workers and refuses
// to start when a check fails. The CLI status command reuses the individual
// checks to display path health.
package preflight
