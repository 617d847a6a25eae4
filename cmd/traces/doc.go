// Command traces is the command-line client for the trace asset service. It
// runs the daemon in the foreground (serve), manages configuration, and
// drives a running daemon over its HTTP API to upload units, build mixes,
// and download generated captures.
package main
