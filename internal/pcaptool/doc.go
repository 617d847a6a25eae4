// Package pcaptool implements the capture tooling used by the trace store:
// the Normalizer rewrites addresses and shifts timestamps, the Analyzer
// summarizes a capture, and the Merger combines captures in time order.
//
// Inputs may be libpcap or pcapng files; outputs are always libpcap with
// nanosecond timestamps.
package pcaptool
