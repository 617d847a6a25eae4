// Package textutil provides string helpers for turning user-supplied names
// into filesystem-safe tokens (blob format suffixes, download file names).
package textutil
