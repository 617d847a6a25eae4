// Package blobstore keeps immutable trace files on the local filesystem.
//
// Blobs are gzip-compressed on write and addressed by a location relative to
// the storage root. Writes land in a temp file that is renamed into place, so
// a location returned by Put always refers to a complete file.
package blobstore
