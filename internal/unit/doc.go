// Package unit accepts raw capture uploads and turns them into annotated
// units on request.
package unit
