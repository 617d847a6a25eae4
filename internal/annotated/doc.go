// Package annotated manages annotated units: normalized, analyzed and
// immutable captures that mixes are built from.
//
// Create normalizes a source capture into scratch space, stores the result
// in the blob store, analyzes it, and records the metadata. Delete refuses
// while any mix origin references the unit; the reference check and the row
// removal share one transaction, and the blob is released afterwards.
package annotated
