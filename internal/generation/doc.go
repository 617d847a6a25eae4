// Package generation runs the mix generation engine.
//
// Generate snapshots a mix's origins, records a new generation (expiring any
// previous one) and hands the snapshot to a bounded worker pool. Workers fetch
// each origin's annotated unit, normalize it with the origin's rewrite rules,
// fold it into a time-ordered merge, store the result and mark the record
// complete. Progress only moves forward; failures land in a terminal failed
// state with the progress reached so far.
//
// Generate is guarded per mix by an in-process single-flight group and a
// cross-process advisory file lock, so concurrent triggers for one mix share
// the in-flight record instead of starting duplicate work.
//
// Workers communicate with callers exclusively through committed generation
// rows; every database operation draws its own connection from the pool.
package generation
