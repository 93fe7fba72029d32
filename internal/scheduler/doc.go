// Package scheduler holds the small concurrency primitives shared by the
// download dispatcher and the analysis queue: a bounded active counter,
// capped exponential backoff, a priority queue that is FIFO within a priority
// and refuses duplicate IDs, and a cancellation generation whose tokens go
// stale once the generation advances.
//
// None of the types start goroutines; callers drive them under their own
// locks.
package scheduler
