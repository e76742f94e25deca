// Package worker runs background symbol generation.
//
// A Pool owns a bounded set of goroutines consuming a priority queue of
// Tasks. Each Task carries a verified snapshot, never a host object, so a
// worker renders from owned data only. Results go to the cache.Store under
// the epoch captured at submission; the store rejects results whose owner
// has since been invalidated, which is the only form of cancellation.
//
// Submit never blocks. A key already queued is not queued twice; a newer
// epoch replaces the queued task in place.
package worker
