// Package legend wires the symbol cache, the generation pool, the
// stability monitor and the render pipeline into one Engine driven by
// host notifications.
//
// Flow: a host change notification hibernates the owner and invalidates
// its cache entries. Once the owner's probe succeeds (or times out) the
// Engine enumerates its symbols, captures snapshots on that goroutine and
// prefetches them through the cache, which schedules generation on the
// pool. Workers report finished keys through a bounded notification queue
// drained by the Engine's coordination goroutine, which calls
// Options.OnSymbolReady and Options.Redraw.
//
// The Host implementation is called from several goroutines (the caller of
// Track, the monitor, the painter) and must be safe for concurrent use.
// The Engine never hands a host object to a worker.
package legend
