package cache

import (
	"image"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// Store is the bounded symbol image cache.
// All methods are safe for concurrent use and none of them blocks on
// image generation: generation always happens outside the store's locks.
type Store interface {
	// Get returns the entry for k. It never blocks on generation.
	// On a miss it inserts a Placeholder entry, returns it, and calls
	// Options.Schedule exactly once for that entry (until it is removed).
	// On a hit the entry is promoted to most recently used.
	Get(k symbol.Key) Entry

	// Peek returns the entry for k without promotion or side effects.
	Peek(k symbol.Key) (Entry, bool)

	// Put inserts or overwrites k as Ready under the owner's current epoch.
	Put(k symbol.Key, img image.Image)

	// Complete stores a generation result produced under epoch.
	// It returns false (and stores nothing) if the owner's epoch has
	// advanced past epoch since the work was submitted.
	Complete(k symbol.Key, img image.Image, epoch uint64) bool

	// Fail marks a Placeholder/Pending entry as Failed, with the same
	// epoch rule as Complete.
	Fail(k symbol.Key, err error, epoch uint64) bool

	// MarkPending moves a Placeholder entry stamped with epoch to Pending.
	// It returns false if the entry is gone, already past Placeholder, or
	// belongs to an older epoch.
	MarkPending(k symbol.Key, epoch uint64) bool

	// Invalidate removes every entry of owner and advances its epoch so
	// in-flight results for it are discarded. It returns the number of
	// removed entries.
	Invalidate(owner symbol.OwnerID) int

	// InvalidateAll clears the cache and advances every known epoch.
	InvalidateAll() int

	// Forget invalidates owner and drops its epoch record (owner removed).
	Forget(owner symbol.OwnerID) int

	// Epoch returns the owner's current generation epoch.
	Epoch(owner symbol.OwnerID) uint64

	// Advance bumps the owner's epoch without touching its entries.
	Advance(owner symbol.OwnerID) uint64

	// Sweep drops entries unused for longer than Options.MaxAge.
	Sweep() int

	// Len returns the number of resident entries.
	Len() int

	// Stats returns counters accumulated since construction.
	Stats() Stats

	// Close stops the sweeper and marks the store closed. After Close,
	// Get serves placeholders without scheduling and writes are ignored.
	Close() error
}

// Stats is a point-in-time copy of the store counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
	Entries       int
	Bytes         int64
}
