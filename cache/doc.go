// Package cache implements the symbol image store: a bounded key -> entry
// map with LRU eviction, placeholder-on-miss scheduling, per-owner epochs
// and selective or bulk invalidation.
//
// Design
//
//   - Concurrency: the store is split into shards, each protected by an
//     RWMutex, with an intrusive MRU<->LRU list. One shard is the default,
//     which keeps eviction in exact global LRU order. Owner epochs live
//     behind a separate mutex which is always taken before a shard lock.
//
//   - Entries: every key maps to an Entry in one of four states
//     (Placeholder, Pending, Ready, Failed). A miss creates a Placeholder
//     and calls Options.Schedule once; MarkPending, Complete and Fail drive
//     the rest of the lifecycle. Images are immutable once stored; the lock
//     guards the map and the list, never pixel data.
//
//   - Epochs: every owner has a monotonically increasing epoch. Invalidate
//     advances it, and Complete/Fail refuse results produced under an older
//     epoch, which cancels in-flight generation logically.
//
//   - Eviction: Capacity is enforced synchronously on insertion. The victim
//     is the least recently used entry that is not Pending; a Pending entry
//     is evicted only when every resident entry is Pending. Optional MaxBytes
//     and MaxAge limits evict the same way (reasons EvictBytes, EvictAge).
//
// Basic usage
//
//	s := cache.New(cache.Options{
//	    Capacity: 1000,
//	    Schedule: func(k symbol.Key, epoch uint64) { /* submit generation */ },
//	})
//	defer s.Close()
//
//	e := s.Get(k) // Placeholder on first call, generation scheduled
//	// ... worker finishes:
//	s.Complete(k, img, e.Epoch)
//	e = s.Get(k) // Ready
package cache
