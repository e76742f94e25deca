package cache

import "github.com/IvanBrykalov/legendcache/symbol"

// node is an intrusive doubly linked list element owned by a shard.
// The list runs from head (MRU) to tail (LRU).
type node struct {
	key   symbol.Key
	entry Entry

	prev *node
	next *node

	// Absolute age deadline in UnixNano, refreshed on every access.
	// Zero means the entry does not age out.
	exp int64

	// Resident image bytes (zero unless Ready).
	cost int64
}
