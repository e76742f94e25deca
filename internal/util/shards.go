package util

// NextPow2 returns the smallest power of two >= x (1 for x <= 1, clamped to 1<<63).
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ShardCount normalizes a requested shard count: <= 0 means a single shard
// (exact global LRU order), anything else is rounded up to a power of two
// and clamped to 256.
func ShardCount(requested int) int {
	if requested <= 1 {
		return 1
	}
	n := int(NextPow2(uint64(requested)))
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a hash to a shard index; shards must be a power of two.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash & uint64(shards-1))
}
