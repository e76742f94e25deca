// Package util contains internal helpers (key hashing, sharding, padding).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "github.com/IvanBrykalov/legendcache/symbol"

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// KeyHash hashes a symbol key with 64-bit FNV-1a. It is used for shard
// selection only; the owner is mixed in first so that one owner's symbols
// spread across shards the same way regardless of size.
func KeyHash(k symbol.Key) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(k.Owner); i++ {
		h ^= uint64(k.Owner[i])
		h *= fnvPrime64
	}
	h = mixUint64(h, k.Hash)
	h = mixUint64(h, uint64(uint32(k.Size.W))<<32|uint64(uint32(k.Size.H)))
	return h
}

// mixUint64 folds the 8 little-endian bytes of u into h without allocating.
func mixUint64(h, u uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
