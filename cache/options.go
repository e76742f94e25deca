package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// DefaultCapacity is the entry limit used when Options.Capacity is zero.
const DefaultCapacity = 1000

// EvictReason explains why an entry was removed by the store itself.
type EvictReason int

const (
	// EvictLRU: removed to keep the entry count within Capacity.
	EvictLRU EvictReason = iota
	// EvictAge: unused for longer than MaxAge.
	EvictAge
	// EvictBytes: removed to keep resident image bytes within MaxBytes.
	EvictBytes
)

func (r EvictReason) String() string {
	switch r {
	case EvictAge:
		return "age"
	case EvictBytes:
		return "bytes"
	default:
		return "lru"
	}
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures a Store. The zero value is usable; New applies:
//   - Capacity <= 0 => DefaultCapacity
//   - Shards   <= 1 => one shard (exact global LRU order)
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => zap.NewNop()
type Options struct {
	// Capacity is the entry count limit. It is never exceeded.
	Capacity int

	// Shards splits the store into independently locked partitions.
	// More than one shard trades exact global LRU order for less lock
	// contention. Capacity is split so the shard limits sum to it; the
	// count is halved until every shard gets at least one entry.
	Shards int

	// MaxAge drops entries that have not been accessed for this long.
	// Zero disables ageing.
	MaxAge time.Duration

	// SweepInterval runs Sweep periodically in the background when both it
	// and MaxAge are positive.
	SweepInterval time.Duration

	// MaxBytes limits the resident image bytes (W*H*4 per Ready entry).
	// Zero disables the limit.
	MaxBytes int64

	// Schedule is called, outside any store lock, once for every entry
	// created by a Get miss. It must not block.
	Schedule func(k symbol.Key, epoch uint64)

	// OnEvict is called under the shard lock for every eviction (not for
	// invalidation); keep it lightweight.
	OnEvict func(k symbol.Key, e Entry, reason EvictReason)

	Metrics Metrics
	Logger  *zap.Logger

	// Clock overrides the time source (tests). Nil => time.Now().
	Clock Clock
}
