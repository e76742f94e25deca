package cache

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/legendcache/internal/util"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// totals are store-wide resident counters shared by all shards.
type totals struct {
	entries atomic.Int64
	bytes   atomic.Int64
}

// shard is an independent partition of the store with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu       sync.RWMutex
	m        map[symbol.Key]*node
	head     *node // MRU
	tail     *node // LRU
	len      int
	bytes    int64
	cap      int
	maxBytes int64

	opt Options
	tot *totals

	// ---- hot counters ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
	evicts util.PaddedAtomicUint64
}

func newShard(capacity int, maxBytes int64, opt Options, tot *totals) *shard {
	return &shard{
		m:        make(map[symbol.Key]*node, capacity),
		cap:      capacity,
		maxBytes: maxBytes,
		opt:      opt,
		tot:      tot,
	}
}

// lookup returns the entry for k and promotes it. ok is false on a miss
// (including an aged-out entry, which is evicted here).
func (s *shard) lookup(k symbol.Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return Entry{}, false
	}
	if s.expiredLocked(n) {
		s.evictNode(n, EvictAge)
		return Entry{}, false
	}
	s.touchLocked(n)
	return n.entry, true
}

// peek returns the entry without promotion.
func (s *shard) peek(k symbol.Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.m[k]
	if !ok {
		return Entry{}, false
	}
	return n.entry, true
}

// insertPlaceholderLocked creates a Placeholder for k unless one appeared
// concurrently. created reports whether this call inserted it.
func (s *shard) insertPlaceholderLocked(k symbol.Key, epoch uint64) (e Entry, created bool) {
	if n, ok := s.m[k]; ok && !s.expiredLocked(n) {
		s.touchLocked(n)
		return n.entry, false
	} else if ok {
		s.evictNode(n, EvictAge)
	}
	n := &node{key: k, entry: placeholder(epoch), exp: s.deadline()}
	s.m[k] = n
	s.insertFront(n)
	s.enforceLimitsLocked(n)
	return n.entry, true
}

// storeLocked inserts or overwrites k with e as MRU.
func (s *shard) storeLocked(k symbol.Key, e Entry) {
	cost := imageBytes(e)
	if n, ok := s.m[k]; ok {
		s.adjustCost(n, cost)
		n.entry = e
		n.exp = s.deadline()
		s.moveToFront(n)
		s.enforceLimitsLocked(n)
		return
	}
	n := &node{key: k, entry: e, exp: s.deadline(), cost: cost}
	s.m[k] = n
	s.insertFront(n)
	s.enforceLimitsLocked(n)
}

// transitionLocked moves an existing entry to e.State if the lifecycle
// allows it and the entry epoch matches. It does not promote.
func (s *shard) transitionLocked(k symbol.Key, e Entry) bool {
	n, ok := s.m[k]
	if !ok || n.entry.Epoch != e.Epoch || !n.entry.State.canMoveTo(e.State) {
		return false
	}
	s.adjustCost(n, imageBytes(e))
	n.entry = e
	if n.cost > 0 {
		s.enforceLimitsLocked(n)
	}
	return true
}

// removeOwnerLocked drops entries of owner (of every owner when all is
// set). With inFlightOnly, only Placeholder and Pending entries go.
func (s *shard) removeOwnerLocked(owner symbol.OwnerID, all, inFlightOnly bool) int {
	removed := 0
	for k, n := range s.m {
		if inFlightOnly && n.entry.State != StatePlaceholder && n.entry.State != StatePending {
			continue
		}
		if all || k.Owner == owner {
			s.removeNode(n)
			delete(s.m, k)
			removed++
		}
	}
	return removed
}

// sweep evicts every aged-out entry.
func (s *shard) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for cur := s.tail; cur != nil; {
		prev := cur.prev
		if s.expiredLocked(cur) {
			s.evictNode(cur, EvictAge)
			n++
		}
		cur = prev
	}
	return n
}

func (s *shard) length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// -------------------- internals (mu held) --------------------

func (s *shard) touchLocked(n *node) {
	n.exp = s.deadline()
	s.moveToFront(n)
}

func (s *shard) expiredLocked(n *node) bool {
	if n.exp == 0 || n.entry.State == StatePending {
		return false
	}
	return s.now() > n.exp
}

func (s *shard) deadline() int64 {
	if s.opt.MaxAge <= 0 {
		return 0
	}
	return s.now() + int64(s.opt.MaxAge)
}

func (s *shard) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (s *shard) adjustCost(n *node, cost int64) {
	delta := cost - n.cost
	n.cost = cost
	s.bytes += delta
	s.tot.bytes.Add(delta)
}

// insertFront inserts n at MRU in O(1).
func (s *shard) insertFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.bytes += n.cost
	s.tot.entries.Add(1)
	s.tot.bytes.Add(n.cost)
}

// moveToFront promotes n to MRU in O(1).
func (s *shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n and updates counters in O(1).
func (s *shard) removeNode(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.bytes -= n.cost
	s.tot.entries.Add(-1)
	s.tot.bytes.Add(-n.cost)
}

// victimLocked returns the least recently used entry that is not Pending,
// skipping keep. When every other entry is Pending the LRU one is returned,
// since Capacity is never exceeded.
func (s *shard) victimLocked(keep *node) *node {
	var fallback *node
	for n := s.tail; n != nil; n = n.prev {
		if n == keep {
			continue
		}
		if n.entry.State != StatePending {
			return n
		}
		if fallback == nil {
			fallback = n
		}
	}
	return fallback
}

// costVictimLocked returns the least recently used entry holding image
// bytes, skipping keep.
func (s *shard) costVictimLocked(keep *node) *node {
	for n := s.tail; n != nil; n = n.prev {
		if n != keep && n.cost > 0 {
			return n
		}
	}
	return nil
}

// evictNode removes the node, updates counters and calls OnEvict.
func (s *shard) evictNode(n *node, reason EvictReason) {
	s.removeNode(n)
	delete(s.m, n.key)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		cb(n.key, n.entry, reason)
	}
}

// enforceLimitsLocked evicts until both the count and byte limits hold.
// keep is the entry being inserted; it is only evicted by the byte limit
// when it alone exceeds MaxBytes.
func (s *shard) enforceLimitsLocked(keep *node) {
	for s.len > s.cap {
		v := s.victimLocked(keep)
		if v == nil {
			break
		}
		s.evictNode(v, EvictLRU)
	}
	if s.maxBytes > 0 {
		for s.bytes > s.maxBytes {
			v := s.costVictimLocked(keep)
			if v == nil {
				// keep alone exceeds the budget.
				if keep != nil && keep.cost > 0 {
					s.evictNode(keep, EvictBytes)
				}
				break
			}
			s.evictNode(v, EvictBytes)
		}
	}
	s.opt.Metrics.Size(int(s.tot.entries.Load()), s.tot.bytes.Load())
}

func imageBytes(e Entry) int64 {
	if e.State != StateReady || e.Image == nil {
		return 0
	}
	return boundsBytes(e.Image.Bounds())
}

func boundsBytes(r image.Rectangle) int64 {
	return int64(r.Dx()) * int64(r.Dy()) * 4
}
