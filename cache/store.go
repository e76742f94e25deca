package cache

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/internal/util"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// store is the sharded Store implementation.
type store struct {
	shards []*shard
	tot    totals
	closed atomic.Bool

	// epochMu guards epochs and seq. Lock order: epochMu, then shard.mu.
	epochMu sync.Mutex
	epochs  map[symbol.OwnerID]uint64
	seq     uint64

	invalidations atomic.Uint64

	opt  Options
	log  *zap.Logger
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New constructs a Store with the provided Options (see Options for defaults).
func New(opt Options) Store {
	if opt.Capacity <= 0 {
		opt.Capacity = DefaultCapacity
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	sh := util.ShardCount(opt.Shards)
	// every shard must be able to hold something
	for sh > 1 && (sh > opt.Capacity || (opt.MaxBytes > 0 && int64(sh) > opt.MaxBytes)) {
		sh /= 2
	}
	s := &store{
		epochs: make(map[symbol.OwnerID]uint64),
		opt:    opt,
		log:    opt.Logger.Named("cache"),
		stop:   make(chan struct{}),
	}

	// shard limits sum to exactly the global limits
	s.shards = make([]*shard, sh)
	for i := range s.shards {
		var maxBytes int64
		if opt.MaxBytes > 0 {
			maxBytes = splitLimit(opt.MaxBytes, sh, i)
		}
		s.shards[i] = newShard(int(splitLimit(int64(opt.Capacity), sh, i)), maxBytes, opt, &s.tot)
	}

	if opt.MaxAge > 0 && opt.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper(opt.SweepInterval)
	}
	return s
}

// ---- Store implementation ----

func (s *store) Get(k symbol.Key) Entry {
	if s.closed.Load() {
		return placeholder(0)
	}
	sh := s.getShard(k)
	if e, ok := sh.lookup(k); ok {
		sh.hits.Add(1)
		s.opt.Metrics.Hit()
		return e
	}
	sh.misses.Add(1)
	s.opt.Metrics.Miss()

	// slow path: stamp the placeholder with the owner's epoch
	s.epochMu.Lock()
	epoch := s.epochLocked(k.Owner)
	sh.mu.Lock()
	e, created := sh.insertPlaceholderLocked(k, epoch)
	sh.mu.Unlock()
	s.epochMu.Unlock()

	if created && s.opt.Schedule != nil {
		s.opt.Schedule(k, epoch)
	}
	return e
}

func (s *store) Peek(k symbol.Key) (Entry, bool) {
	return s.getShard(k).peek(k)
}

func (s *store) Put(k symbol.Key, img image.Image) {
	if s.closed.Load() || img == nil {
		return
	}
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	epoch := s.epochLocked(k.Owner)

	sh := s.getShard(k)
	sh.mu.Lock()
	sh.storeLocked(k, Entry{State: StateReady, Image: img, Epoch: epoch})
	sh.mu.Unlock()
}

func (s *store) Complete(k symbol.Key, img image.Image, epoch uint64) bool {
	if s.closed.Load() || img == nil {
		return false
	}
	// epochMu is held across the insert so an Invalidate cannot slip in
	// between the epoch check and the write.
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if epoch != s.epochLocked(k.Owner) {
		return false
	}

	sh := s.getShard(k)
	sh.mu.Lock()
	sh.storeLocked(k, Entry{State: StateReady, Image: img, Epoch: epoch})
	sh.mu.Unlock()
	return true
}

func (s *store) Fail(k symbol.Key, err error, epoch uint64) bool {
	if s.closed.Load() {
		return false
	}
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if epoch != s.epochLocked(k.Owner) {
		return false
	}

	sh := s.getShard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.transitionLocked(k, Entry{State: StateFailed, Err: err, Epoch: epoch})
}

func (s *store) MarkPending(k symbol.Key, epoch uint64) bool {
	if s.closed.Load() {
		return false
	}
	sh := s.getShard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.transitionLocked(k, Entry{State: StatePending, Epoch: epoch})
}

func (s *store) Invalidate(owner symbol.OwnerID) int {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	s.advanceLocked(owner)
	n := s.removeLocked(owner, false, false)
	s.log.Debug("invalidated owner", zap.String("owner", string(owner)), zap.Int("removed", n))
	return n
}

func (s *store) InvalidateAll() int {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	for owner := range s.epochs {
		s.advanceLocked(owner)
	}
	n := s.removeLocked("", true, false)
	s.log.Debug("invalidated all owners", zap.Int("removed", n))
	return n
}

func (s *store) Forget(owner symbol.OwnerID) int {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	// the sequence keeps moving, so a re-added owner starts above any
	// epoch handed out before it was forgotten
	s.seq++
	n := s.removeLocked(owner, false, false)
	delete(s.epochs, owner)
	return n
}

func (s *store) Epoch(owner symbol.OwnerID) uint64 {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.epochLocked(owner)
}

// Advance bumps the owner's epoch. Placeholder and Pending entries of the
// owner are dropped with it (their generation is now stale); Ready and
// Failed entries stay servable.
func (s *store) Advance(owner symbol.OwnerID) uint64 {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	e := s.advanceLocked(owner)
	s.removeLocked(owner, false, true)
	return e
}

func (s *store) Sweep() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.sweep()
	}
	return n
}

func (s *store) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.length()
	}
	return total
}

func (s *store) Stats() Stats {
	var st Stats
	for _, sh := range s.shards {
		st.Hits += sh.hits.Load()
		st.Misses += sh.misses.Load()
		st.Evictions += sh.evicts.Load()
	}
	st.Invalidations = s.invalidations.Load()
	st.Entries = int(s.tot.entries.Load())
	st.Bytes = s.tot.bytes.Load()
	return st
}

func (s *store) Close() error {
	s.closed.Store(true)
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

// ---- helpers ----

func (s *store) getShard(k symbol.Key) *shard {
	return s.shards[util.ShardIndex(util.KeyHash(k), len(s.shards))]
}

// epochLocked returns the owner's epoch, registering unseen owners at the
// current sequence value. epochMu must be held.
func (s *store) epochLocked(owner symbol.OwnerID) uint64 {
	e, ok := s.epochs[owner]
	if !ok {
		e = s.seq
		s.epochs[owner] = e
	}
	return e
}

// advanceLocked assigns the next sequence value to owner. Drawing from one
// store-wide sequence keeps every owner's epochs strictly increasing even
// across Forget.
func (s *store) advanceLocked(owner symbol.OwnerID) uint64 {
	s.seq++
	s.epochs[owner] = s.seq
	return s.seq
}

// removeLocked removes entries across all shards. epochMu must be held.
func (s *store) removeLocked(owner symbol.OwnerID, all, inFlightOnly bool) int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.removeOwnerLocked(owner, all, inFlightOnly)
		sh.mu.Unlock()
	}
	if n > 0 {
		s.invalidations.Add(uint64(n))
		s.opt.Metrics.Invalidate(n)
		s.opt.Metrics.Size(int(s.tot.entries.Load()), s.tot.bytes.Load())
	}
	return n
}

// sweeper runs Sweep every interval until Close.
func (s *store) sweeper(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("swept aged entries", zap.Int("removed", n))
			}
		case <-s.stop:
			return
		}
	}
}

// splitLimit returns shard i's share of total over n shards; the first
// total%n shards take one extra unit.
func splitLimit(total int64, n, i int) int64 {
	q, r := total/int64(n), total%int64(n)
	if int64(i) < r {
		return q + 1
	}
	return q
}
