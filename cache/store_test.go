package cache

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/IvanBrykalov/legendcache/symbol"
)

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) NowUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t += int64(d)
	f.mu.Unlock()
}

// scheduleRecorder counts Schedule calls per key.
type scheduleRecorder struct {
	mu    sync.Mutex
	calls map[symbol.Key]int
	last  map[symbol.Key]uint64
}

func newRecorder() *scheduleRecorder {
	return &scheduleRecorder{calls: map[symbol.Key]int{}, last: map[symbol.Key]uint64{}}
}

func (r *scheduleRecorder) schedule(k symbol.Key, epoch uint64) {
	r.mu.Lock()
	r.calls[k]++
	r.last[k] = epoch
	r.mu.Unlock()
}

func (r *scheduleRecorder) count(k symbol.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[k]
}

func key(owner string, h uint64) symbol.Key {
	return symbol.Key{Owner: symbol.OwnerID(owner), Hash: h, Size: symbol.Size{W: 16, H: 16}}
}

func img(w, h int) image.Image { return image.NewNRGBA(image.Rect(0, 0, w, h)) }

// A never-seen key yields a placeholder and exactly one schedule call,
// however often it is read while generation is outstanding.
func TestStore_MissSchedulesOnce(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 8, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	k := key("roads", 1)
	if e := s.Get(k); e.State != StatePlaceholder {
		t.Fatalf("first Get: want placeholder, got %v", e.State)
	}
	if !s.MarkPending(k, rec.last[k]) {
		t.Fatal("MarkPending on fresh placeholder must succeed")
	}
	for i := 0; i < 10; i++ {
		if e := s.Get(k); e.State != StatePending {
			t.Fatalf("Get #%d: want pending, got %v", i, e.State)
		}
	}
	if got := rec.count(k); got != 1 {
		t.Fatalf("schedule calls = %d, want 1", got)
	}
}

func TestStore_CompleteMakesReady(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 1000, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	k := symbol.Key{Owner: "o", Hash: 9, Size: symbol.Size{W: 24, H: 12}}
	e := s.Get(k)
	if !s.Complete(k, img(24, 12), e.Epoch) {
		t.Fatal("Complete under current epoch must be accepted")
	}
	got := s.Get(k)
	if !got.Ready() {
		t.Fatalf("want ready, got %v", got.State)
	}
	if b := got.Image.Bounds(); b.Dx() != 24 || b.Dy() != 12 {
		t.Fatalf("image size = %v, want 24x12", b.Size())
	}
}

// Deterministic LRU: accessing "a" promotes it, inserting "c" evicts "b".
func TestStore_EvictionLRU(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 2})
	t.Cleanup(func() { _ = s.Close() })

	a, b, c := key("o", 1), key("o", 2), key("o", 3)
	s.Put(a, img(1, 1))
	s.Put(b, img(1, 1))
	if !s.Get(a).Ready() {
		t.Fatal("a must hit")
	}
	s.Put(c, img(1, 1))

	if _, ok := s.Peek(b); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := s.Peek(a); !ok {
		t.Fatal("a must survive (promoted)")
	}
	if _, ok := s.Peek(c); !ok {
		t.Fatal("c must be present")
	}
}

// 1001 sequential inserts at capacity 1000: one eviction, of the LRU key.
func TestStore_CapacityStress(t *testing.T) {
	t.Parallel()

	var evicted []symbol.Key
	s := New(Options{
		Capacity: 1000,
		OnEvict: func(k symbol.Key, _ Entry, reason EvictReason) {
			if reason != EvictLRU {
				t.Errorf("unexpected reason %v", reason)
			}
			evicted = append(evicted, k)
		},
	})
	t.Cleanup(func() { _ = s.Close() })

	for i := 1; i <= 1000; i++ {
		s.Put(key("o", uint64(i)), img(2, 2))
	}
	// touch key 1 so key 2 becomes least recently used
	s.Get(key("o", 1))

	for i := 1001; i <= 1005; i++ {
		s.Put(key("o", uint64(i)), img(2, 2))
		if n := s.Len(); n > 1000 {
			t.Fatalf("Len = %d exceeds capacity", n)
		}
	}

	want := []uint64{2, 3, 4, 5, 6}
	if len(evicted) != len(want) {
		t.Fatalf("evictions = %d, want %d", len(evicted), len(want))
	}
	for i, h := range want {
		if evicted[i].Hash != h {
			t.Fatalf("eviction %d: got hash %d, want %d", i, evicted[i].Hash, h)
		}
	}
	if st := s.Stats(); st.Evictions != 5 || st.Entries != 1000 {
		t.Fatalf("stats = %+v", st)
	}
}

// Pending entries are skipped when picking a victim.
func TestStore_PendingSurvivesEviction(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 2, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	p := key("o", 1)
	s.Get(p)
	s.MarkPending(p, rec.last[p])
	s.Put(key("o", 2), img(1, 1))
	s.Put(key("o", 3), img(1, 1)) // p is LRU but pending: 2 goes

	if e, ok := s.Peek(p); !ok || e.State != StatePending {
		t.Fatal("pending entry must not be evicted while others are evictable")
	}
	if _, ok := s.Peek(key("o", 2)); ok {
		t.Fatal("oldest ready entry must be evicted instead")
	}
}

// A Pending entry evicted under full pressure still takes its result.
func TestStore_CompleteAfterPendingEvictionLands(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 1, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	a, b := key("o", 1), key("o", 2)
	s.Get(a)
	s.MarkPending(a, rec.last[a])
	s.Get(b) // the only other entry is pending, so a goes
	s.MarkPending(b, rec.last[b])

	if _, ok := s.Peek(a); ok {
		t.Fatal("oldest pending entry must go when nothing else can")
	}
	if !s.Complete(a, img(2, 2), rec.last[a]) {
		t.Fatal("a current-epoch result must land")
	}
	if e, ok := s.Peek(a); !ok || !e.Ready() {
		t.Fatalf("a = %+v, %v; want ready", e, ok)
	}
	if n := s.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

// With several shards the total still never exceeds Capacity, including
// when Capacity is smaller than the shard count.
func TestStore_ShardedCapacityIsGlobal(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ capacity, shards int }{{1000, 16}, {1001, 8}, {3, 16}} {
		s := New(Options{Capacity: tc.capacity, Shards: tc.shards})
		for i := uint64(1); i <= uint64(5*tc.capacity); i++ {
			s.Put(key("o", i), img(1, 1))
			if n := s.Len(); n > tc.capacity {
				t.Fatalf("cap=%d shards=%d: Len = %d after %d puts", tc.capacity, tc.shards, n, i)
			}
		}
		if st := s.Stats(); st.Entries == 0 || st.Entries > tc.capacity {
			t.Fatalf("cap=%d shards=%d: entries = %d", tc.capacity, tc.shards, st.Entries)
		}
		_ = s.Close()
	}
}

func TestStore_InvalidateOwnerOnly(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 16})
	t.Cleanup(func() { _ = s.Close() })

	for i := uint64(1); i <= 3; i++ {
		s.Put(key("o1", i), img(1, 1))
	}
	other := key("o2", 1)
	s.Put(other, img(1, 1))

	if n := s.Invalidate("o1"); n != 3 {
		t.Fatalf("Invalidate removed %d, want 3", n)
	}
	for i := uint64(1); i <= 3; i++ {
		if e := s.Get(key("o1", i)); e.State != StatePlaceholder {
			t.Fatalf("o1/%d: want placeholder after invalidate, got %v", i, e.State)
		}
	}
	if !s.Get(other).Ready() {
		t.Fatal("entries of other owners must be untouched")
	}
}

func TestStore_InvalidateAll(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 16})
	t.Cleanup(func() { _ = s.Close() })

	s.Put(key("a", 1), img(1, 1))
	s.Put(key("b", 1), img(1, 1))
	ea, eb := s.Epoch("a"), s.Epoch("b")

	if n := s.InvalidateAll(); n != 2 {
		t.Fatalf("InvalidateAll removed %d, want 2", n)
	}
	if s.Len() != 0 {
		t.Fatal("store must be empty")
	}
	if s.Epoch("a") <= ea || s.Epoch("b") <= eb {
		t.Fatal("every known epoch must advance")
	}
}

// A result computed under an older epoch is never written.
func TestStore_StaleCompletionDiscarded(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 16, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	k := key("o", 1)
	old := s.Get(k).Epoch
	s.MarkPending(k, old)
	s.Invalidate("o")

	if s.Complete(k, img(16, 16), old) {
		t.Fatal("stale completion must be rejected")
	}
	if _, ok := s.Peek(k); ok {
		t.Fatal("stale completion must not recreate the entry")
	}
	if s.Fail(k, errors.New("x"), old) {
		t.Fatal("stale failure must be rejected")
	}
}

func TestStore_AdvanceDropsInFlightKeepsReady(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 16, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	ready, inflight := key("o", 1), key("o", 2)
	s.Put(ready, img(1, 1))
	s.Get(inflight)

	before := s.Epoch("o")
	if after := s.Advance("o"); after <= before {
		t.Fatalf("epoch must increase: %d -> %d", before, after)
	}
	if _, ok := s.Peek(inflight); ok {
		t.Fatal("in-flight entry must be dropped on Advance")
	}
	if e, ok := s.Peek(ready); !ok || !e.Ready() {
		t.Fatal("ready entry must stay servable on Advance")
	}
	// the dropped key is scheduled again on the next read
	s.Get(inflight)
	if got := rec.count(inflight); got != 2 {
		t.Fatalf("schedule calls = %d, want 2", got)
	}
}

func TestStore_FailServesFailed(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 16, Schedule: rec.schedule})
	t.Cleanup(func() { _ = s.Close() })

	k := key("o", 1)
	e := s.Get(k)
	s.MarkPending(k, e.Epoch)
	if !s.Fail(k, symbol.ErrGenerationFailed, e.Epoch) {
		t.Fatal("Fail on pending entry must succeed")
	}
	got := s.Get(k)
	if got.State != StateFailed || !errors.Is(got.Err, symbol.ErrGenerationFailed) {
		t.Fatalf("want failed entry, got %+v", got)
	}
	if rec.count(k) != 1 {
		t.Fatal("a failed entry must not be rescheduled")
	}
	if s.MarkPending(k, e.Epoch) {
		t.Fatal("failed entry must not go back to pending")
	}
}

// Forgetting an owner must not let epochs restart below in-flight work.
func TestStore_ForgetKeepsEpochsMonotonic(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 16})
	t.Cleanup(func() { _ = s.Close() })

	k := key("o", 1)
	stale := s.Get(k).Epoch
	s.Forget("o")

	if s.Complete(k, img(1, 1), stale) {
		t.Fatal("result from before Forget must be rejected")
	}
	if s.Epoch("o") <= stale {
		t.Fatal("re-added owner must start above the old epoch")
	}
}

func TestStore_MaxAge_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Options{Capacity: 16, MaxAge: time.Hour, Clock: clk})
	t.Cleanup(func() { _ = s.Close() })

	s.Put(key("o", 1), img(1, 1))
	s.Put(key("o", 2), img(1, 1))
	clk.add(30 * time.Minute)
	s.Get(key("o", 1)) // refreshes its deadline
	clk.add(45 * time.Minute)

	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := s.Peek(key("o", 1)); !ok {
		t.Fatal("recently used entry must survive")
	}
	clk.add(2 * time.Hour)
	if e := s.Get(key("o", 1)); e.State != StatePlaceholder {
		t.Fatal("aged entry must be served as a miss")
	}
}

func TestStore_MaxBytes(t *testing.T) {
	t.Parallel()

	s := New(Options{Capacity: 100, MaxBytes: 3 * 16 * 16 * 4})
	t.Cleanup(func() { _ = s.Close() })

	for i := uint64(1); i <= 4; i++ {
		s.Put(key("o", i), img(16, 16))
	}
	st := s.Stats()
	if st.Bytes > 3*16*16*4 || st.Entries != 3 {
		t.Fatalf("stats = %+v, want 3 entries within budget", st)
	}
	if _, ok := s.Peek(key("o", 1)); ok {
		t.Fatal("LRU entry must be evicted by the byte limit")
	}
}

func TestStore_ClosedIsInert(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	s := New(Options{Capacity: 4, Schedule: rec.schedule, MaxAge: time.Minute, SweepInterval: time.Millisecond})
	_ = s.Close()

	k := key("o", 1)
	if e := s.Get(k); e.State != StatePlaceholder {
		t.Fatal("closed store serves placeholders")
	}
	s.Put(k, img(1, 1))
	if s.Len() != 0 || rec.count(k) != 0 {
		t.Fatal("closed store must not store or schedule")
	}
}

func TestState_Transitions(t *testing.T) {
	t.Parallel()

	allowed := map[[2]State]bool{
		{StatePlaceholder, StatePending}: true,
		{StatePlaceholder, StateReady}:   true,
		{StatePlaceholder, StateFailed}:  true,
		{StatePending, StateReady}:       true,
		{StatePending, StateFailed}:      true,
		{StateReady, StateReady}:         true,
		{StateFailed, StateReady}:        true,
	}
	states := []State{StatePlaceholder, StatePending, StateReady, StateFailed}
	for _, from := range states {
		for _, to := range states {
			if got := from.canMoveTo(to); got != allowed[[2]State{from, to}] {
				t.Errorf("%v -> %v: got %v", from, to, got)
			}
		}
	}
}
