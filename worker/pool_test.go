package worker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

type styleDesc struct{ fill color.NRGBA }

func (d styleDesc) Label() string { return "style" }
func (d styleDesc) CloneStyle() (symbol.Style, error) {
	return symbol.Style{Layers: []symbol.Layer{{Shape: symbol.ShapeSquare, Fill: d.fill}}}, nil
}

func snap(size symbol.Size) *snapshot.Snapshot {
	return snapshot.Capture(styleDesc{fill: color.NRGBA{G: 0xff, A: 0xff}}, size)
}

// pending puts k into Pending the way the engine does before Submit.
func pending(t *testing.T, s cache.Store, k symbol.Key) uint64 {
	t.Helper()
	e := s.Get(k)
	if !s.MarkPending(k, e.Epoch) {
		t.Fatalf("MarkPending(%v) failed", k)
	}
	return e.Epoch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newStore(t *testing.T) cache.Store {
	s := cache.New(cache.Options{Capacity: 1000})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func start(t *testing.T, p *Pool) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
}

// End to end: placeholder first, Ready with the requested size after
// generation.
func TestPool_GeneratesReadyImage(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ready := make(chan symbol.Key, 1)
	p := New(s, Options{Workers: 2, OnReady: func(k symbol.Key) { ready <- k }})
	start(t, p)

	size := symbol.Size{W: 20, H: 10}
	sn := snap(size)
	k := sn.Key("o")

	if e := s.Get(k); e.State != cache.StatePlaceholder {
		t.Fatalf("want placeholder, got %v", e.State)
	}
	epoch := s.Epoch("o")
	s.MarkPending(k, epoch)
	if !p.Submit(Task{Key: k, Snap: sn, Epoch: epoch}) {
		t.Fatal("Submit rejected")
	}

	select {
	case got := <-ready:
		if got != k {
			t.Fatalf("ready key = %v, want %v", got, k)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ready notification")
	}
	e := s.Get(k)
	if !e.Ready() {
		t.Fatalf("want ready, got %v", e.State)
	}
	if b := e.Image.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("image %v, want 20x10", b.Size())
	}
}

// One failing and one panicking render must not stop the others.
func TestPool_FailureIsolated(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	bad := symbol.Size{W: 3, H: 3}
	boom := symbol.Size{W: 5, H: 5}
	p := New(s, Options{
		Workers: 1,
		Render: func(sn *snapshot.Snapshot, size symbol.Size) (image.Image, error) {
			switch size {
			case bad:
				return nil, errors.New("no renderer")
			case boom:
				panic("renderer crashed")
			}
			return snapshot.Render(sn, size)
		},
	})

	keys := map[symbol.Size]symbol.Key{}
	for _, size := range []symbol.Size{bad, boom, {W: 8, H: 8}} {
		sn := snap(size)
		k := sn.Key("o")
		keys[size] = k
		p.Submit(Task{Key: k, Snap: sn, Epoch: pending(t, s, k)})
	}
	start(t, p)

	waitFor(t, "all tasks", func() bool { st := p.Stats(); return st.Completed+st.Failed == 3 })

	for _, size := range []symbol.Size{bad, boom} {
		e, _ := s.Peek(keys[size])
		if e.State != cache.StateFailed || !errors.Is(e.Err, symbol.ErrGenerationFailed) {
			t.Fatalf("%v: want failed with ErrGenerationFailed, got %+v", size, e)
		}
	}
	if e, _ := s.Peek(keys[symbol.Size{W: 8, H: 8}]); !e.Ready() {
		t.Fatal("healthy task must complete")
	}
}

// A result computed under an epoch that was invalidated is never stored.
func TestPool_StaleResultDiscarded(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	release := make(chan struct{})
	p := New(s, Options{
		Workers: 1,
		Render: func(sn *snapshot.Snapshot, size symbol.Size) (image.Image, error) {
			<-release
			return snapshot.Render(sn, size)
		},
		OnReady: func(symbol.Key) { t.Error("stale result reported ready") },
	})
	start(t, p)

	sn := snap(symbol.Size{W: 4, H: 4})
	k := sn.Key("o")
	p.Submit(Task{Key: k, Snap: sn, Epoch: pending(t, s, k)})
	s.Invalidate("o")
	close(release)

	waitFor(t, "discard", func() bool { return p.Stats().Discarded == 1 })
	if _, ok := s.Peek(k); ok {
		t.Fatal("stale result must not be written")
	}
}

func TestPool_RejectsMalformedSnapshot(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	p := New(s, Options{})
	k := symbol.Key{Owner: "o", Hash: 1, Size: symbol.Size{W: 4, H: 4}}
	epoch := pending(t, s, k)

	if p.Submit(Task{Key: k, Snap: nil, Epoch: epoch}) {
		t.Fatal("nil snapshot must be rejected")
	}
	e, _ := s.Peek(k)
	if e.State != cache.StateFailed || !errors.Is(e.Err, symbol.ErrMalformedSnapshot) {
		t.Fatalf("want failed entry, got %+v", e)
	}
	if st := p.Stats(); st.Rejected != 1 || st.Submitted != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPool_DedupesQueuedKey(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	p := New(s, Options{})
	sn := snap(symbol.Size{W: 4, H: 4})
	k := sn.Key("o")
	epoch := pending(t, s, k)

	p.Submit(Task{Key: k, Snap: sn, Epoch: epoch})
	p.Submit(Task{Key: k, Snap: sn, Epoch: epoch, Priority: 5})
	if q := p.Stats().Queued; q != 1 {
		t.Fatalf("queued = %d, want 1", q)
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	var mu sync.Mutex
	var order []int
	p := New(s, Options{
		Workers: 1,
		Render: func(sn *snapshot.Snapshot, size symbol.Size) (image.Image, error) {
			mu.Lock()
			order = append(order, size.W)
			mu.Unlock()
			return snapshot.Render(sn, size)
		},
	})
	for i, prio := range []int{0, 10, 5, 10} {
		size := symbol.Size{W: i + 1, H: 1}
		sn := snap(size)
		k := sn.Key("o")
		p.Submit(Task{Key: k, Snap: sn, Epoch: pending(t, s, k), Priority: prio})
	}
	start(t, p)
	waitFor(t, "drain", func() bool { return p.Stats().Completed == 4 })

	mu.Lock()
	defer mu.Unlock()
	want := []int{2, 4, 3, 1} // by priority, FIFO within equal priority
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPool_QueueFullFailsEntry(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	p := New(s, Options{QueueLimit: 1})

	var last symbol.Key
	for w := 1; w <= 2; w++ {
		sn := snap(symbol.Size{W: w, H: 1})
		last = sn.Key("o")
		p.Submit(Task{Key: last, Snap: sn, Epoch: pending(t, s, last)})
	}
	e, _ := s.Peek(last)
	if !errors.Is(e.Err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %+v", e)
	}
}

func TestPool_StartTwiceAndClose(t *testing.T) {
	t.Parallel()

	p := New(newStore(t), Options{})
	start(t, p)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
	_ = p.Close()
	_ = p.Close()

	sn := snap(symbol.Size{W: 1, H: 1})
	if p.Submit(Task{Key: sn.Key("o"), Snap: sn}) {
		t.Fatal("Submit after Close must be rejected")
	}
}

func TestPool_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	p := New(newStore(t), Options{Workers: 3})
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit on cancel")
	}
}
