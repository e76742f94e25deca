package stability

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IvanBrykalov/legendcache/symbol"
)

type stableEvent struct {
	owner    symbol.OwnerID
	degraded bool
}

// recorder collects OnStable calls.
type recorder struct {
	mu     sync.Mutex
	events []stableEvent
	ch     chan stableEvent
}

func newRecorder() *recorder { return &recorder{ch: make(chan stableEvent, 16)} }

func (r *recorder) onStable(o symbol.OwnerID, degraded bool) {
	r.mu.Lock()
	r.events = append(r.events, stableEvent{o, degraded})
	r.mu.Unlock()
	r.ch <- stableEvent{o, degraded}
}

func (r *recorder) wait(t *testing.T) stableEvent {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("owner never became stable")
		return stableEvent{}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newMonitor(t *testing.T, probe Probe, opt Options) *Monitor {
	t.Helper()
	m := New(probe, opt)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMonitor_HibernatesSynchronously(t *testing.T) {
	t.Parallel()

	var hibernated atomic.Bool
	m := newMonitor(t, func(symbol.OwnerID) error { return nil }, Options{
		PollInterval: time.Hour,
		OnHibernate:  func(symbol.OwnerID) { hibernated.Store(true) },
	})
	m.Track("o")
	if !m.Stable("o") {
		t.Fatal("tracked owner starts stable")
	}

	m.NotifyChanged("o", ChangeGeneral)
	if !hibernated.Load() {
		t.Fatal("OnHibernate must run before NotifyChanged returns")
	}
	if m.Stable("o") {
		t.Fatal("owner must not be stable right after a change")
	}
	st, _ := m.Status("o")
	if st.StartedAt.IsZero() {
		t.Fatal("hibernation start must be recorded")
	}
}

func TestMonitor_ProbeSuccessStabilizes(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	var calls atomic.Int32
	m := newMonitor(t, func(symbol.OwnerID) error {
		if calls.Add(1) < 3 {
			return errors.New("layer busy")
		}
		return nil
	}, Options{PollInterval: 5 * time.Millisecond, Timeout: time.Minute, OnStable: rec.onStable})

	m.NotifyChanged("o", ChangeStyle)
	if ev := rec.wait(t); ev.owner != "o" || ev.degraded {
		t.Fatalf("event = %+v, want non-degraded o", ev)
	}
	st, _ := m.Status("o")
	if st.State != StateStable || st.Degraded || st.Attempts != 2 {
		t.Fatalf("status = %+v", st)
	}
}

// The probe fails (and panics) for the whole timeout: the owner is forced
// Stable and flagged degraded instead of hibernating forever.
func TestMonitor_TimeoutForcesDegradedStable(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	var n atomic.Int32
	m := newMonitor(t, func(symbol.OwnerID) error {
		if n.Add(1)%2 == 0 {
			panic("wrapped object deleted")
		}
		return errors.New("still loading")
	}, Options{PollInterval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond, OnStable: rec.onStable})

	start := time.Now()
	m.NotifyChanged("o", ChangeGeneral)
	ev := rec.wait(t)
	if !ev.degraded {
		t.Fatal("timeout must mark the owner degraded")
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("forced after %v, before the timeout", el)
	}
	st, _ := m.Status("o")
	if !st.Degraded || !errors.Is(st.Err, symbol.ErrVerificationTimeout) || st.Attempts == 0 {
		t.Fatalf("status = %+v", st)
	}

	// the next successful cycle clears the flag
	m.NotifyChanged("o", ChangeGeneral)
	if st, _ := m.Status("o"); st.Degraded {
		t.Fatal("a new cycle resets the degraded flag")
	}
}

// Rapid notifications keep restarting hibernation; exactly one Stable
// hand-off follows the last one.
func TestMonitor_RapidNotificationsReset(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newMonitor(t, func(symbol.OwnerID) error { return nil },
		Options{PollInterval: 40 * time.Millisecond, Timeout: time.Minute, OnStable: rec.onStable})

	for i := 0; i < 10; i++ {
		m.NotifyChanged("o", ChangeGeneral)
		if m.Stable("o") {
			t.Fatalf("owner stable during notification burst (iteration %d)", i)
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.wait(t)
	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("OnStable called %d times, want 1", n)
	}
}

func TestMonitor_ReloadDoublesTimeout(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newMonitor(t, func(symbol.OwnerID) error { return errors.New("down") },
		Options{PollInterval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond, OnStable: rec.onStable})

	start := time.Now()
	m.NotifyChanged("o", ChangeReload)
	rec.wait(t)
	if el := time.Since(start); el < 80*time.Millisecond {
		t.Fatalf("reload forced stable after %v, want >= 80ms", el)
	}
}

func TestMonitor_RemoveStopsCycle(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	m := newMonitor(t, func(symbol.OwnerID) error { return nil },
		Options{PollInterval: 20 * time.Millisecond, OnStable: rec.onStable})

	m.NotifyChanged("o", ChangeGeneral)
	if !m.Remove("o") {
		t.Fatal("Remove of a known owner must report true")
	}
	time.Sleep(60 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("removed owner must not become stable")
	}
	if _, ok := m.Status("o"); ok {
		t.Fatal("removed owner must be unknown")
	}
	if m.Remove("o") {
		t.Fatal("second Remove must report false")
	}
}

// A slow OnStable must not hold up the next notification; Gen tells the
// late hand-off apart from the current cycle.
func TestMonitor_SlowOnStableDoesNotBlockNotify(t *testing.T) {
	t.Parallel()

	entered := make(chan uint64, 1)
	release := make(chan struct{})
	var m *Monitor
	var once sync.Once
	m = newMonitor(t, func(symbol.OwnerID) error { return nil }, Options{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
		OnStable: func(o symbol.OwnerID, _ bool) {
			once.Do(func() {
				st, _ := m.Status(o)
				entered <- st.Gen
				<-release
			})
		},
	})
	t.Cleanup(func() { close(release) })

	m.NotifyChanged("o", ChangeGeneral)
	var gen uint64
	select {
	case gen = <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("owner never became stable")
	}

	done := make(chan struct{})
	go func() { m.NotifyChanged("o", ChangeStyle); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyChanged blocked behind OnStable")
	}
	if st, _ := m.Status("o"); st.Gen != gen+1 {
		t.Fatalf("status = %+v, want gen %d", st, gen+1)
	}
}

func TestMonitor_CloseStopsCycles(t *testing.T) {
	t.Parallel()

	m := New(func(symbol.OwnerID) error { return errors.New("down") }, Options{PollInterval: time.Millisecond})
	for _, o := range []symbol.OwnerID{"a", "b", "c"} {
		m.NotifyChanged(o, ChangeGeneral)
	}
	done := make(chan struct{})
	go func() { _ = m.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	m.NotifyChanged("a", ChangeGeneral) // no-op after Close
	if len(m.Owners()) != 3 {
		t.Fatal("owners are kept after Close")
	}
}

func TestState_Transitions(t *testing.T) {
	t.Parallel()

	allowed := map[[2]State]bool{
		{StateStable, StateHibernating}:      true,
		{StateHibernating, StateHibernating}: true,
		{StateHibernating, StateVerifying}:   true,
		{StateVerifying, StateVerifying}:     true,
		{StateVerifying, StateStable}:        true,
		{StateVerifying, StateHibernating}:   true,
	}
	states := []State{StateStable, StateHibernating, StateVerifying}
	for _, from := range states {
		for _, to := range states {
			if got := from.canMoveTo(to); got != allowed[[2]State{from, to}] {
				t.Errorf("%v -> %v: got %v", from, to, got)
			}
		}
	}
}
