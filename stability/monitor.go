// Package stability defers access to an owner's host objects until the
// owner has been quiet long enough to be read safely.
//
// Each owner cycles Stable -> Hibernating -> Verifying -> Stable. A change
// notification hibernates the owner synchronously; a goroutine then polls
// the Probe every PollInterval until it succeeds or the timeout elapses, in
// which case the owner is forced Stable and flagged degraded.
package stability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/symbol"
)

type ownerState struct {
	state     State
	startedAt time.Time
	attempts  int
	degraded  bool
	err       error
	gen       uint64        // bumped on every notification
	stop      chan struct{} // closed when the current cycle is superseded
}

// Monitor tracks the stability state of every known owner.
type Monitor struct {
	probe Probe
	opt   Options
	log   *zap.Logger

	// cycleMu serialises NotifyChanged and Remove, so OnHibernate calls
	// for one owner run in notification order.
	cycleMu sync.Mutex

	mu     sync.Mutex
	owners map[symbol.OwnerID]*ownerState
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Monitor using probe to test owners.
func New(probe Probe, opt Options) *Monitor {
	if opt.PollInterval <= 0 {
		opt.PollInterval = DefaultPollInterval
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	m := &Monitor{
		probe:  probe,
		opt:    opt,
		log:    opt.Logger.Named("stability"),
		owners: make(map[symbol.OwnerID]*ownerState),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start ties the monitor's lifetime to ctx. Owners may be tracked and
// notified before Start.
func (m *Monitor) Start(ctx context.Context) {
	context.AfterFunc(ctx, m.cancel)
}

// Close stops every verification cycle and waits for them. Idempotent.
func (m *Monitor) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}

// Track registers owner in Stable. It reports whether owner was new.
func (m *Monitor) Track(owner symbol.OwnerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[owner]; ok {
		return false
	}
	m.owners[owner] = &ownerState{state: StateStable}
	return true
}

// NotifyChanged moves owner to Hibernating (tracking it if needed) and
// starts a new verification cycle, superseding any running one. OnHibernate
// has run by the time it returns.
func (m *Monitor) NotifyChanged(owner symbol.OwnerID, kind ChangeKind) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	st, ok := m.owners[owner]
	if !ok {
		st = &ownerState{state: StateStable}
		m.owners[owner] = st
	}
	if st.stop != nil {
		close(st.stop)
	}
	m.setLocked(st, StateHibernating)
	st.startedAt = time.Now()
	st.attempts = 0
	st.degraded, st.err = false, nil
	st.gen++
	st.stop = make(chan struct{})
	gen, stop := st.gen, st.stop
	m.wg.Add(1)
	m.mu.Unlock()

	m.opt.Metrics.Hibernated()
	if m.opt.OnHibernate != nil {
		m.opt.OnHibernate(owner)
	}
	m.log.Debug("owner hibernating", zap.String("owner", string(owner)), zap.Stringer("change", kind))

	go m.verify(owner, gen, stop, m.opt.Timeout*kind.timeoutScale())
}

// Remove forgets owner and stops its cycle. It reports whether owner was
// known.
func (m *Monitor) Remove(owner symbol.OwnerID) bool {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok {
		return false
	}
	if st.stop != nil {
		close(st.stop)
	}
	delete(m.owners, owner)
	return true
}

// Status returns owner's current status. ok is false for unknown owners.
func (m *Monitor) Status(owner symbol.OwnerID) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok {
		return Status{}, false
	}
	return m.statusLocked(owner, st), true
}

// Stable reports whether owner is known and Stable.
func (m *Monitor) Stable(owner symbol.OwnerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	return ok && st.state == StateStable
}

// Owners returns the status of every known owner.
func (m *Monitor) Owners() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.owners))
	for o, st := range m.owners {
		out = append(out, m.statusLocked(o, st))
	}
	return out
}

func (m *Monitor) statusLocked(owner symbol.OwnerID, st *ownerState) Status {
	s := Status{Owner: owner, State: st.state, Attempts: st.attempts, Degraded: st.degraded, Err: st.err, Gen: st.gen}
	if st.state != StateStable {
		s.StartedAt = st.startedAt
	}
	return s
}

func (m *Monitor) setLocked(st *ownerState, to State) {
	if !st.state.canMoveTo(to) {
		// unreachable with the table above; keep the owner moving
		m.log.Error("invalid stability transition", zap.Stringer("from", st.state), zap.Stringer("to", to))
	}
	st.state = to
}

// verify runs one Hibernating -> Verifying -> Stable cycle.
func (m *Monitor) verify(owner symbol.OwnerID, gen uint64, stop <-chan struct{}, timeout time.Duration) {
	defer m.wg.Done()

	if !m.advance(owner, gen, func(st *ownerState) { m.setLocked(st, StateVerifying) }) {
		return
	}

	ticker := time.NewTicker(m.opt.PollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		err := symbol.Guard(symbol.ErrVerificationTimeout, func() error { return m.probe(owner) })
		if err == nil {
			m.stabilize(owner, gen, nil)
			return
		}
		lastErr = err
		m.opt.Metrics.ProbeFailed()

		var expired bool
		if !m.advance(owner, gen, func(st *ownerState) {
			m.setLocked(st, StateVerifying)
			st.attempts++
			expired = time.Since(st.startedAt) >= timeout
		}) {
			return
		}
		if expired {
			m.stabilize(owner, gen, fmt.Errorf("forced stable after %s: %w", timeout, lastErr))
			return
		}
	}
}

// advance applies fn if gen is still owner's current cycle.
func (m *Monitor) advance(owner symbol.OwnerID, gen uint64, fn func(*ownerState)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok || st.gen != gen || m.closed {
		return false
	}
	fn(st)
	return true
}

// stabilize moves owner to Stable and runs OnStable, unless the cycle was
// superseded. OnStable runs without cycleMu so hibernation never waits on
// a capture.
func (m *Monitor) stabilize(owner symbol.OwnerID, gen uint64, cause error) {
	degraded := cause != nil
	var hibernated time.Duration
	if !m.advance(owner, gen, func(st *ownerState) {
		m.setLocked(st, StateStable)
		st.degraded, st.err = degraded, cause
		hibernated = time.Since(st.startedAt)
		st.stop = nil
	}) {
		return
	}

	m.opt.Metrics.Stabilized(degraded, hibernated)
	if degraded {
		m.log.Warn("owner forced stable", zap.String("owner", string(owner)), zap.Error(cause))
	} else {
		m.log.Debug("owner stable", zap.String("owner", string(owner)), zap.Duration("hibernated", hibernated))
	}
	if m.opt.OnStable != nil {
		m.opt.OnStable(owner, degraded)
	}
}
