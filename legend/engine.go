package legend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/internal/singleflight"
	"github.com/IvanBrykalov/legendcache/render"
	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/stability"
	"github.com/IvanBrykalov/legendcache/symbol"
	"github.com/IvanBrykalov/legendcache/worker"
)

// Hidden is returned by Paint for owners that are not drawn.
const Hidden = ""

// errSuperseded reports a capture discarded because its owner changed.
var errSuperseded = errors.New("legend: owner changed during capture")

// Re-exported change kinds for NotifyOwnerChanged.
const (
	ChangeGeneral = stability.ChangeGeneral
	ChangeStyle   = stability.ChangeStyle
	ChangeReload  = stability.ChangeReload
)

// Stats aggregates component counters.
type Stats struct {
	Cache   cache.Stats
	Pool    worker.Stats
	Capture snapshot.Stats
	Notify  NotifyStats
	Owners  int
}

// catalog is an owner's captured symbols, in host order.
type catalog struct {
	keys  []symbol.Key
	snaps map[symbol.Key]*snapshot.Snapshot
}

// Engine is the legend symbol cache core.
type Engine struct {
	host Host
	opt  Options
	log  *zap.Logger

	store    cache.Store
	pool     *worker.Pool
	monitor  *stability.Monitor
	pipeline *render.Pipeline
	capturer *snapshot.Capturer
	notify   *notifier
	flight   singleflight.Group[symbol.OwnerID, int]

	mu       sync.RWMutex
	catalogs map[symbol.OwnerID]*catalog
	painted  map[symbol.OwnerID]struct{}

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	once    sync.Once
}

// New builds an Engine around host. Call Start to begin generating.
func New(host Host, opt Options) (*Engine, error) {
	if host == nil {
		return nil, errors.New("legend: nil host")
	}
	if opt.NotifyBuffer <= 0 {
		opt.NotifyBuffer = DefaultNotifyBuffer
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	e := &Engine{
		host:     host,
		opt:      opt,
		log:      opt.Logger.Named("legend"),
		capturer: snapshot.NewCapturer(opt.Logger),
		catalogs: make(map[symbol.OwnerID]*catalog),
		painted:  make(map[symbol.OwnerID]struct{}),
	}
	e.notify = newNotifier(opt.NotifyBuffer, opt.Metrics.NotifyDropped)

	e.store = cache.New(cache.Options{
		Capacity:      opt.Capacity,
		Shards:        opt.Shards,
		MaxAge:        opt.MaxAge,
		SweepInterval: opt.SweepInterval,
		MaxBytes:      opt.MaxBytes,
		Schedule:      e.schedule,
		Metrics:       opt.Metrics,
		Logger:        opt.Logger,
	})
	e.pool = worker.New(e.store, worker.Options{
		Workers:    opt.Workers,
		QueueLimit: opt.QueueLimit,
		OnReady:    func(k symbol.Key) { e.notify.post(event{kind: eventReady, key: k, owner: k.Owner}) },
		Metrics:    opt.Metrics,
		Logger:     opt.Logger,
	})
	e.monitor = stability.New(host.Probe, stability.Options{
		PollInterval: opt.PollInterval,
		Timeout:      opt.StabilityTimeout,
		OnHibernate:  e.hibernate,
		OnStable:     e.stabilized,
		Metrics:      opt.Metrics,
		Logger:       opt.Logger,
	})
	e.pipeline = render.NewPipeline(
		render.Options{Metrics: opt.Metrics, Logger: opt.Logger},
		&render.CacheLevel{Store: e.store, Spacing: render.DefaultSpacing},
		&render.LegacyLevel{Host: host, Spacing: render.DefaultSpacing},
	)
	return e, nil
}

// Start launches the workers, the monitor and the coordination goroutine.
// It returns an error if called twice.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return errors.New("legend: engine already started")
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	e.monitor.Start(ctx)

	e.loopWG.Add(1)
	go e.loop(ctx)
	e.log.Info("engine started")
	return nil
}

// Close stops every component. Idempotent.
func (e *Engine) Close() error {
	e.once.Do(func() {
		_ = e.monitor.Close()
		_ = e.pool.Close()
		e.startMu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.startMu.Unlock()
		e.loopWG.Wait()
		_ = e.store.Close()
		e.log.Info("engine closed")
	})
	return nil
}

// Track registers owner as Stable and captures its symbols on the calling
// goroutine. Tracking a known owner is a no-op.
func (e *Engine) Track(owner symbol.OwnerID) error {
	if !e.monitor.Track(owner) {
		return nil
	}
	_, err := e.populate(owner)
	if errors.Is(err, errSuperseded) {
		// the owner changed meanwhile; its next Stable hand-off captures it
		return nil
	}
	return err
}

// NotifyOwnerChanged hibernates owner: nothing of it is read or drawn until
// it is Stable again. kind defaults to ChangeGeneral.
func (e *Engine) NotifyOwnerChanged(owner symbol.OwnerID, kind ...stability.ChangeKind) {
	k := stability.ChangeGeneral
	if len(kind) > 0 {
		k = kind[0]
	}
	e.monitor.NotifyChanged(owner, k)
}

// NotifyOwnerRemoved forgets owner entirely.
func (e *Engine) NotifyOwnerRemoved(owner symbol.OwnerID) {
	// monitor first: its Stable hand-off takes e.mu
	e.monitor.Remove(owner)
	e.mu.Lock()
	delete(e.catalogs, owner)
	delete(e.painted, owner)
	e.mu.Unlock()
	e.flight.Forget(owner)
	n := e.store.Forget(owner)
	e.log.Debug("owner removed", zap.String("owner", string(owner)), zap.Int("entries", n))
}

// Invalidate drops owner's cached images; they are regenerated from the
// captured snapshots on the next read.
func (e *Engine) Invalidate(owner symbol.OwnerID) int { return e.store.Invalidate(owner) }

// InvalidateAll drops every cached image.
func (e *Engine) InvalidateAll() int { return e.store.InvalidateAll() }

// QueryImage returns the cached entry for k, scheduling generation on a
// miss. It never blocks.
func (e *Engine) QueryImage(k symbol.Key) cache.Entry { return e.store.Get(k) }

// PeekImage returns the entry for k without scheduling or promotion.
func (e *Engine) PeekImage(k symbol.Key) (cache.Entry, bool) { return e.store.Peek(k) }

// Items returns owner's catalogued keys in host order.
func (e *Engine) Items(owner symbol.OwnerID) []symbol.Key {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cat := e.catalogs[owner]
	if cat == nil {
		return nil
	}
	return append([]symbol.Key(nil), cat.keys...)
}

// State returns owner's stability status.
func (e *Engine) State(owner symbol.OwnerID) (stability.Status, bool) {
	return e.monitor.Status(owner)
}

// Owners returns the stability status of every known owner.
func (e *Engine) Owners() []stability.Status { return e.monitor.Owners() }

// Paint draws owner's symbols into place through the render pipeline and
// returns the level that served, or Hidden for owners that are unknown or
// not Stable.
func (e *Engine) Paint(c render.Canvas, owner symbol.OwnerID, place image.Rectangle) string {
	// hibernate drops the catalog under e.mu after the monitor has left
	// Stable, so the state and the catalog are read together here
	e.mu.Lock()
	st, ok := e.monitor.Status(owner)
	if !ok || st.State != stability.StateStable {
		e.mu.Unlock()
		return Hidden
	}
	cat := e.catalogs[owner]
	e.painted[owner] = struct{}{}
	e.mu.Unlock()

	req := render.Request{Owner: owner, Place: place, Degraded: st.Degraded}
	if cat != nil {
		req.Keys, req.Cataloged = cat.keys, true
	}
	return e.pipeline.Draw(c, req)
}

// Stats returns aggregated counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Cache:   e.store.Stats(),
		Pool:    e.pool.Stats(),
		Capture: e.capturer.Stats(),
		Notify:  e.notify.stats(),
		Owners:  len(e.monitor.Owners()),
	}
}

// ---- component callbacks ----

// schedule is the store's miss hook: it queues generation from the
// owner's captured snapshot.
func (e *Engine) schedule(k symbol.Key, epoch uint64) {
	e.mu.RLock()
	var snap *snapshot.Snapshot
	if cat := e.catalogs[k.Owner]; cat != nil {
		snap = cat.snaps[k]
	}
	_, visible := e.painted[k.Owner]
	e.mu.RUnlock()

	if snap == nil {
		e.store.Fail(k, fmt.Errorf("%w: %s", symbol.ErrNoSnapshot, k), epoch)
		return
	}
	if !e.store.MarkPending(k, epoch) {
		return
	}
	prio := 0
	if visible {
		prio = 1
	}
	e.pool.Submit(worker.Task{Key: k, Snap: snap, Epoch: epoch, Priority: prio})
}

// hibernate runs synchronously inside NotifyOwnerChanged.
func (e *Engine) hibernate(owner symbol.OwnerID) {
	e.mu.Lock()
	delete(e.catalogs, owner)
	e.mu.Unlock()
	// a capture still running belongs to the old cycle; the next populate
	// must not join it
	e.flight.Forget(owner)
	e.store.Invalidate(owner)
	e.notify.post(event{kind: eventRedraw, owner: owner})
}

// stabilized runs on the monitor goroutine when owner is Stable again.
// Degraded owners are drawn by the legacy level and are not captured.
func (e *Engine) stabilized(owner symbol.OwnerID, degraded bool) {
	if !degraded {
		if _, err := e.populate(owner); err != nil && !errors.Is(err, errSuperseded) {
			e.log.Warn("populate failed", zap.String("owner", string(owner)), zap.Error(err))
		}
	}
	e.notify.post(event{kind: eventRedraw, owner: owner})
}

// populate enumerates and captures owner's symbols, replaces its catalog,
// clears its cache entries and prefetches every key. Concurrent calls for
// one owner share a single run. The result is installed only if the owner
// stayed Stable in the same cycle throughout; otherwise errSuperseded.
func (e *Engine) populate(owner symbol.OwnerID) (int, error) {
	n, err, _ := e.flight.Do(context.Background(), owner, func() (int, error) {
		st, ok := e.monitor.Status(owner)
		if !ok {
			return 0, symbol.ErrOwnerRemoved
		}
		if st.State != stability.StateStable || st.Degraded {
			return 0, errSuperseded
		}
		gen := st.Gen

		var items []symbol.Item
		err := symbol.Guard(symbol.ErrCaptureFailed, func() error {
			var err error
			items, err = e.host.EnumerateSymbols(owner)
			return err
		})
		if err != nil {
			return 0, err
		}
		// descriptors of a superseded cycle may already be dead
		if err := e.current(owner, gen); err != nil {
			return 0, err
		}

		cat := &catalog{
			keys:  make([]symbol.Key, 0, len(items)),
			snaps: make(map[symbol.Key]*snapshot.Snapshot, len(items)),
		}
		for _, it := range items {
			snap := e.capturer.Capture(it.Descriptor, it.Size)
			k := snap.Key(owner)
			cat.keys = append(cat.keys, k)
			cat.snaps[k] = snap
		}

		// e.mu then monitor.mu: hibernate cannot slip in between the check
		// and the install
		e.mu.Lock()
		if err := e.current(owner, gen); err != nil {
			e.mu.Unlock()
			return 0, err
		}
		e.catalogs[owner] = cat
		e.mu.Unlock()

		// entries created while the catalog was missing are failures with
		// ErrNoSnapshot; start the owner over from its new snapshots
		e.store.Invalidate(owner)
		for _, k := range cat.keys {
			e.store.Get(k)
		}
		return len(cat.keys), nil
	})
	return n, err
}

// current reports errSuperseded unless owner is still Stable in cycle gen.
func (e *Engine) current(owner symbol.OwnerID, gen uint64) error {
	st, ok := e.monitor.Status(owner)
	switch {
	case !ok:
		return symbol.ErrOwnerRemoved
	case st.State != stability.StateStable || st.Gen != gen:
		return errSuperseded
	}
	return nil
}

// ---- coordination goroutine ----

func (e *Engine) loop(ctx context.Context) {
	defer e.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.notify.ch:
			e.dispatch(e.drain(ev))
		case <-e.notify.kick:
		}
		if e.notify.overflow.Swap(false) {
			e.redrawAll()
		}
	}
}

// drain collects ev and everything already queued behind it.
func (e *Engine) drain(ev event) []event {
	batch := []event{ev}
	for {
		select {
		case ev := <-e.notify.ch:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// dispatch reports ready keys and issues at most one Redraw per owner.
func (e *Engine) dispatch(batch []event) {
	redraw := make(map[symbol.OwnerID]struct{})
	for _, ev := range batch {
		switch ev.kind {
		case eventReady:
			if e.opt.OnSymbolReady != nil {
				e.opt.OnSymbolReady(ev.key)
			}
			if e.visible(ev.key) {
				redraw[ev.owner] = struct{}{}
			}
		case eventRedraw:
			redraw[ev.owner] = struct{}{}
		}
	}
	if e.opt.Redraw == nil {
		return
	}
	for owner := range redraw {
		e.opt.Redraw(owner)
	}
}

// visible reports whether k belongs to a painted, Stable owner's catalog.
func (e *Engine) visible(k symbol.Key) bool {
	if !e.monitor.Stable(k.Owner) {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.painted[k.Owner]; !ok {
		return false
	}
	cat := e.catalogs[k.Owner]
	return cat != nil && cat.snaps[k] != nil
}

func (e *Engine) redrawAll() {
	if e.opt.Redraw == nil {
		return
	}
	e.mu.RLock()
	owners := make([]symbol.OwnerID, 0, len(e.painted))
	for o := range e.painted {
		owners = append(owners, o)
	}
	e.mu.RUnlock()
	e.log.Debug("notification overflow, redrawing all", zap.Int("owners", len(owners)))
	for _, o := range owners {
		e.opt.Redraw(o)
	}
}
