package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Submitted uint64 // accepted into the queue
	Rejected  uint64 // malformed snapshot, queue full or closed
	Completed uint64 // stored as Ready
	Failed    uint64 // stored as Failed
	Discarded uint64 // result dropped by the epoch check
	Queued    int
}

// Pool is the generation worker pool.
type Pool struct {
	store cache.Store
	opt   Options
	log   *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue
	closed bool

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

// New returns a Pool writing results to store. Call Start to run workers;
// tasks submitted before Start wait in the queue.
func New(store cache.Store, opt Options) *Pool {
	if opt.Workers <= 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.QueueLimit <= 0 {
		opt.QueueLimit = DefaultQueueLimit
	}
	if opt.Render == nil {
		opt.Render = snapshot.Render
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	p := &Pool{
		store: store,
		opt:   opt,
		log:   opt.Logger.Named("worker"),
		q:     newQueue(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. It returns an error if called twice. Workers
// exit when ctx is cancelled or Close is called.
func (p *Pool) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return errors.New("worker: pool already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	stop := context.AfterFunc(ctx, p.shutdown)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opt.Workers; i++ {
		g.Go(func() error { return p.run(gctx) })
	}
	go func() {
		_ = g.Wait()
		stop()
		close(p.done)
	}()
	p.log.Debug("pool started", zap.Int("workers", p.opt.Workers))
	return nil
}

// Close stops the workers and waits for them. Queued tasks are dropped;
// their entries are rebuilt after the next invalidation. Idempotent.
func (p *Pool) Close() error {
	p.shutdown()
	p.startMu.Lock()
	cancel, done := p.cancel, p.done
	p.startMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Submit queues a task and returns immediately. It reports whether the task
// was queued (or merged into a queued task for the same key). A task that
// cannot be queued marks its entry Failed.
func (p *Pool) Submit(t Task) bool {
	if err := t.Snap.Verify(); err != nil {
		p.reject(t, err)
		return false
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.rejected.Add(1)
		return false
	}
	if _, queued := p.q.byKey[t.Key]; !queued && p.q.len() >= p.opt.QueueLimit {
		p.mu.Unlock()
		p.reject(t, ErrQueueFull)
		return false
	}
	tc := t
	p.q.push(&tc)
	depth := p.q.len()
	p.cond.Signal()
	p.mu.Unlock()

	p.submitted.Add(1)
	p.opt.Metrics.Submitted()
	p.opt.Metrics.QueueDepth(depth)
	return true
}

// Stats returns a point-in-time copy of the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := p.q.len()
	p.mu.Unlock()
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
		Queued:    queued,
	}
}

func (p *Pool) reject(t Task, cause error) {
	p.rejected.Add(1)
	err := fmt.Errorf("%w: %w", symbol.ErrGenerationFailed, cause)
	if p.store.Fail(t.Key, err, t.Epoch) {
		p.failed.Add(1)
		p.opt.Metrics.Failed()
	}
	p.log.Warn("task rejected", zap.Stringer("key", t.Key), zap.Error(err))
}

// next blocks until a task is available or the pool is closed.
func (p *Pool) next(ctx context.Context) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.q.len() == 0 {
		if p.closed || ctx.Err() != nil {
			return nil
		}
		p.cond.Wait()
	}
	if p.closed || ctx.Err() != nil {
		return nil
	}
	t := p.q.pop()
	p.opt.Metrics.QueueDepth(p.q.len())
	return t
}

func (p *Pool) run(ctx context.Context) error {
	for {
		t := p.next(ctx)
		if t == nil {
			return nil
		}
		p.process(t)
	}
}

// process renders one task. A failing or panicking render only affects
// its own key.
func (p *Pool) process(t *Task) {
	start := time.Now()
	var img image.Image
	err := symbol.Guard(symbol.ErrGenerationFailed, func() error {
		var err error
		img, err = p.opt.Render(t.Snap, t.Key.Size)
		if err == nil && img == nil {
			err = errors.New("render returned no image")
		}
		return err
	})

	if err != nil {
		if p.store.Fail(t.Key, err, t.Epoch) {
			p.failed.Add(1)
			p.opt.Metrics.Failed()
			p.log.Warn("generation failed", zap.Stringer("key", t.Key), zap.Error(err))
		} else {
			p.discard(t)
		}
		return
	}

	if !p.store.Complete(t.Key, img, t.Epoch) {
		p.discard(t)
		return
	}
	p.completed.Add(1)
	p.opt.Metrics.Completed(time.Since(start))
	if p.opt.OnReady != nil {
		p.opt.OnReady(t.Key)
	}
}

func (p *Pool) discard(t *Task) {
	p.discarded.Add(1)
	p.opt.Metrics.Discarded()
	p.log.Debug("stale result discarded", zap.Stringer("key", t.Key), zap.Uint64("epoch", t.Epoch))
}
