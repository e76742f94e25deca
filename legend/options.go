package legend

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/render"
	"github.com/IvanBrykalov/legendcache/stability"
	"github.com/IvanBrykalov/legendcache/symbol"
	"github.com/IvanBrykalov/legendcache/worker"
)

// DefaultNotifyBuffer is the capacity of the ready-notification queue.
const DefaultNotifyBuffer = 256

// Host is the data-extraction collaborator.
type Host interface {
	// EnumerateSymbols lists the owner's symbols. It is only called while
	// the owner is Stable (or from the legacy render level).
	EnumerateSymbols(owner symbol.OwnerID) ([]symbol.Item, error)
	// Probe performs a cheap read of the owner's host object.
	Probe(owner symbol.OwnerID) error
}

// Metrics is the union of every component's metrics plus notification
// drops. metrics/prom.Adapter implements it.
type Metrics interface {
	cache.Metrics
	worker.Metrics
	stability.Metrics
	render.Metrics
	NotifyDropped()
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                           {}
func (NoopMetrics) Miss()                          {}
func (NoopMetrics) Evict(cache.EvictReason)        {}
func (NoopMetrics) Invalidate(int)                 {}
func (NoopMetrics) Size(entries int, bytes int64)  {}
func (NoopMetrics) Submitted()                     {}
func (NoopMetrics) Completed(time.Duration)        {}
func (NoopMetrics) Failed()                        {}
func (NoopMetrics) Discarded()                     {}
func (NoopMetrics) QueueDepth(int)                 {}
func (NoopMetrics) Hibernated()                    {}
func (NoopMetrics) ProbeFailed()                   {}
func (NoopMetrics) Stabilized(bool, time.Duration) {}
func (NoopMetrics) LevelServed(string)             {}
func (NoopMetrics) LevelFailed(string)             {}
func (NoopMetrics) NotifyDropped()                 {}

var _ Metrics = NoopMetrics{}

// Options configures an Engine. The zero value is valid.
type Options struct {
	// Cache.
	Capacity      int           // default 1000
	Shards        int           // default 1
	MaxAge        time.Duration // 0 disables age eviction
	SweepInterval time.Duration
	MaxBytes      int64

	// Generation.
	Workers    int // default 4
	QueueLimit int // default 4096

	// Stability.
	PollInterval     time.Duration // default 200ms
	StabilityTimeout time.Duration // default 5s

	// NotifyBuffer bounds queued ready notifications (default 256). When it
	// is full notifications are dropped and a full redraw is issued.
	NotifyBuffer int

	// OnSymbolReady is called on the coordination goroutine for every
	// generated key.
	OnSymbolReady func(k symbol.Key)
	// Redraw is called on the coordination goroutine when a painted owner
	// has new images or returned to Stable.
	Redraw func(owner symbol.OwnerID)

	Metrics Metrics
	Logger  *zap.Logger
}
