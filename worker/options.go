package worker

import (
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

const (
	DefaultWorkers    = 4
	DefaultQueueLimit = 4096
)

// ErrQueueFull is recorded as the failure cause of a task that could not be
// queued.
var ErrQueueFull = errors.New("worker: queue full")

// RenderFunc renders a snapshot at size. It must not touch host objects.
type RenderFunc func(snap *snapshot.Snapshot, size symbol.Size) (image.Image, error)

// Metrics receives pool events. Implementations must be fast and
// goroutine-safe.
type Metrics interface {
	Submitted()
	Completed(d time.Duration)
	Failed()
	Discarded()
	QueueDepth(n int)
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) Submitted()              {}
func (NoopMetrics) Completed(time.Duration) {}
func (NoopMetrics) Failed()                 {}
func (NoopMetrics) Discarded()              {}
func (NoopMetrics) QueueDepth(int)          {}

// Options configures a Pool. The zero value is valid.
type Options struct {
	// Workers is the number of generation goroutines (default 4).
	Workers int
	// QueueLimit bounds queued tasks (default 4096). Tasks beyond it fail
	// with ErrQueueFull.
	QueueLimit int
	// Render defaults to snapshot.Render.
	Render RenderFunc
	// OnReady is called from a worker goroutine after a result was stored.
	// It must not block.
	OnReady func(k symbol.Key)
	Metrics Metrics
	Logger  *zap.Logger
}
