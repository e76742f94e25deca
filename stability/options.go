package stability

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/symbol"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultTimeout      = 5 * time.Second
)

// Probe performs a cheap, side-effect free read of the owner's host object.
// A nil error means the object graph answered normally.
type Probe func(owner symbol.OwnerID) error

// Metrics receives monitor events.
type Metrics interface {
	Hibernated()
	ProbeFailed()
	Stabilized(degraded bool, hibernation time.Duration)
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

func (NoopMetrics) Hibernated()                    {}
func (NoopMetrics) ProbeFailed()                   {}
func (NoopMetrics) Stabilized(bool, time.Duration) {}

// Options configures a Monitor. The zero value is valid.
type Options struct {
	PollInterval time.Duration // default 200ms
	Timeout      time.Duration // default 5s, scaled by ChangeKind

	// OnHibernate runs synchronously inside NotifyChanged, before it
	// returns.
	OnHibernate func(owner symbol.OwnerID)
	// OnStable runs on the monitor goroutine when an owner returns to
	// Stable. It does not block NotifyChanged, so the owner may already be
	// hibernating again when it runs; compare Status.Gen before and after
	// any host access.
	OnStable func(owner symbol.OwnerID, degraded bool)

	Metrics Metrics
	Logger  *zap.Logger
}
