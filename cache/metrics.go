package cache

// Metrics exposes store-level observability hooks.
// A NoopMetrics implementation is used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Invalidate(removed int)
	Size(entries int, bytes int64)
}

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Evict(EvictReason)             {}
func (NoopMetrics) Invalidate(int)                {}
func (NoopMetrics) Size(entries int, bytes int64) {}

var _ Metrics = NoopMetrics{}
