package legend

import (
	"sync/atomic"

	"github.com/IvanBrykalov/legendcache/symbol"
)

type eventKind uint8

const (
	eventReady  eventKind = iota // key generated
	eventRedraw                  // owner changed visibility
)

type event struct {
	kind  eventKind
	key   symbol.Key
	owner symbol.OwnerID
}

// NotifyStats counts notification traffic.
type NotifyStats struct {
	Posted  uint64
	Dropped uint64
}

// notifier is a bounded, non-blocking queue from any goroutine to the
// coordination goroutine.
type notifier struct {
	ch       chan event
	kick     chan struct{} // wakes the consumer after an overflow
	overflow atomic.Bool
	posted   atomic.Uint64
	dropped  atomic.Uint64
	onDrop   func()
}

func newNotifier(size int, onDrop func()) *notifier {
	return &notifier{ch: make(chan event, size), kick: make(chan struct{}, 1), onDrop: onDrop}
}

// post never blocks. A dropped event sets the overflow flag, which the
// consumer turns into a full redraw.
func (n *notifier) post(e event) {
	select {
	case n.ch <- e:
		n.posted.Add(1)
	default:
		n.dropped.Add(1)
		n.overflow.Store(true)
		n.onDrop()
		select {
		case n.kick <- struct{}{}:
		default:
		}
	}
}

func (n *notifier) stats() NotifyStats {
	return NotifyStats{Posted: n.posted.Load(), Dropped: n.dropped.Load()}
}
