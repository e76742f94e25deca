package cache

import "image"

// State is the lifecycle state of a cache entry.
//
//	Placeholder -> Pending -> Ready
//	     |            |
//	     +------------+-----> Failed
//
// Put may overwrite any state with Ready.
type State uint8

const (
	StatePlaceholder State = iota
	StatePending
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// transitions lists the states reachable from each state through the
// generation path (Put bypasses it).
var transitions = [...][]State{
	StatePlaceholder: {StatePending, StateReady, StateFailed},
	StatePending:     {StateReady, StateFailed},
	StateReady:       {StateReady},
	StateFailed:      {StateReady},
}

func (s State) canMoveTo(to State) bool {
	if int(s) >= len(transitions) {
		return false
	}
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Entry is the value served for a key. Image is set only when State is
// StateReady and is never mutated once stored. Err is set only for
// StateFailed.
type Entry struct {
	State State
	Image image.Image
	Err   error
	// Epoch is the owner epoch the entry was created or produced under.
	Epoch uint64
}

// Ready reports whether the entry carries a usable image.
func (e Entry) Ready() bool { return e.State == StateReady && e.Image != nil }

// placeholder is what Get serves for an absent key.
func placeholder(epoch uint64) Entry { return Entry{State: StatePlaceholder, Epoch: epoch} }
