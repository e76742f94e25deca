package stability

import (
	"time"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// State is the per-owner stability state.
type State uint8

const (
	StateStable State = iota
	StateHibernating
	StateVerifying
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHibernating:
		return "hibernating"
	case StateVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// transitions is the complete transition table. A change notification
// may arrive in any state and restarts hibernation.
var transitions = [...][3]bool{
	StateStable:      {StateHibernating: true},
	StateHibernating: {StateHibernating: true, StateVerifying: true},
	StateVerifying:   {StateStable: true, StateHibernating: true, StateVerifying: true},
}

func (s State) canMoveTo(to State) bool {
	return int(s) < len(transitions) && int(to) < len(transitions[s]) && transitions[s][to]
}

// ChangeKind classifies a host change notification.
type ChangeKind uint8

const (
	ChangeGeneral ChangeKind = iota
	ChangeStyle
	ChangeReload
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeGeneral:
		return "general"
	case ChangeStyle:
		return "style"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// timeoutScale stretches the verification timeout for heavier changes.
func (k ChangeKind) timeoutScale() time.Duration {
	if k == ChangeReload {
		return 2
	}
	return 1
}

// Status is a snapshot of one owner's state.
type Status struct {
	Owner     symbol.OwnerID
	State     State
	StartedAt time.Time // hibernation start; zero when Stable
	Attempts  int       // failed probes in the current cycle
	Degraded  bool      // last cycle ended by timeout
	Err       error     // wraps symbol.ErrVerificationTimeout when Degraded
	// Gen counts change notifications; a result captured under one Gen is
	// stale once Gen moves.
	Gen uint64
}
