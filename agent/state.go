package agent

import (
	"sync/atomic"

	"github.com/gluenet/agentmesh"
)

// State is the bootstrap progression. It only moves forward.
type State int32

const (
	StateInit State = iota
	StateKeyLoaded
	StateAddressKnown
	StateIdentityConfirmed
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateKeyLoaded:
		return "KEY_LOADED"
	case StateAddressKnown:
		return "ADDRESS_KNOWN"
	case StateIdentityConfirmed:
		return "IDENTITY_CONFIRMED"
	case StateReady:
		return "READY"
	}
	return "UNKNOWN"
}

type stateTracker struct {
	v atomic.Int32
}

func newStateTracker() *stateTracker {
	return &stateTracker{}
}

func (t *stateTracker) current() State {
	return State(t.v.Load())
}

func (t *stateTracker) advance(to State) {
	t.v.Store(int32(to))
}

func (t *stateTracker) require(want State) error {
	if got := t.current(); got < want {
		return agentmesh.Ef(agentmesh.KindInvalidArgument,
			"agent is %s, operation needs %s", got, want)
	}
	return nil
}
