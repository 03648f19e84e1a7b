package a2a

import "fmt"

// State is the lifecycle state of a task.
type State string

const (
	StateSubmitted     State = "SUBMITTED"
	StateWorking       State = "WORKING"
	StateInputRequired State = "INPUT_REQUIRED"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
	StateCanceled      State = "CANCELED"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// transitions holds the allowed state-machine edges. Terminal states have
// no outgoing edges.
var transitions = map[State][]State{
	StateSubmitted:     {StateWorking, StateCanceled},
	StateWorking:       {StateInputRequired, StateCompleted, StateFailed, StateCanceled},
	StateInputRequired: {StateWorking, StateCanceled},
}

// CanTransition reports whether the edge from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted edge outside the state machine.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task state transition %s -> %s", e.From, e.To)
}
