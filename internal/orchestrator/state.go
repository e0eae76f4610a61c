package orchestrator

import "fmt"

// State is a position in the round-trip state machine.
type State string

const (
	StateIdle               State = "Idle"
	StateWaitingReady       State = "WaitingReady"
	StateSourcePrepared     State = "SourcePrepared"
	StateSnapshotCreated    State = "SnapshotCreated"
	StateSnapshotDownloaded State = "SnapshotDownloaded"
	StateRecoveringBoth     State = "RecoveringBoth"
	StateVerified           State = "Verified"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
)

var next = map[State]State{
	StateIdle:               StateWaitingReady,
	StateWaitingReady:       StateSourcePrepared,
	StateSourcePrepared:     StateSnapshotCreated,
	StateSnapshotCreated:    StateSnapshotDownloaded,
	StateSnapshotDownloaded: StateRecoveringBoth,
	StateRecoveringBoth:     StateVerified,
	StateVerified:           StateDone,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether the machine may move from s to to.
// Failed is reachable from every non-terminal state.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[s] == to
}

// StepError records which step failed and the state the run was trying to reach.
type StepError struct {
	Step  string
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.Step, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
