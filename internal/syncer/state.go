package syncer

import (
	"errors"
	"fmt"
)

// State is the life-cycle position of one tracked shift.
type State int

const (
	StateDisabled State = iota
	StateReady
	StateAdding
	StateSynced
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateReady:
		return "ready"
	case StateAdding:
		return "adding"
	case StateSynced:
		return "synced"
	case StateDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Busy reports whether a remote operation is in flight.
func (s State) Busy() bool {
	return s == StateAdding || s == StateDeleting
}

// Event drives a State transition.
type Event int

const (
	// EventEvaluate re-derives the state after the shift was loaded or edited.
	EventEvaluate Event = iota
	// EventTrigger is a user request to add or delete.
	EventTrigger
	// EventSucceed settles the in-flight operation successfully.
	EventSucceed
	// EventFail settles the in-flight operation with an error.
	EventFail
)

var (
	// ErrNotActionable is returned when a shift cannot take the requested action
	// in its current state, including while another operation is in flight.
	ErrNotActionable = errors.New("shift is not actionable in its current state")
	// ErrBusy is returned when a shift is edited while an operation is in flight.
	ErrBusy = errors.New("shift has an operation in flight")
	// ErrDuplicateShift is returned when an edit would give a row the key of
	// another tracked shift.
	ErrDuplicateShift = errors.New("shift is already tracked")
	// ErrUnknownHandle is returned for handles the registry never issued.
	ErrUnknownHandle = errors.New("unknown shift handle")
)

// Next is the transition function. complete tells whether both times of the
// shift are known and stored whether the sync state holds an event for its key.
func Next(cur State, ev Event, complete, stored bool) (State, error) {
	switch ev {
	case EventEvaluate:
		if cur.Busy() {
			return cur, ErrBusy
		}
		switch {
		case stored:
			return StateSynced, nil
		case complete:
			return StateReady, nil
		default:
			return StateDisabled, nil
		}

	case EventTrigger:
		switch cur {
		case StateReady:
			return StateAdding, nil
		case StateSynced:
			return StateDeleting, nil
		}

	case EventSucceed:
		switch cur {
		case StateAdding:
			return StateSynced, nil
		case StateDeleting:
			return StateReady, nil
		}

	case EventFail:
		switch cur {
		case StateAdding:
			return StateReady, nil
		case StateDeleting:
			return StateSynced, nil
		}
	}
	return cur, fmt.Errorf("%w: %s cannot handle event %d", ErrNotActionable, cur, ev)
}
