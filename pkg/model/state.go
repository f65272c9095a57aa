package model

// State is the derived queue state of an entry. It is never stored: the
// broker's delivery view and the task backend's completion view are polled
// independently and intersected through Classify.
type State string

const (
	// StateQueued means a broker message exists for the entry and has not
	// yet been delivered to any worker.
	StateQueued State = "QUEUED"

	// StateActive means the message was delivered to a worker but the
	// corresponding task has not reached a terminal state.
	StateActive State = "ACTIVE"

	// StateDone means the task reached a terminal state, whether or not the
	// run info record reports full collection.
	StateDone State = "DONE"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Classify derives the queue state from the two externally observed facts.
// All call sites go through this so the 2x2 truth table is testable without
// a broker. An undelivered message is QUEUED regardless of task state: a
// terminal task for an undelivered message cannot occur under at-most-once
// delivery, and is folded into QUEUED rather than invented as a fourth state.
func Classify(delivered, terminal bool) State {
	switch {
	case !delivered:
		return StateQueued
	case !terminal:
		return StateActive
	default:
		return StateDone
	}
}
