package fsm

// State represents a lifecycle state of a workflow, step, batch or item
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Trigger represents an action that can cause a state transition
type Trigger string

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
