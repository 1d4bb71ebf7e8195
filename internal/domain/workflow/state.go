package workflow

// State represents an invoice lifecycle state
type State string

const (
	StateDraft   State = "Draft"
	StatePending State = "Pending"
	StatePaid    State = "Paid"
)

var validStates = map[State]bool{
	StateDraft:   true,
	StatePending: true,
	StatePaid:    true,
}

var terminalStates = map[State]bool{
	StatePaid: true,
}

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
