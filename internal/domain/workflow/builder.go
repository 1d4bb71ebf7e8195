package workflow

import "fmt"

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) (StateMachine, error)
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// Ignore accepts a trigger without changing state
	Ignore(trigger Trigger) StateConfiguration
}

type stateConfig struct {
	fromState   State
	transitions map[Trigger]State
	ignored     map[Trigger]bool
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state.
// It panics on an unknown state, which is a programming error.
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(map[Trigger]State),
			ignored:     make(map[Trigger]bool),
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine with its own copy of the configuration.
// Initial states come from persisted rows, so an unknown one is reported rather than panicking.
func (b *stateMachineBuilder) Build(initialState State) (StateMachine, error) {
	if !initialState.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, initialState)
	}

	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitions := make(map[Trigger]State, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		ignored := make(map[Trigger]bool, len(config.ignored))
		for trigger := range config.ignored {
			ignored[trigger] = true
		}
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: transitions,
			ignored:     ignored,
		}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configsCopy,
	}, nil
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = toState
	delete(c.ignored, trigger)
	return c
}

// Ignore accepts a trigger as a no-op in this state
func (c *stateConfig) Ignore(trigger Trigger) StateConfiguration {
	c.ignored[trigger] = true
	delete(c.transitions, trigger)
	return c
}
