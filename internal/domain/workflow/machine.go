package workflow

import (
	"context"
	"fmt"
)

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// Fire executes the trigger. It returns false when the trigger was ignored.
	Fire(ctx context.Context, trigger Trigger) (bool, error)
}

type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	config, exists := m.configurations[m.currentState]
	if !exists {
		return false, fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, m.currentState)
	}

	if config.ignored[trigger] {
		return false, nil
	}

	to, exists := config.transitions[trigger]
	if !exists {
		return false, fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}

	m.currentState = to
	return true, nil
}
