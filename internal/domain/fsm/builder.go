package fsm

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// Builder builds a configured state machine
type Builder interface {
	// Terminal marks states as absorbing. Configuring transitions out of them panics.
	Terminal(states ...State) Builder

	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) (StateMachine, error)
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	builder     *builder
	fromState   State
	transitions map[Trigger][]transition
}

type builder struct {
	states         map[State]bool
	terminal       map[State]bool
	configurations map[State]*stateConfig
}

type stateMachine struct {
	currentState   State
	terminal       map[State]bool
	configurations map[State]*stateConfig
}

// NewBuilder creates a builder whose machines may only occupy the given states
func NewBuilder(states ...State) Builder {
	b := &builder{
		states:         make(map[State]bool, len(states)),
		terminal:       make(map[State]bool),
		configurations: make(map[State]*stateConfig),
	}
	for _, s := range states {
		b.states[s] = true
	}
	return b
}

func (b *builder) Terminal(states ...State) Builder {
	for _, s := range states {
		if !b.states[s] {
			panic(fmt.Sprintf("invalid terminal state: %s", s))
		}
		if _, configured := b.configurations[s]; configured {
			panic(fmt.Sprintf("terminal state %s already has transitions", s))
		}
		b.terminal[s] = true
	}
	return b
}

func (b *builder) Configure(state State) StateConfiguration {
	if !b.states[state] {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if b.terminal[state] {
		panic(fmt.Sprintf("cannot configure transitions out of terminal state %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder:     b,
			fromState:   state,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[state] = config
	}

	return config
}

// Build copies the configuration so later builder changes do not leak into machines
func (b *builder) Build(initialState State) (StateMachine, error) {
	if !b.states[initialState] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, initialState)
	}

	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitionsCopy := make(map[Trigger][]transition, len(config.transitions))
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition{}, transitions...)
		}
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: transitionsCopy,
		}
	}

	terminalCopy := make(map[State]bool, len(b.terminal))
	for s := range b.terminal {
		terminalCopy[s] = true
	}

	return &stateMachine{
		currentState:   initialState,
		terminal:       terminalCopy,
		configurations: configsCopy,
	}, nil
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !c.builder.states[toState] {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) IsTerminal() bool {
	return m.terminal[m.currentState]
}

// CanFire does not evaluate guards; it only reports whether a transition is configured
func (m *stateMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}

	transitions, exists := config.transitions[trigger]
	return exists && len(transitions) > 0
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, m.currentState)
	}

	transitions, exists := config.transitions[trigger]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}

	// first transition whose guard passes wins
	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}
