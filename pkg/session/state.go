package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is the turn-taking state of a session.
type State int

const (
	// StateIdle is the initial state before the session loop starts.
	StateIdle State = iota

	// StateListening means the agent is waiting for the user to speak.
	StateListening

	// StateUserSpeaking means speech activity is being captured.
	StateUserSpeaking

	// StateFinalizing means the transcriber is flushing the utterance.
	StateFinalizing

	// StateGenerating means the planner is producing a reply.
	StateGenerating

	// StateSpeaking means synthesized audio is being played back.
	StateSpeaking

	// StateTerminated is the terminal state after session teardown.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening_for_speech"
	case StateUserSpeaking:
		return "user_speaking"
	case StateFinalizing:
		return "finalizing_transcript"
	case StateGenerating:
		return "generating_reply"
	case StateSpeaking:
		return "speaking"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// legalTransitions is the turn-taking transition table. Terminated is
// reachable from every state via Terminate and is not listed here.
var legalTransitions = map[State][]State{
	StateIdle:         {StateListening, StateGenerating},
	StateListening:    {StateUserSpeaking},
	StateUserSpeaking: {StateFinalizing},
	StateFinalizing:   {StateGenerating, StateListening},
	StateGenerating:   {StateSpeaking, StateListening, StateUserSpeaking},
	StateSpeaking:     {StateListening, StateUserSpeaking},
	StateTerminated:   {},
}

// StateMachine sequences the turn-taking states of one session.
// It is goroutine-safe; every accepted transition is logged and reported
// through the optional transition hook.
type StateMachine struct {
	mu           sync.Mutex
	state        State
	logger       *slog.Logger
	onTransition func(from, to State)
}

// NewStateMachine creates a machine in StateIdle.
func NewStateMachine(logger *slog.Logger, onTransition func(from, to State)) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		state:        StateIdle,
		logger:       logger.With("component", "session.state"),
		onTransition: onTransition,
	}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to the target state if the transition table
// allows it. Rejected transitions are logged and returned as errors; the
// state is left unchanged.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !transitionAllowed(from, to) {
		m.mu.Unlock()
		m.logger.Debug("transition rejected", "from", from.String(), "to", to.String())
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	hook := m.onTransition
	m.mu.Unlock()

	m.logger.Info("state transition", "from", from.String(), "to", to.String())
	if hook != nil {
		hook(from, to)
	}
	return nil
}

// Terminate forces the machine into StateTerminated. It is legal from every
// state and idempotent.
func (m *StateMachine) Terminate() {
	m.mu.Lock()
	from := m.state
	if from == StateTerminated {
		m.mu.Unlock()
		return
	}
	m.state = StateTerminated
	hook := m.onTransition
	m.mu.Unlock()

	m.logger.Info("state transition", "from", from.String(), "to", StateTerminated.String())
	if hook != nil {
		hook(from, StateTerminated)
	}
}

func transitionAllowed(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
