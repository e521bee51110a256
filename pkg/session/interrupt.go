package session

import (
	"context"
	"log/slog"
	"sync"
)

// InterruptionHandler guarantees at most one in-flight agent utterance per
// session and discards it the instant the user starts speaking again.
//
// It jointly owns the reply-append step with the state machine: reply text
// reaches the transcript only through CommitReply, which checks for a
// pending interrupt under the same lock the interrupt path takes. A reply
// being generated when the interrupt lands is discarded whole, never
// partially appended.
type InterruptionHandler struct {
	mu         sync.Mutex
	machine    *StateMachine
	transcript *Transcript
	logger     *slog.Logger
	current    *utterance
}

// utterance tracks one in-flight reply (generation plus playback).
type utterance struct {
	turn        *Turn
	cancel      context.CancelFunc
	interrupted bool
}

func newInterruptionHandler(machine *StateMachine, transcript *Transcript, logger *slog.Logger) *InterruptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterruptionHandler{
		machine:    machine,
		transcript: transcript,
		logger:     logger.With("component", "session.interrupt"),
	}
}

// BeginUtterance registers turn as the in-flight utterance. cancel is invoked
// when the user interrupts; the running stage observes it at its next
// suspension point.
func (h *InterruptionHandler) BeginUtterance(turn *Turn, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &utterance{turn: turn, cancel: cancel}
}

// EndUtterance clears the registration for turn once its goroutine is done
// with it. An interrupted turn whose stage is slow to observe cancellation
// may call this after the next turn has already registered; the clear only
// happens while turn is still the registered one, so a stale call never
// unregisters a newer utterance.
func (h *InterruptionHandler) EndUtterance(turn *Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && h.current.turn == turn {
		h.current = nil
	}
}

// NotifyUserSpeechStarted is callable from the activity detector's signal
// path at any time. If a reply is being generated or spoken it cancels the
// in-flight work, marks the turn interrupted, and moves the machine to
// UserSpeaking; in every other state it is a no-op. It never blocks on the
// cancelled stage, which observes cancellation cooperatively.
func (h *InterruptionHandler) NotifyUserSpeechStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.machine.Current()
	if state != StateGenerating && state != StateSpeaking {
		return false
	}
	u := h.current
	if u == nil || u.interrupted {
		return false
	}

	u.interrupted = true
	u.cancel()
	u.turn.setOutcome(OutcomeInterrupted)
	if err := h.machine.Transition(StateUserSpeaking); err != nil {
		h.logger.Debug("interrupt transition rejected", "error", err)
	}

	h.logger.Info("agent utterance interrupted",
		"state", state.String(),
	)
	return true
}

// CommitReply appends the reply as an agent message and moves the machine to
// Speaking, atomically with respect to NotifyUserSpeechStarted. It returns
// false, appending nothing, if the utterance was already interrupted.
func (h *InterruptionHandler) CommitReply(text string) (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	u := h.current
	if u == nil || u.interrupted {
		return Message{}, false
	}

	msg := h.transcript.Append(RoleAgent, text)
	u.turn.setReply(text)
	if err := h.machine.Transition(StateSpeaking); err != nil {
		h.logger.Debug("speaking transition rejected", "error", err)
	}
	return msg, true
}

// Interrupted reports whether the current utterance has been interrupted.
func (h *InterruptionHandler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.current.interrupted
}
