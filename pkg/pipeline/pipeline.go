// Package pipeline defines the contracts for the voice pipeline stages.
//
// A conversational session is driven by five components: an activity
// detector that signals when the user starts and stops speaking, a
// transcriber that turns speech into text, a response planner that turns a
// transcript into reply text, a synthesizer that turns reply text into
// playable audio, and an optional turn detector that estimates whether the
// speaker has finished their turn.
//
// All network-bound operations take a context.Context and must observe
// cancellation at their next suspension point. Bundled implementations for
// Deepgram, OpenAI, and Cartesia live in pkg/pipeline/bundled; mocks for
// every contract live in mock.go.
package pipeline

import (
	"context"
	"errors"
	"strings"
)

// Common errors returned by pipeline components.
var (
	ErrNotStarted     = errors.New("pipeline: component not started")
	ErrAlreadyStarted = errors.New("pipeline: component already started")
	ErrMissingAPIKey  = errors.New("pipeline: missing API key")
	ErrClosed         = errors.New("pipeline: component closed")
)

// ActivityDetector consumes an audio stream and emits speech boundary
// signals. Callbacks may fire from the detector's own goroutine; register
// them before Start.
type ActivityDetector interface {
	// Start begins processing. ProcessAudio before Start is a no-op.
	Start(ctx context.Context) error

	// ProcessAudio feeds a PCM16 mono frame to the detector.
	ProcessAudio(pcm16 []byte)

	// OnSpeechStart is called when the user starts speaking.
	OnSpeechStart(fn func())

	// OnSpeechEnd is called when the user stops speaking.
	OnSpeechEnd(fn func())

	// Close releases detector resources.
	Close() error
}

// Transcriber converts audio captured while speech is active into text.
type Transcriber interface {
	// Start establishes the upstream connection.
	Start(ctx context.Context) error

	// SendAudio streams a PCM16 mono frame for transcription.
	SendAudio(pcm16 []byte) error

	// OnTranscript is called with incremental transcription results.
	// isFinal marks a segment the service will not revise.
	OnTranscript(fn func(text string, isFinal bool))

	// Finalize flushes the stream and returns the final transcript of the
	// current utterance. An empty string means no speech was recognized.
	Finalize(ctx context.Context) (string, error)

	// Close releases the connection.
	Close() error
}

// PlanMessage is one entry of the conversation history handed to the planner.
type PlanMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// PlanRequest carries everything the planner needs to produce a reply.
type PlanRequest struct {
	// Messages is the conversation history, system message first.
	Messages []PlanMessage

	// Instructions, when set, is an extra directive for this reply only
	// (used for the opening greeting).
	Instructions string

	// Observations are free-text notes accumulated in the session context.
	Observations []string

	// Flags is a snapshot of the session flag map.
	Flags map[string]any
}

// ToolCall is a tool invocation requested by the planner.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Reply is the planner's output for one turn.
type Reply struct {
	// Text is the reply to synthesize. May be empty if the planner only
	// requested tool calls.
	Text string

	// ToolCalls are directives the host should execute.
	ToolCalls []ToolCall

	// Handoff names an agent to hand the session to, or is empty.
	Handoff string
}

// ResponsePlanner produces the agent's reply from the conversation so far.
type ResponsePlanner interface {
	// Plan generates a reply. Implementations must check ctx before
	// returning so an interrupted turn never surfaces a stale reply.
	Plan(ctx context.Context, req PlanRequest) (*Reply, error)

	// Close releases planner resources.
	Close() error
}

// Synthesizer converts reply text into playable audio.
type Synthesizer interface {
	// Speak synthesizes text and delivers PCM16 chunks through emit as they
	// become available. It must check ctx before every emit so playback
	// stops at the next chunk boundary after cancellation.
	Speak(ctx context.Context, text string, emit func(pcm16 []byte) error) error

	// Close releases synthesizer resources.
	Close() error
}

// TurnDetector estimates whether the speaker has finished their turn.
// It refines the activity detector's silence heuristic: a low probability
// extends the listening window, a high one shortens it.
type TurnDetector interface {
	// ObserveTranscript feeds the latest transcript text to the model.
	ObserveTranscript(text string)

	// EndOfTurnProbability returns the current estimate in [0, 1].
	EndOfTurnProbability() float64

	// Reset clears state for a new turn.
	Reset()
}

// Bundle groups the constructed components for one session.
// The session owns the bundle for its lifetime and closes it on teardown.
type Bundle struct {
	Detector     ActivityDetector
	Transcriber  Transcriber
	Planner      ResponsePlanner
	Synthesizer  Synthesizer
	TurnDetector TurnDetector // optional
}

// Validate reports which required components are missing.
func (b Bundle) Validate() error {
	var missing []string
	if b.Detector == nil {
		missing = append(missing, "detector")
	}
	if b.Transcriber == nil {
		missing = append(missing, "transcriber")
	}
	if b.Planner == nil {
		missing = append(missing, "planner")
	}
	if b.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if len(missing) > 0 {
		return errors.New("pipeline: bundle missing components: " + strings.Join(missing, ", "))
	}
	return nil
}

// Close closes every component in the bundle, returning the last error.
func (b Bundle) Close() error {
	var lastErr error
	if b.Detector != nil {
		if err := b.Detector.Close(); err != nil {
			lastErr = err
		}
	}
	if b.Transcriber != nil {
		if err := b.Transcriber.Close(); err != nil {
			lastErr = err
		}
	}
	if b.Planner != nil {
		if err := b.Planner.Close(); err != nil {
			lastErr = err
		}
	}
	if b.Synthesizer != nil {
		if err := b.Synthesizer.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
