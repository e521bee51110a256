package session

import (
	"sync"
	"time"
)

// Outcome tags how a turn ended.
type Outcome int

const (
	// OutcomePending is the zero value while a turn is in flight.
	OutcomePending Outcome = iota

	// OutcomeCompleted means the reply was generated and fully spoken.
	OutcomeCompleted

	// OutcomeInterrupted means the user spoke before the reply finished.
	OutcomeInterrupted

	// OutcomeFailed means a permanent fault abandoned the turn.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Turn is one user-utterance-to-agent-reply exchange. It is ephemeral:
// consumed by logging and metrics, then discarded when the next turn begins.
type Turn struct {
	mu sync.Mutex

	userText  string
	replyText string
	outcome   Outcome
	startedAt time.Time
	endedAt   time.Time
}

func newTurn() *Turn {
	return &Turn{startedAt: time.Now()}
}

// UserText returns the finalized user utterance, or "" for a greeting turn.
func (t *Turn) UserText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userText
}

// ReplyText returns the generated reply, or "" if none was committed.
func (t *Turn) ReplyText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replyText
}

// Outcome returns the turn's outcome tag.
func (t *Turn) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Duration returns how long the turn took, or 0 while still pending.
func (t *Turn) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endedAt.IsZero() {
		return 0
	}
	return t.endedAt.Sub(t.startedAt)
}

func (t *Turn) setUserText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userText = text
}

func (t *Turn) setReply(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replyText = text
}

// setOutcome records the outcome once; later calls are ignored so an
// interrupt that races turn completion keeps the first verdict.
func (t *Turn) setOutcome(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome != OutcomePending {
		return
	}
	t.outcome = o
	t.endedAt = time.Now()
}
