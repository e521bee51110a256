package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// Message is one entry of the conversation history.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Transcript is the ordered conversation history used as planner input.
// It is seeded with exactly one system message at creation and is append-only
// after that; messages are never reordered or deleted.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
}

// NewTranscript creates a transcript seeded with the system prompt.
func NewTranscript(systemPrompt string) *Transcript {
	return &Transcript{
		messages: []Message{{
			Role: RoleSystem,
			Text: systemPrompt,
			Time: time.Now(),
		}},
	}
}

// Append adds a message and returns it.
func (t *Transcript) Append(role Role, text string) Message {
	msg := Message{Role: role, Text: text, Time: time.Now()}
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	return msg
}

// Messages returns a copy of the conversation history.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages including the seeded system message.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// PlanMessages converts the history into planner input.
func (t *Transcript) PlanMessages() []pipeline.PlanMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pipeline.PlanMessage, len(t.messages))
	for i, m := range t.messages {
		out[i] = pipeline.PlanMessage{Role: string(m.Role), Text: m.Text}
	}
	return out
}

// LogSummary logs message and role counts plus a rough token estimate.
func (t *Transcript) LogSummary(logger *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roleCounts := map[Role]int{}
	totalChars := 0
	for _, m := range t.messages {
		roleCounts[m.Role]++
		totalChars += len(m.Text)
	}

	logger.Info("transcript summary",
		"messages", len(t.messages),
		"system", roleCounts[RoleSystem],
		"user", roleCounts[RoleUser],
		"agent", roleCounts[RoleAgent],
		"approx_tokens", totalChars/4,
	)
}
