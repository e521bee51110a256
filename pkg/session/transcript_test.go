package session

import (
	"sync"
	"testing"
)

func TestTranscriptSeededWithSystemMessage(t *testing.T) {
	tr := NewTranscript("You are a helpful tutor.")

	msgs := tr.Messages()
	if len(msgs) != 1 {
		t.Fatalf("new transcript has %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("seed role = %q, want system", msgs[0].Role)
	}
	if msgs[0].Text != "You are a helpful tutor." {
		t.Errorf("seed text = %q", msgs[0].Text)
	}
}

func TestTranscriptAppendOrder(t *testing.T) {
	tr := NewTranscript("prompt")
	tr.Append(RoleUser, "hello")
	tr.Append(RoleAgent, "hi there")
	tr.Append(RoleUser, "how are you")

	msgs := tr.Messages()
	wantRoles := []Role{RoleSystem, RoleUser, RoleAgent, RoleUser}
	wantTexts := []string{"prompt", "hello", "hi there", "how are you"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i := range msgs {
		if msgs[i].Role != wantRoles[i] || msgs[i].Text != wantTexts[i] {
			t.Errorf("message %d = %s %q, want %s %q",
				i, msgs[i].Role, msgs[i].Text, wantRoles[i], wantTexts[i])
		}
	}
}

func TestTranscriptPlanMessages(t *testing.T) {
	tr := NewTranscript("prompt")
	tr.Append(RoleUser, "question")
	tr.Append(RoleAgent, "answer")

	pm := tr.PlanMessages()
	if len(pm) != 3 {
		t.Fatalf("got %d plan messages, want 3", len(pm))
	}
	if pm[0].Role != "system" || pm[1].Role != "user" || pm[2].Role != "agent" {
		t.Errorf("plan roles = %q %q %q", pm[0].Role, pm[1].Role, pm[2].Role)
	}
	if pm[1].Text != "question" {
		t.Errorf("plan text = %q", pm[1].Text)
	}
}

func TestTranscriptConcurrentAppend(t *testing.T) {
	tr := NewTranscript("prompt")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr.Append(RoleUser, "x")
			}
		}()
	}
	wg.Wait()

	if got := tr.Len(); got != 201 {
		t.Errorf("Len = %d, want 201", got)
	}
}
