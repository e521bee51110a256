package bundled

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

func testPlannerConfig(url string) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.OpenAIKey = "test-key"
	cfg.OpenAIURL = url
	return cfg
}

func TestOpenAIPlannerPlan(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"sure, happy to help"}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIPlanner(testPlannerConfig(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	reply, err := p.Plan(context.Background(), pipeline.PlanRequest{
		Messages: []pipeline.PlanMessage{
			{Role: "system", Text: "be brief"},
			{Role: "user", Text: "hello"},
			{Role: "agent", Text: "hi"},
			{Role: "user", Text: "help me"},
		},
		Observations: []string{"user sounds tired"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "sure, happy to help" {
		t.Errorf("reply = %q", reply.Text)
	}

	if gotReq.Model != "gpt-4.1-mini" {
		t.Errorf("model = %q", gotReq.Model)
	}
	// Agent history maps to the assistant role; observations ride along as a
	// trailing system message.
	wantRoles := []string{"system", "user", "assistant", "user", "system"}
	if len(gotReq.Messages) != len(wantRoles) {
		t.Fatalf("sent %d messages, want %d", len(gotReq.Messages), len(wantRoles))
	}
	for i, w := range wantRoles {
		if gotReq.Messages[i].Role != w {
			t.Errorf("message %d role = %q, want %q", i, gotReq.Messages[i].Role, w)
		}
	}
}

func TestOpenAIPlannerToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{
			"content":"checking now",
			"tool_calls":[{"id":"call_1","function":{"name":"lookup","arguments":"{\"city\":\"Lisbon\"}"}}]
		}}]}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIPlanner(testPlannerConfig(srv.URL), nil)
	reply, err := p.Plan(context.Background(), pipeline.PlanRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(reply.ToolCalls))
	}
	tc := reply.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "lookup" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["city"] != "Lisbon" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestOpenAIPlannerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIPlanner(testPlannerConfig(srv.URL), nil)
	_, err := p.Plan(context.Background(), pipeline.PlanRequest{})

	apiErr, ok := pipeline.AsAPIError(err)
	if !ok {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.IsRetryable() {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Code != "rate_limit_exceeded" {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestOpenAIPlannerCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"stale"}}]}`))
	}))
	defer srv.Close()

	p, _ := NewOpenAIPlanner(testPlannerConfig(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Plan(ctx, pipeline.PlanRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Plan with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestOpenAIPlannerRequiresKey(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	if _, err := NewOpenAIPlanner(cfg, nil); !errors.Is(err, pipeline.ErrMissingAPIKey) {
		t.Errorf("NewOpenAIPlanner without key = %v", err)
	}
}
