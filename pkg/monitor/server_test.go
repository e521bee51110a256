package monitor

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleylabs/agentd/pkg/session"
)

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(":0", nil)

	hooks := s.Hooks()
	hooks.OnTransition("sess-1", session.StateIdle, session.StateListening)
	hooks.OnTransition("sess-2", session.StateIdle, session.StateListening)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Sessions != 2 {
		t.Errorf("health = %+v", body)
	}

	// Termination removes the session from the active set.
	hooks.OnTransition("sess-1", session.StateListening, session.StateTerminated)
	if got := s.activeSessions(); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(":0", nil)
	hooks := s.Hooks()

	hooks.OnFault("sess-1", session.FaultRecord{Severity: session.SeverityTransient, Component: "planner"})
	hooks.OnFault("sess-1", session.FaultRecord{Severity: session.SeverityPermanent, Component: "planner"})
	hooks.OnFault("sess-1", session.FaultRecord{Severity: session.SeverityTransient, Component: "transcriber"})

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	text := string(data)

	for _, want := range []string{
		`agentd_faults_total{severity="transient"} 2`,
		`agentd_faults_total{severity="permanent"} 1`,
		`agentd_turns_total{outcome="completed"} 0`,
		"agentd_sessions_active 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestWSUpgradeRequired(t *testing.T) {
	s := NewServer(":0", nil)

	req := httptest.NewRequest("GET", "/ws/events", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 426 {
		t.Errorf("plain GET on /ws/events = %d, want 426", resp.StatusCode)
	}
}
