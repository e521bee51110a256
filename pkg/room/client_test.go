package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway accepts one signalling connection and replays the scripted
// messages after the client joins.
type fakeGateway struct {
	srv    *httptest.Server
	script []signalMessage

	mu     sync.Mutex
	joined *signalMessage
}

func newFakeGateway(t *testing.T, script []signalMessage) *fakeGateway {
	t.Helper()
	g := &fakeGateway{script: script}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var msg signalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "join" {
				g.mu.Lock()
				g.joined = &msg
				g.mu.Unlock()
				for _, s := range g.script {
					_ = conn.WriteJSON(s)
				}
			}
			if msg.Type == "leave" {
				return
			}
		}
	}))
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) joinMessage() *signalMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.joined
}

func collectEvents(c *Client) (func() []Event, func(t *testing.T, n int)) {
	var mu sync.Mutex
	var events []Event
	c.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	get := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	wait := func(t *testing.T, n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if len(get()) >= n {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d events, have %d", n, len(get()))
	}
	return get, wait
}

func TestClientJoinAndEvents(t *testing.T) {
	gw := newFakeGateway(t, []signalMessage{
		{Type: "participant_joined", Participant: "learner", Metadata: `{"user_id":"u-1"}`},
		{Type: "track_published", Participant: "learner", Source: "microphone"},
		{Type: "participant_left", Participant: "learner"},
		{Type: "room_closed"},
	})
	defer gw.srv.Close()

	c, err := NewClient(Config{
		GatewayURL: gw.url(),
		RoomID:     "room-7",
		Identity:   "tutor-agent",
	})
	if err != nil {
		t.Fatal(err)
	}
	get, wait := collectEvents(c)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	wait(t, 4)
	events := get()

	wantKinds := []EventKind{
		EventParticipantConnected,
		EventTrackPublished,
		EventParticipantDisconnected,
		EventRoomDisconnected,
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event %d kind = %s, want %s", i, events[i].Kind, k)
		}
		if events[i].Room != "room-7" {
			t.Errorf("event %d room = %q", i, events[i].Room)
		}
	}
	if events[0].Metadata != `{"user_id":"u-1"}` {
		t.Errorf("join metadata = %q", events[0].Metadata)
	}
	if events[1].TrackSource != "microphone" {
		t.Errorf("track source = %q", events[1].TrackSource)
	}

	join := gw.joinMessage()
	if join == nil {
		t.Fatal("gateway never saw a join message")
	}
	if join.Room != "room-7" || join.Identity != "tutor-agent" {
		t.Errorf("join = %+v", join)
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	gw := newFakeGateway(t, nil)
	defer gw.srv.Close()

	c, err := NewClient(Config{GatewayURL: gw.url(), RoomID: "room-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClientPlayBuffersFrames(t *testing.T) {
	gw := newFakeGateway(t, nil)
	defer gw.srv.Close()

	c, err := NewClient(Config{GatewayURL: gw.url(), RoomID: "room-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// 30ms of audio at 16kHz: one full 20ms frame plus a 10ms remainder
	// that stays buffered for the next call.
	if err := c.Play(make([]byte, 480*2)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	c.encMu.Lock()
	remaining := len(c.pending)
	c.encMu.Unlock()
	if remaining != 160 {
		t.Errorf("pending samples = %d, want 160", remaining)
	}

	// The next 10ms completes the frame.
	if err := c.Play(make([]byte, 160*2)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	c.encMu.Lock()
	remaining = len(c.pending)
	c.encMu.Unlock()
	if remaining != 0 {
		t.Errorf("pending samples = %d, want 0", remaining)
	}
}

func TestClientPlayBeforeConnect(t *testing.T) {
	c, err := NewClient(Config{GatewayURL: "ws://127.0.0.1:1", RoomID: "r"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Play(make([]byte, 640)); err == nil {
		t.Error("Play before Connect succeeded")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{RoomID: "r"}); err == nil {
		t.Error("missing gateway URL accepted")
	}
	if _, err := NewClient(Config{GatewayURL: "ws://x"}); err == nil {
		t.Error("missing room ID accepted")
	}
}
