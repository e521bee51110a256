package session

import (
	"errors"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateListening, "listening_for_speech"},
		{StateUserSpeaking, "user_speaking"},
		{StateFinalizing, "finalizing_transcript"},
		{StateGenerating, "generating_reply"},
		{StateSpeaking, "speaking"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		from State
		to   State
		ok   bool
	}{
		{"idle to listening", nil, StateIdle, StateListening, true},
		{"idle to generating", nil, StateIdle, StateGenerating, true},
		{"idle to speaking", nil, StateIdle, StateSpeaking, false},
		{"listening to user speaking", []State{StateListening}, StateListening, StateUserSpeaking, true},
		{"listening to generating", []State{StateListening}, StateListening, StateGenerating, false},
		{"user speaking to finalizing", []State{StateListening, StateUserSpeaking}, StateUserSpeaking, StateFinalizing, true},
		{"finalizing to generating", []State{StateListening, StateUserSpeaking, StateFinalizing}, StateFinalizing, StateGenerating, true},
		{"finalizing to listening", []State{StateListening, StateUserSpeaking, StateFinalizing}, StateFinalizing, StateListening, true},
		{"generating to speaking", []State{StateGenerating}, StateGenerating, StateSpeaking, true},
		{"generating to user speaking", []State{StateGenerating}, StateGenerating, StateUserSpeaking, true},
		{"speaking to listening", []State{StateGenerating, StateSpeaking}, StateSpeaking, StateListening, true},
		{"speaking to user speaking", []State{StateGenerating, StateSpeaking}, StateSpeaking, StateUserSpeaking, true},
		{"speaking to generating", []State{StateGenerating, StateSpeaking}, StateSpeaking, StateGenerating, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine(nil, nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("setup transition to %s failed: %v", s, err)
				}
			}
			if got := m.Current(); got != tt.from {
				t.Fatalf("setup left machine in %s, want %s", got, tt.from)
			}

			err := m.Transition(tt.to)
			if tt.ok && err != nil {
				t.Errorf("Transition(%s) from %s: unexpected error %v", tt.to, tt.from, err)
			}
			if !tt.ok {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Transition(%s) from %s: got %v, want ErrInvalidTransition", tt.to, tt.from, err)
				}
				if got := m.Current(); got != tt.from {
					t.Errorf("rejected transition changed state to %s", got)
				}
			}
		})
	}
}

func TestStateMachineTerminateFromAnyState(t *testing.T) {
	paths := [][]State{
		nil,
		{StateListening},
		{StateListening, StateUserSpeaking},
		{StateListening, StateUserSpeaking, StateFinalizing},
		{StateGenerating},
		{StateGenerating, StateSpeaking},
	}
	for _, path := range paths {
		m := NewStateMachine(nil, nil)
		for _, s := range path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("setup transition to %s failed: %v", s, err)
			}
		}
		m.Terminate()
		if got := m.Current(); got != StateTerminated {
			t.Errorf("Terminate from path %v left state %s", path, got)
		}
		if err := m.Transition(StateListening); err == nil {
			t.Error("transition out of terminated state accepted")
		}
	}
}

func TestStateMachineTerminateIdempotent(t *testing.T) {
	var fired int
	m := NewStateMachine(nil, func(from, to State) { fired++ })

	m.Terminate()
	m.Terminate()
	m.Terminate()

	if fired != 1 {
		t.Errorf("transition hook fired %d times, want 1", fired)
	}
}

func TestStateMachineTransitionHook(t *testing.T) {
	type hop struct{ from, to State }
	var hops []hop
	m := NewStateMachine(nil, func(from, to State) {
		hops = append(hops, hop{from, to})
	})

	if err := m.Transition(StateListening); err != nil {
		t.Fatal(err)
	}
	_ = m.Transition(StateSpeaking) // rejected, must not fire the hook
	if err := m.Transition(StateUserSpeaking); err != nil {
		t.Fatal(err)
	}

	want := []hop{
		{StateIdle, StateListening},
		{StateListening, StateUserSpeaking},
	}
	if len(hops) != len(want) {
		t.Fatalf("hook fired %d times, want %d", len(hops), len(want))
	}
	for i, h := range hops {
		if h != want[i] {
			t.Errorf("hop %d = %s->%s, want %s->%s", i, h.from, h.to, want[i].from, want[i].to)
		}
	}
}
