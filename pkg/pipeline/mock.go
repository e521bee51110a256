package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Arg    string
	Time   time.Time
}

// callLog is shared call-recording machinery for the mocks.
type callLog struct {
	mu    sync.Mutex
	calls []MockCall
}

func (l *callLog) record(method, arg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, MockCall{Method: method, Arg: arg, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (l *callLog) Calls() []MockCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (l *callLog) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MockDetector implements ActivityDetector for testing.
// Fire speech signals directly via EmitSpeechStart/EmitSpeechEnd.
type MockDetector struct {
	callLog

	mu            sync.Mutex
	onSpeechStart func()
	onSpeechEnd   func()
}

func (m *MockDetector) Start(ctx context.Context) error { m.record("Start", ""); return nil }
func (m *MockDetector) ProcessAudio(pcm16 []byte)       { m.record("ProcessAudio", "") }
func (m *MockDetector) Close() error                    { m.record("Close", ""); return nil }

func (m *MockDetector) OnSpeechStart(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSpeechStart = fn
}

func (m *MockDetector) OnSpeechEnd(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSpeechEnd = fn
}

// EmitSpeechStart fires the registered speech-start callback.
func (m *MockDetector) EmitSpeechStart() {
	m.mu.Lock()
	fn := m.onSpeechStart
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitSpeechEnd fires the registered speech-end callback.
func (m *MockDetector) EmitSpeechEnd() {
	m.mu.Lock()
	fn := m.onSpeechEnd
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MockTranscriber implements Transcriber for testing.
type MockTranscriber struct {
	callLog

	// FinalizeFunc is called when Finalize is invoked.
	// If nil, Finalize returns the Transcript field.
	FinalizeFunc func(ctx context.Context) (string, error)

	// Transcript is the default Finalize result.
	Transcript string

	mu           sync.Mutex
	onTranscript func(text string, isFinal bool)
}

func (m *MockTranscriber) Start(ctx context.Context) error { m.record("Start", ""); return nil }
func (m *MockTranscriber) Close() error                    { m.record("Close", ""); return nil }

func (m *MockTranscriber) SendAudio(pcm16 []byte) error {
	m.record("SendAudio", "")
	return nil
}

func (m *MockTranscriber) OnTranscript(fn func(text string, isFinal bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTranscript = fn
}

func (m *MockTranscriber) Finalize(ctx context.Context) (string, error) {
	m.record("Finalize", "")
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx)
	}
	return m.Transcript, nil
}

// EmitTranscript fires the registered transcript callback.
func (m *MockTranscriber) EmitTranscript(text string, isFinal bool) {
	m.mu.Lock()
	fn := m.onTranscript
	m.mu.Unlock()
	if fn != nil {
		fn(text, isFinal)
	}
}

// MockPlanner implements ResponsePlanner for testing.
type MockPlanner struct {
	callLog

	// PlanFunc is called when Plan is invoked.
	// If nil, Plan returns a Reply with the Response field.
	PlanFunc func(ctx context.Context, req PlanRequest) (*Reply, error)

	// Response is the default reply text.
	Response string
}

func (m *MockPlanner) Plan(ctx context.Context, req PlanRequest) (*Reply, error) {
	m.record("Plan", req.Instructions)
	if m.PlanFunc != nil {
		return m.PlanFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Reply{Text: m.Response}, nil
}

func (m *MockPlanner) Close() error { m.record("Close", ""); return nil }

// MockSynthesizer implements Synthesizer for testing.
type MockSynthesizer struct {
	callLog

	// SpeakFunc is called when Speak is invoked.
	// If nil, Speak emits one silent chunk per word and returns nil.
	SpeakFunc func(ctx context.Context, text string, emit func(pcm16 []byte) error) error
}

func (m *MockSynthesizer) Speak(ctx context.Context, text string, emit func(pcm16 []byte) error) error {
	m.record("Speak", text)
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text, emit)
	}
	for range strings.Fields(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(make([]byte, 320)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockSynthesizer) Close() error { m.record("Close", ""); return nil }

// MockTurnDetector implements TurnDetector for testing.
type MockTurnDetector struct {
	mu          sync.Mutex
	probability float64
	lastText    string
}

// SetProbability fixes the end-of-turn estimate returned by the mock.
func (m *MockTurnDetector) SetProbability(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probability = p
}

func (m *MockTurnDetector) ObserveTranscript(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastText = text
}

// LastText returns the most recently observed transcript text.
func (m *MockTurnDetector) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastText
}

func (m *MockTurnDetector) EndOfTurnProbability() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probability
}

func (m *MockTurnDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastText = ""
}

// Compile-time interface checks.
var (
	_ ActivityDetector = (*MockDetector)(nil)
	_ Transcriber      = (*MockTranscriber)(nil)
	_ ResponsePlanner  = (*MockPlanner)(nil)
	_ Synthesizer      = (*MockSynthesizer)(nil)
	_ TurnDetector     = (*MockTurnDetector)(nil)
)
