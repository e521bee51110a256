package session

import (
	"sync"
	"time"
)

// TurnMetrics tracks latency at each stage of one conversation turn.
// All durations are measured from the moment speech ends.
type TurnMetrics struct {
	// Timestamps for key events
	SpeechEndTime    time.Time // When the detector signalled end of speech
	TranscriptTime   time.Time // When the final transcript was appended
	ReplyTime        time.Time // When the reply was committed to the transcript
	PlaybackDoneTime time.Time // When playback finished

	// Computed latencies (from speech end)
	TranscriptionLatency time.Duration
	PlanningLatency      time.Duration
	TotalLatency         time.Duration

	// Outcome of the turn
	Outcome Outcome
}

// MetricsCollector collects per-turn latency metrics and outcome counts.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current TurnMetrics
	history []TurnMetrics // Recent turns for averaging

	completed   int64
	interrupted int64
	failed      int64

	onUpdate func(TurnMetrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]TurnMetrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever a turn completes.
func (m *MetricsCollector) OnUpdate(fn func(TurnMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkSpeechEnd starts a new turn measurement.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = TurnMetrics{SpeechEndTime: time.Now()}
}

// MarkTranscript records when the final transcript was appended.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.TranscriptTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.TranscriptionLatency = m.current.TranscriptTime.Sub(m.current.SpeechEndTime)
	}
}

// MarkReply records when the reply was committed.
func (m *MetricsCollector) MarkReply() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.PlanningLatency = m.current.ReplyTime.Sub(m.current.SpeechEndTime)
	}
}

// MarkTurnDone closes the measurement with the turn's outcome, archives it,
// and bumps the matching counter.
func (m *MetricsCollector) MarkTurnDone(outcome Outcome) {
	m.mu.Lock()
	m.current.PlaybackDoneTime = time.Now()
	m.current.Outcome = outcome
	if !m.current.SpeechEndTime.IsZero() {
		m.current.TotalLatency = m.current.PlaybackDoneTime.Sub(m.current.SpeechEndTime)
	}

	switch outcome {
	case OutcomeCompleted:
		m.completed++
	case OutcomeInterrupted:
		m.interrupted++
	case OutcomeFailed:
		m.failed++
	}

	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	snapshot := m.current
	fn := m.onUpdate
	m.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Current returns the current turn's metrics snapshot.
func (m *MetricsCollector) Current() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Counts returns the completed, interrupted, and failed turn counts.
func (m *MetricsCollector) Counts() (completed, interrupted, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, m.interrupted, m.failed
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return TurnMetrics{}
	}

	var avg TurnMetrics
	for _, h := range m.history {
		avg.TranscriptionLatency += h.TranscriptionLatency
		avg.PlanningLatency += h.PlanningLatency
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.TranscriptionLatency /= n
	avg.PlanningLatency /= n
	avg.TotalLatency /= n

	return avg
}
