package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/agentd/pkg/pipeline"
	"github.com/parleylabs/agentd/pkg/registry"
	"github.com/parleylabs/agentd/pkg/room"
)

// Errors returned by the orchestrator.
var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrMissingRoom    = errors.New("session: room ID required")
	ErrMissingPrompt  = errors.New("session: system prompt required")
)

// Default policy knobs, applied by New when the config leaves them zero.
const (
	defaultStageTimeout     = 10 * time.Second
	defaultSpeakTimeout     = 60 * time.Second
	defaultMaxRetries       = 1
	defaultTurnThreshold    = 0.5
	defaultSilenceExtension = 700 * time.Millisecond
)

// AudioSink receives synthesized PCM16 audio for playback.
type AudioSink interface {
	Play(pcm16 []byte) error
}

// Hooks are optional observability callbacks. They fire synchronously on
// session goroutines, so implementations must be fast and non-blocking.
type Hooks struct {
	OnTransition func(sessionID string, from, to State)
	OnTranscript func(sessionID string, msg Message)
	OnFault      func(sessionID string, rec FaultRecord)
	OnTurn       func(sessionID string, turn *Turn)
}

// Config is the read-only bundle a session is constructed from.
type Config struct {
	// RoomID identifies the room this session serves.
	RoomID string

	// SystemPrompt seeds the transcript.
	SystemPrompt string

	// Greeting, when set, drives one agent-speaks-first turn at startup.
	Greeting string

	// Pipeline supplies the constructed pipeline components.
	// The session owns them and closes them on teardown.
	Pipeline pipeline.Bundle

	// Sink receives synthesized audio for playback. Optional in tests.
	Sink AudioSink

	// Registry, when set, enforces one active session per room.
	Registry registry.Store

	// StageTimeout bounds each transcriber/planner call; expiry is treated
	// as a transient fault. Zero means 10s.
	StageTimeout time.Duration

	// SpeakTimeout bounds one synthesis-and-playback pass. Zero means 60s.
	SpeakTimeout time.Duration

	// MaxRetries bounds retries of a turn's single failing operation.
	// Zero means 1.
	MaxRetries int

	// TurnCompleteThreshold is the end-of-turn probability below which the
	// listening window is extended. Zero means 0.5.
	TurnCompleteThreshold float64

	// SilenceExtension is the extra wait granted when the turn detector
	// thinks the speaker is mid-turn. Zero means 700ms.
	SilenceExtension time.Duration

	// Hooks are optional observability callbacks.
	Hooks Hooks

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator owns one conversational session for its full lifetime: it
// wires the pipeline components together, drives the turn-taking state
// machine, reacts to interruption, and absorbs pipeline faults so they never
// cross this boundary during steady-state operation.
type Orchestrator struct {
	id  string
	cfg Config

	logger     *slog.Logger
	machine    *StateMachine
	transcript *Transcript
	sctx       *SessionContext
	interrupts *InterruptionHandler
	classifier *Classifier
	metrics    *MetricsCollector

	// ctx is the session root; teardown cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// tasks is the per-session queue; audio frames and room events are
	// executed on it in arrival order.
	tasks chan func()

	// speechEpoch counts speech-start signals; a pending silence-extension
	// timer only finalizes if no new speech started while it waited.
	speechEpoch atomic.Int64

	mu       sync.Mutex
	started  bool
	teardown sync.Once

	// terminated closes when teardown completes.
	terminated chan struct{}
}

// New constructs an orchestrator from the supplied configuration.
// No network activity happens until Start.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.RoomID == "" {
		return nil, ErrMissingRoom
	}
	if cfg.SystemPrompt == "" {
		return nil, ErrMissingPrompt
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}

	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	if cfg.SpeakTimeout <= 0 {
		cfg.SpeakTimeout = defaultSpeakTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.TurnCompleteThreshold <= 0 {
		cfg.TurnCompleteThreshold = defaultTurnThreshold
	}
	if cfg.SilenceExtension <= 0 {
		cfg.SilenceExtension = defaultSilenceExtension
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		id:         uuid.NewString(),
		cfg:        cfg,
		transcript: NewTranscript(cfg.SystemPrompt),
		sctx:       NewSessionContext(),
		metrics:    NewMetricsCollector(),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(chan func(), 256),
		terminated: make(chan struct{}),
	}
	o.logger = cfg.Logger.With("component", "session", "session_id", o.id, "room", cfg.RoomID)
	o.machine = NewStateMachine(o.logger, func(from, to State) {
		if fn := cfg.Hooks.OnTransition; fn != nil {
			fn(o.id, from, to)
		}
	})
	o.interrupts = newInterruptionHandler(o.machine, o.transcript, o.logger)
	o.classifier = NewClassifier(o.logger)

	return o, nil
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current turn-taking state.
func (o *Orchestrator) State() State { return o.machine.Current() }

// Transcript returns the session transcript.
func (o *Orchestrator) Transcript() *Transcript { return o.transcript }

// SessionContext returns the per-session mutable context.
func (o *Orchestrator) SessionContext() *SessionContext { return o.sctx }

// Metrics returns the per-turn metrics collector.
func (o *Orchestrator) Metrics() *MetricsCollector { return o.metrics }

// Start claims the room, starts the pipeline components, runs the greeting
// turn if one is configured, and enters the listening loop. ctx bounds only
// the setup work; the session itself lives until OnDisconnect. Errors here
// are session-setup faults, fatal to session creation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	if o.cfg.Registry != nil {
		if err := o.cfg.Registry.Acquire(ctx, o.cfg.RoomID, o.id); err != nil {
			return fmt.Errorf("session: acquire room %q: %w", o.cfg.RoomID, err)
		}
	}

	// Callbacks are registered before Start so a component that signals
	// from its own goroutine cannot fire into a nil handler.
	p := o.cfg.Pipeline
	p.Detector.OnSpeechStart(o.handleSpeechStart)
	p.Detector.OnSpeechEnd(o.handleSpeechEnd)
	p.Transcriber.OnTranscript(func(text string, isFinal bool) {
		if td := p.TurnDetector; td != nil {
			td.ObserveTranscript(text)
		}
	})

	if err := p.Detector.Start(ctx); err != nil {
		o.releaseRoom()
		return fmt.Errorf("session: start activity detector: %w", err)
	}
	if err := p.Transcriber.Start(ctx); err != nil {
		o.releaseRoom()
		return fmt.Errorf("session: start transcriber: %w", err)
	}

	go o.runQueue()

	o.logger.Info("session started",
		"greeting", o.cfg.Greeting != "",
	)

	if o.cfg.Greeting != "" {
		o.converse(newTurn(), o.cfg.Greeting)
	}
	if o.machine.Current() == StateIdle {
		if err := o.machine.Transition(StateListening); err != nil {
			return err
		}
	}
	return nil
}

// ProcessAudio feeds one PCM16 frame from the room into the pipeline.
// Frames are processed on the session queue in arrival order.
func (o *Orchestrator) ProcessAudio(pcm16 []byte) {
	frame := make([]byte, len(pcm16))
	copy(frame, pcm16) // the room client reuses its read buffer

	o.enqueue(func() {
		o.cfg.Pipeline.Detector.ProcessAudio(frame)
		if o.machine.Current() == StateUserSpeaking {
			if err := o.cfg.Pipeline.Transcriber.SendAudio(frame); err != nil {
				o.logger.Debug("transcriber send failed", "error", err)
			}
		}
	})
}

// OnRoomEvent handles a room-level notification. Events are observational:
// they are logged and folded into the session context but never drive the
// turn state machine, except that a room disconnect triggers teardown.
func (o *Orchestrator) OnRoomEvent(ev room.Event) {
	o.enqueue(func() { o.handleRoomEvent(ev) })
}

// OnDisconnect tears the session down: cancels in-flight work, terminates
// the state machine, and releases all pipeline component handles. It is
// idempotent; repeated calls are safe.
func (o *Orchestrator) OnDisconnect() {
	o.teardown.Do(func() {
		o.logger.Info("session teardown")
		o.cancel()
		o.machine.Terminate()
		if err := o.cfg.Pipeline.Close(); err != nil {
			o.logger.Warn("pipeline close failed", "error", err)
		}
		o.releaseRoom()
		o.transcript.LogSummary(o.logger)
		close(o.terminated)
	})
}

// Done returns a channel closed when session teardown completes.
func (o *Orchestrator) Done() <-chan struct{} { return o.terminated }

// runQueue executes queued session work in arrival order until teardown.
func (o *Orchestrator) runQueue() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case fn := <-o.tasks:
			fn()
		}
	}
}

func (o *Orchestrator) enqueue(fn func()) {
	select {
	case o.tasks <- fn:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) handleRoomEvent(ev room.Event) {
	switch ev.Kind {
	case room.EventParticipantConnected:
		o.logger.Info("participant connected", "participant", ev.Participant)
		if ev.Metadata != "" {
			if err := o.sctx.ApplyMetadata(ev.Metadata); err != nil {
				o.logger.Warn("malformed participant metadata, proceeding with defaults",
					"participant", ev.Participant,
					"error", err,
				)
			}
		}

	case room.EventParticipantDisconnected:
		o.logger.Info("participant disconnected", "participant", ev.Participant)

	case room.EventTrackPublished:
		o.logger.Info("track published", "participant", ev.Participant, "source", ev.TrackSource)
		switch ev.TrackSource {
		case "camera", "screenshare":
			o.sctx.SetModality(ev.TrackSource, true)
		}

	case room.EventTrackUnpublished:
		o.logger.Info("track unpublished", "participant", ev.Participant, "source", ev.TrackSource)
		switch ev.TrackSource {
		case "camera", "screenshare":
			o.sctx.SetModality(ev.TrackSource, false)
		}

	case room.EventRoomDisconnected:
		o.logger.Info("room disconnected")
		o.OnDisconnect()
	}
}

// handleSpeechStart runs directly on the detector's signal path so an
// interrupt is observed without waiting behind queued work.
func (o *Orchestrator) handleSpeechStart() {
	o.speechEpoch.Add(1)
	if o.interrupts.NotifyUserSpeechStarted() {
		return
	}
	if err := o.machine.Transition(StateUserSpeaking); err != nil {
		o.logger.Debug("speech start ignored", "state", o.machine.Current().String())
	}
}

// handleSpeechEnd closes the capture window, consulting the turn detector
// first: a low end-of-turn probability extends the window once.
func (o *Orchestrator) handleSpeechEnd() {
	if o.machine.Current() != StateUserSpeaking {
		return
	}
	if td := o.cfg.Pipeline.TurnDetector; td != nil {
		if p := td.EndOfTurnProbability(); p < o.cfg.TurnCompleteThreshold {
			epoch := o.speechEpoch.Load()
			o.logger.Debug("turn likely incomplete, extending listen window", "probability", p)
			time.AfterFunc(o.cfg.SilenceExtension, func() {
				// A new speech-start during the extension means the user
				// resumed; the next speech-end restarts the countdown.
				if o.speechEpoch.Load() != epoch {
					return
				}
				if o.machine.Current() == StateUserSpeaking {
					o.beginTurn()
				}
			})
			return
		}
	}
	o.beginTurn()
}

func (o *Orchestrator) beginTurn() {
	if err := o.machine.Transition(StateFinalizing); err != nil {
		return
	}
	o.metrics.MarkSpeechEnd()
	go o.runTurn(newTurn())
}

// runTurn drives one user turn: finalize the transcript, then generate and
// speak the reply.
func (o *Orchestrator) runTurn(turn *Turn) {
	var text string
	err := o.withRetry(o.ctx, "transcriber", o.cfg.StageTimeout, func(ctx context.Context) error {
		t, err := o.cfg.Pipeline.Transcriber.Finalize(ctx)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		if o.ctx.Err() != nil {
			return
		}
		o.abandonTurn(turn)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		// Silence misfire: discard the turn without invoking the planner.
		o.logger.Debug("empty final transcript, discarding turn")
		if err := o.machine.Transition(StateListening); err != nil {
			o.logger.Debug("listening transition rejected", "error", err)
		}
		return
	}

	turn.setUserText(text)
	msg := o.transcript.Append(RoleUser, text)
	o.emitTranscript(msg)
	o.metrics.MarkTranscript()
	if td := o.cfg.Pipeline.TurnDetector; td != nil {
		td.Reset()
	}

	o.converse(turn, "")
}

// converse generates a reply and speaks it. instructions is set only for the
// greeting turn, where the planner is directed rather than prompted by a
// user utterance.
func (o *Orchestrator) converse(turn *Turn, instructions string) {
	genCtx, cancelGen := context.WithCancel(o.ctx)
	defer cancelGen()

	// Register the utterance before entering Generating so a speech-start
	// landing right after the transition always finds it.
	o.interrupts.BeginUtterance(turn, cancelGen)
	defer o.interrupts.EndUtterance(turn)

	if err := o.machine.Transition(StateGenerating); err != nil {
		return
	}

	req := pipeline.PlanRequest{
		Messages:     o.transcript.PlanMessages(),
		Instructions: instructions,
		Observations: o.sctx.Observations(),
		Flags:        o.sctx.Flags(),
	}

	var reply *pipeline.Reply
	err := o.withRetry(genCtx, "planner", o.cfg.StageTimeout, func(ctx context.Context) error {
		r, err := o.cfg.Pipeline.Planner.Plan(ctx, req)
		if err != nil {
			return err
		}
		if r == nil || strings.TrimSpace(r.Text) == "" {
			return ErrEmptyReply
		}
		reply = r
		return nil
	})
	if err != nil {
		o.settleTurn(turn, genCtx)
		return
	}

	// Check-then-append: the reply reaches the transcript only if no
	// interrupt landed while it was being generated.
	msg, ok := o.interrupts.CommitReply(reply.Text)
	if !ok {
		o.settleTurn(turn, genCtx)
		return
	}
	o.emitTranscript(msg)
	o.metrics.MarkReply()

	err = o.withRetry(genCtx, "synthesizer", o.cfg.SpeakTimeout, func(ctx context.Context) error {
		return o.cfg.Pipeline.Synthesizer.Speak(ctx, reply.Text, func(pcm []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if o.cfg.Sink == nil {
				return nil
			}
			return o.cfg.Sink.Play(pcm)
		})
	})
	if err != nil {
		o.settleTurn(turn, genCtx)
		return
	}

	if err := o.machine.Transition(StateListening); err != nil {
		// An interrupt landed between the last audio chunk and here.
		o.settleTurn(turn, genCtx)
		return
	}
	turn.setOutcome(OutcomeCompleted)
	o.metrics.MarkTurnDone(OutcomeCompleted)
	o.emitTurn(turn)
}

// settleTurn closes out a turn that did not complete normally.
func (o *Orchestrator) settleTurn(turn *Turn, genCtx context.Context) {
	if o.ctx.Err() != nil {
		// Session teardown, nothing to settle.
		return
	}
	if turn.Outcome() == OutcomeInterrupted {
		o.metrics.MarkTurnDone(OutcomeInterrupted)
		o.emitTurn(turn)
		return
	}
	o.abandonTurn(turn)
}

// abandonTurn marks a turn failed after a permanent fault or exhausted
// retries. The agent stays silent; the session remains resumable on the next
// user utterance.
func (o *Orchestrator) abandonTurn(turn *Turn) {
	turn.setOutcome(OutcomeFailed)
	o.logger.Error("turn abandoned", "user_text_len", len(turn.UserText()))
	if err := o.machine.Transition(StateListening); err != nil {
		o.logger.Debug("listening transition rejected after failed turn", "error", err)
	}
	o.metrics.MarkTurnDone(OutcomeFailed)
	o.emitTurn(turn)
}

// withRetry runs op with a per-attempt timeout, classifying failures and
// retrying transient ones up to the configured bound. Cancellation of parent
// (interrupt or teardown) is returned as-is, never classified.
func (o *Orchestrator) withRetry(parent context.Context, component string, timeout time.Duration, op func(ctx context.Context) error) error {
	attempts := o.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(parent, timeout)
		err := op(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if parent.Err() != nil {
			return parent.Err()
		}

		lastErr = err
		rec := o.classifier.Classify(err, component)
		o.emitFault(rec)
		if rec.Severity != SeverityTransient {
			return err
		}
		if attempt < attempts {
			o.logger.Warn("retrying stage after transient fault",
				"stage", component,
				"attempt", attempt,
			)
		}
	}
	return lastErr
}

func (o *Orchestrator) releaseRoom() {
	if o.cfg.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cfg.Registry.Release(ctx, o.cfg.RoomID, o.id); err != nil {
		o.logger.Warn("room release failed", "error", err)
	}
}

func (o *Orchestrator) emitTranscript(msg Message) {
	if fn := o.cfg.Hooks.OnTranscript; fn != nil {
		fn(o.id, msg)
	}
}

func (o *Orchestrator) emitFault(rec FaultRecord) {
	if fn := o.cfg.Hooks.OnFault; fn != nil {
		fn(o.id, rec)
	}
}

func (o *Orchestrator) emitTurn(turn *Turn) {
	if fn := o.cfg.Hooks.OnTurn; fn != nil {
		fn(o.id, turn)
	}
}
