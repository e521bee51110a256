// Package monitor exposes the agentd observability surface: a health
// endpoint, Prometheus-style metrics, and a live event feed over WebSocket.
// It observes sessions through session.Hooks and holds no references into
// them.
package monitor

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/parleylabs/agentd/pkg/session"
)

// Server is the monitoring HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
	events *hub

	mu            sync.Mutex
	sessionStates map[string]string

	turnsCompleted   atomic.Int64
	turnsInterrupted atomic.Int64
	turnsFailed      atomic.Int64
	faultsTransient  atomic.Int64
	faultsPermanent  atomic.Int64
}

// NewServer creates a monitoring server listening on addr (e.g. ":8080").
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")

	s := &Server{
		addr:          addr,
		logger:        logger,
		events:        newHub(logger),
		sessionStates: make(map[string]string),
	}

	app := fiber.New(fiber.Config{
		AppName:               "agentd monitor",
		DisableStartupMessage: true,
	})

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		s.events.serve(conn)
	}))

	s.app = app
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("monitor listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// event is the envelope broadcast to /ws/events clients.
type event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      any    `json:"data"`
	Time      string `json:"time"`
}

func (s *Server) broadcast(kind, sessionID string, data any) {
	s.events.broadcastJSON(event{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Hooks returns session hooks that feed this server. Safe to share across
// sessions.
func (s *Server) Hooks() session.Hooks {
	return session.Hooks{
		OnTransition: func(id string, from, to session.State) {
			s.mu.Lock()
			if to == session.StateTerminated {
				delete(s.sessionStates, id)
			} else {
				s.sessionStates[id] = to.String()
			}
			s.mu.Unlock()

			s.broadcast("transition", id, map[string]string{
				"from": from.String(),
				"to":   to.String(),
			})
		},

		OnTranscript: func(id string, msg session.Message) {
			s.broadcast("transcript", id, map[string]string{
				"role": string(msg.Role),
				"text": msg.Text,
			})
		},

		OnFault: func(id string, rec session.FaultRecord) {
			if rec.Severity == session.SeverityTransient {
				s.faultsTransient.Add(1)
			} else {
				s.faultsPermanent.Add(1)
			}
			s.broadcast("fault", id, rec)
		},

		OnTurn: func(id string, turn *session.Turn) {
			switch turn.Outcome() {
			case session.OutcomeCompleted:
				s.turnsCompleted.Add(1)
			case session.OutcomeInterrupted:
				s.turnsInterrupted.Add(1)
			case session.OutcomeFailed:
				s.turnsFailed.Add(1)
			}
			s.broadcast("turn", id, map[string]any{
				"outcome":     turn.Outcome().String(),
				"duration_ms": turn.Duration().Milliseconds(),
			})
		},
	}
}

func (s *Server) activeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessionStates)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.activeSessions(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	var b strings.Builder

	b.WriteString("# HELP agentd_turns_total Conversation turns by outcome.\n")
	b.WriteString("# TYPE agentd_turns_total counter\n")
	fmt.Fprintf(&b, "agentd_turns_total{outcome=\"completed\"} %d\n", s.turnsCompleted.Load())
	fmt.Fprintf(&b, "agentd_turns_total{outcome=\"interrupted\"} %d\n", s.turnsInterrupted.Load())
	fmt.Fprintf(&b, "agentd_turns_total{outcome=\"failed\"} %d\n", s.turnsFailed.Load())

	b.WriteString("# HELP agentd_faults_total Pipeline faults by severity.\n")
	b.WriteString("# TYPE agentd_faults_total counter\n")
	fmt.Fprintf(&b, "agentd_faults_total{severity=\"transient\"} %d\n", s.faultsTransient.Load())
	fmt.Fprintf(&b, "agentd_faults_total{severity=\"permanent\"} %d\n", s.faultsPermanent.Load())

	b.WriteString("# HELP agentd_sessions_active Sessions currently live.\n")
	b.WriteString("# TYPE agentd_sessions_active gauge\n")
	fmt.Fprintf(&b, "agentd_sessions_active %d\n", s.activeSessions())

	b.WriteString("# HELP agentd_event_clients Connected event feed clients.\n")
	b.WriteString("# TYPE agentd_event_clients gauge\n")
	fmt.Fprintf(&b, "agentd_event_clients %d\n", s.events.clientCount())

	c.Set("Content-Type", "text/plain; version=0.0.4")
	return c.SendString(b.String())
}
