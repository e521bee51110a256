package bundled

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

const dialTimeout = 10 * time.Second

// DeepgramTranscriber streams PCM16 audio to Deepgram's live transcription
// WebSocket and accumulates finalized segments until Finalize is called.
type DeepgramTranscriber struct {
	cfg    pipeline.Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool

	// segments holds finalized transcript pieces for the current utterance.
	segments []string

	// flushed is signalled by the read pump when the service acknowledges a
	// Finalize request.
	flushed chan struct{}

	onTranscript func(text string, isFinal bool)

	pumpDone chan struct{}
}

// NewDeepgramTranscriber creates a transcriber from the pipeline config.
func NewDeepgramTranscriber(cfg pipeline.Config, logger *slog.Logger) (*DeepgramTranscriber, error) {
	if cfg.DeepgramKey == "" {
		return nil, pipeline.ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramTranscriber{
		cfg:    cfg,
		logger: logger.With("component", "bundled.deepgram"),
	}, nil
}

// Start dials the live transcription endpoint and launches the read pump.
func (t *DeepgramTranscriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return pipeline.ErrAlreadyStarted
	}
	if t.closed {
		return pipeline.ErrClosed
	}

	wsURL, err := url.Parse(t.cfg.DeepgramURL)
	if err != nil {
		return fmt.Errorf("bundled.deepgram: invalid URL: %w", err)
	}
	q := wsURL.Query()
	q.Set("model", t.cfg.STTModel)
	q.Set("language", t.cfg.STTLanguage)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	wsURL.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.DeepgramKey)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			return &pipeline.APIError{
				StatusCode: resp.StatusCode,
				Message:    err.Error(),
				Provider:   "deepgram",
			}
		}
		return pipeline.WrapError("deepgram", err)
	}

	t.conn = conn
	t.started = true
	t.pumpDone = make(chan struct{})
	go t.readPump(conn)

	t.logger.Info("connected to live transcription",
		"model", t.cfg.STTModel,
		"sample_rate", t.cfg.SampleRate,
	)
	return nil
}

// SendAudio writes one PCM16 frame to the stream.
func (t *DeepgramTranscriber) SendAudio(pcm16 []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return pipeline.ErrNotStarted
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, pcm16); err != nil {
		return pipeline.WrapError("deepgram", err)
	}
	return nil
}

func (t *DeepgramTranscriber) OnTranscript(fn func(text string, isFinal bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTranscript = fn
}

// Finalize asks the service to flush buffered audio, waits for the
// acknowledgement, and returns the utterance transcript accumulated since the
// last Finalize.
func (t *DeepgramTranscriber) Finalize(ctx context.Context) (string, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return "", pipeline.ErrNotStarted
	}
	flushed := make(chan struct{})
	t.flushed = flushed
	err := t.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
	t.mu.Unlock()
	if err != nil {
		return "", pipeline.WrapError("deepgram", err)
	}

	select {
	case <-flushed:
	case <-t.pumpDone:
		return "", pipeline.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	t.mu.Lock()
	text := strings.Join(t.segments, " ")
	t.segments = t.segments[:0]
	t.flushed = nil
	t.mu.Unlock()
	return strings.TrimSpace(text), nil
}

// Close sends CloseStream and tears down the connection.
func (t *DeepgramTranscriber) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.started = false
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	err := conn.Close()

	select {
	case <-t.pumpDone:
	case <-time.After(time.Second):
	}
	return err
}

// liveResult is the subset of Deepgram's live response we consume.
type liveResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	FromFinalize bool `json:"from_finalize"`
}

func (t *DeepgramTranscriber) readPump(conn *websocket.Conn) {
	defer close(t.pumpDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("read pump stopped", "error", err)
			}
			return
		}

		var res liveResult
		if err := json.Unmarshal(data, &res); err != nil {
			t.logger.Debug("unparseable message", "error", err)
			continue
		}
		if res.Type != "Results" {
			continue
		}

		var text string
		if len(res.Channel.Alternatives) > 0 {
			text = res.Channel.Alternatives[0].Transcript
		}
		t.mu.Lock()
		if text != "" && res.IsFinal {
			t.segments = append(t.segments, text)
		}
		fn := t.onTranscript
		var flushed chan struct{}
		if res.FromFinalize && t.flushed != nil {
			flushed = t.flushed
			t.flushed = nil
		}
		t.mu.Unlock()

		if fn != nil && text != "" {
			fn(text, res.IsFinal)
		}
		if flushed != nil {
			close(flushed)
		}
	}
}

var _ pipeline.Transcriber = (*DeepgramTranscriber)(nil)
