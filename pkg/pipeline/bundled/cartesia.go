package bundled

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleylabs/agentd/internal/httpc"
	"github.com/parleylabs/agentd/pkg/pipeline"
)

const (
	cartesiaVersion = "2024-06-10"

	// speakChunkSize is the PCM16 chunk size handed to emit: 100ms at 16kHz.
	speakChunkSize = 3200
)

// CartesiaSynthesizer turns reply text into PCM16 audio with Cartesia's
// bytes endpoint, streaming chunks to the caller as the response body
// arrives.
type CartesiaSynthesizer struct {
	cfg    pipeline.Config
	logger *slog.Logger
	client *http.Client
}

// NewCartesiaSynthesizer creates a synthesizer from the pipeline config.
func NewCartesiaSynthesizer(cfg pipeline.Config, logger *slog.Logger) (*CartesiaSynthesizer, error) {
	if cfg.CartesiaKey == "" {
		return nil, pipeline.ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CartesiaSynthesizer{
		cfg:    cfg,
		logger: logger.With("component", "bundled.cartesia"),
		client: httpc.Client,
	}, nil
}

type ttsRequest struct {
	ModelID      string          `json:"model_id"`
	Transcript   string          `json:"transcript"`
	Voice        ttsVoice        `json:"voice"`
	OutputFormat ttsOutputFormat `json:"output_format"`
}

type ttsVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type ttsOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Speak synthesizes text and streams PCM16 chunks through emit. ctx is
// checked before every emit so cancelled playback stops at the next chunk
// boundary.
func (s *CartesiaSynthesizer) Speak(ctx context.Context, text string, emit func(pcm16 []byte) error) error {
	body, err := json.Marshal(ttsRequest{
		ModelID:    s.cfg.TTSModel,
		Transcript: text,
		Voice:      ttsVoice{Mode: "id", ID: s.cfg.TTSVoice},
		OutputFormat: ttsOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: s.cfg.SampleRate,
		},
	})
	if err != nil {
		return pipeline.WrapError("cartesia", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.CartesiaURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return pipeline.WrapError("cartesia", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.cfg.CartesiaKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.WrapError("cartesia", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &pipeline.APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   "cartesia",
		}
	}

	buf := make([]byte, speakChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := emit(chunk); err != nil {
				return err
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return pipeline.WrapError("cartesia", err)
		}
	}
}

func (s *CartesiaSynthesizer) Close() error { return nil }

var _ pipeline.Synthesizer = (*CartesiaSynthesizer)(nil)
