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

func testSynthConfig(url string) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.CartesiaKey = "test-key"
	cfg.CartesiaURL = url
	cfg.TTSVoice = "voice-1"
	return cfg
}

func TestCartesiaSpeakStreamsChunks(t *testing.T) {
	audio := make([]byte, speakChunkSize*2+100) // two full chunks plus a tail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if key := r.Header.Get("X-API-Key"); key != "test-key" {
			t.Errorf("api key header = %q", key)
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Transcript != "hello world" || req.Voice.ID != "voice-1" {
			t.Errorf("request = %+v", req)
		}
		if req.OutputFormat.Encoding != "pcm_s16le" {
			t.Errorf("encoding = %q", req.OutputFormat.Encoding)
		}
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	s, err := NewCartesiaSynthesizer(testSynthConfig(srv.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	var got int
	var chunks int
	err = s.Speak(context.Background(), "hello world", func(pcm16 []byte) error {
		got += len(pcm16)
		chunks++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != len(audio) {
		t.Errorf("received %d bytes, want %d", got, len(audio))
	}
	if chunks != 3 {
		t.Errorf("received %d chunks, want 3", chunks)
	}
}

func TestCartesiaSpeakStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, speakChunkSize*10))
	}))
	defer srv.Close()

	s, _ := NewCartesiaSynthesizer(testSynthConfig(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())

	var chunks int
	err := s.Speak(ctx, "long text", func(pcm16 []byte) error {
		chunks++
		cancel() // interrupt after the first chunk
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Speak = %v, want context.Canceled", err)
	}
	if chunks != 1 {
		t.Errorf("emitted %d chunks after cancel, want 1", chunks)
	}
}

func TestCartesiaSpeakAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid key"))
	}))
	defer srv.Close()

	s, _ := NewCartesiaSynthesizer(testSynthConfig(srv.URL), nil)
	err := s.Speak(context.Background(), "x", func(pcm16 []byte) error { return nil })

	apiErr, ok := pipeline.AsAPIError(err)
	if !ok {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.IsRetryable() {
		t.Errorf("APIError = %+v", apiErr)
	}
}
