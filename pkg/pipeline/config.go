package pipeline

import (
	"errors"
	"time"
)

// Config holds all tunable parameters for the bundled pipeline components.
// Parameters are organized by stage for clarity.
type Config struct {
	// API keys
	DeepgramKey string
	OpenAIKey   string
	CartesiaKey string

	// Endpoints (defaults point at the public APIs)
	DeepgramURL string
	OpenAIURL   string
	CartesiaURL string

	// Audio settings
	SampleRate int // PCM16 mono sample rate (default: 16000)

	// VAD (Voice Activity Detection) settings
	VADThreshold       float64       // RMS activation threshold 0.0-1.0 (default: 0.5)
	VADSilenceDuration time.Duration // Silence duration to detect end of speech (default: 500ms)

	// STT settings
	STTModel    string // Deepgram model (default: nova-3)
	STTLanguage string // Language hint (default: "en")

	// LLM settings
	LLMModel       string  // Model name (default: gpt-4.1-mini)
	LLMTemperature float64 // Response randomness 0.0-2.0 (default: 0.8)
	LLMMaxTokens   int     // Maximum response tokens (default: 1024)

	// TTS settings
	TTSModel string // Cartesia model (default: sonic)
	TTSVoice string // Cartesia voice ID

	// Debug settings
	Debug bool // Enable debug logging
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DeepgramURL: "wss://api.deepgram.com/v1/listen",
		OpenAIURL:   "https://api.openai.com/v1",
		CartesiaURL: "https://api.cartesia.ai",

		SampleRate: 16000,

		VADThreshold:       0.5,
		VADSilenceDuration: 500 * time.Millisecond,

		STTModel:    "nova-3",
		STTLanguage: "en",

		LLMModel:       "gpt-4.1-mini",
		LLMTemperature: 0.8,
		LLMMaxTokens:   1024,

		TTSModel: "sonic",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return errors.New("pipeline: VAD threshold must be between 0 and 1")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return errors.New("pipeline: LLM temperature must be between 0 and 2")
	}
	if c.SampleRate <= 0 {
		return errors.New("pipeline: sample rate must be positive")
	}
	return nil
}

// WithSTT returns a copy with the STT model set.
func (c Config) WithSTT(model string) Config {
	c.STTModel = model
	return c
}

// WithLLM returns a copy with the LLM model set.
func (c Config) WithLLM(model string) Config {
	c.LLMModel = model
	return c
}

// WithTTS returns a copy with the TTS model and voice set.
func (c Config) WithTTS(model, voice string) Config {
	c.TTSModel = model
	c.TTSVoice = voice
	return c
}

// WithVAD returns a copy with VAD settings.
func (c Config) WithVAD(threshold float64, silenceDuration time.Duration) Config {
	c.VADThreshold = threshold
	c.VADSilenceDuration = silenceDuration
	return c
}

// WithDebug returns a copy with debug enabled.
func (c Config) WithDebug(debug bool) Config {
	c.Debug = debug
	return c
}
