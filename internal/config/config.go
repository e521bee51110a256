// Package config loads agentd runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults mirror the platform's provisioning defaults.
const (
	DefaultDeepgramBaseURL = "wss://api.deepgram.com/v1/listen"
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultCartesiaBaseURL = "https://api.cartesia.ai"

	DefaultSTTModel = "nova-3"
	DefaultLLMModel = "gpt-4.1-mini"
	DefaultTTSModel = "sonic"

	DefaultInstructions = "You are a helpful voice assistant. Be concise and friendly."
	DefaultGreeting     = "Greet the user warmly and offer your assistance."
)

// Settings holds everything agentd needs to join a room and run a session.
type Settings struct {
	// Room gateway
	GatewayURL   string // ws:// or wss:// signalling endpoint
	GatewayToken string // access token minted by the provisioning service

	// STT (Deepgram)
	DeepgramAPIKey  string
	DeepgramBaseURL string
	STTModel        string

	// LLM (OpenAI)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	LLMModel      string

	// TTS (Cartesia)
	CartesiaAPIKey  string
	CartesiaBaseURL string
	TTSModel        string
	TTSVoiceID      string

	// Agent defaults, used when the session template supplies none
	Instructions string
	Greeting     string

	// Monitor dashboard
	MonitorPort int

	// Session registry; empty means in-memory
	RedisAddr string

	LogLevel string
}

// Load reads settings from the environment.
// Missing required keys are reported together so operators fix them in one pass.
func Load() (*Settings, error) {
	s := &Settings{
		GatewayURL:      os.Getenv("GATEWAY_URL"),
		GatewayToken:    os.Getenv("GATEWAY_TOKEN"),
		DeepgramAPIKey:  os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramBaseURL: getenv("DEEPGRAM_BASE_URL", DefaultDeepgramBaseURL),
		STTModel:        getenv("STT_MODEL", DefaultSTTModel),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   getenv("OPENAI_BASE_URL", DefaultOpenAIBaseURL),
		LLMModel:        getenv("LLM_MODEL", DefaultLLMModel),
		CartesiaAPIKey:  os.Getenv("CARTESIA_API_KEY"),
		CartesiaBaseURL: getenv("CARTESIA_BASE_URL", DefaultCartesiaBaseURL),
		TTSModel:        getenv("TTS_MODEL", DefaultTTSModel),
		TTSVoiceID:      os.Getenv("TTS_VOICE_ID"),
		Instructions:    getenv("DEFAULT_AGENT_INSTRUCTIONS", DefaultInstructions),
		Greeting:        getenv("DEFAULT_AGENT_GREETING", DefaultGreeting),
		MonitorPort:     getenvInt("MONITOR_PORT", 8080),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	var missing []string
	for _, req := range []struct{ key, val string }{
		{"GATEWAY_URL", s.GatewayURL},
		{"DEEPGRAM_API_KEY", s.DeepgramAPIKey},
		{"OPENAI_API_KEY", s.OpenAIAPIKey},
		{"CARTESIA_API_KEY", s.CartesiaAPIKey},
		{"TTS_VOICE_ID", s.TTSVoiceID},
	} {
		if req.val == "" {
			missing = append(missing, req.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %v", missing)
	}

	return s, nil
}

// getenv returns the env value or the fallback if unset.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getenvInt returns the env value parsed as int, or the fallback.
func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
