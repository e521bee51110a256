// Command agentd runs one conversational voice agent session in a room.
//
// It joins the room through the gateway, wires the audio pipeline
// (Deepgram STT, OpenAI planning, Cartesia TTS), and serves a monitoring
// dashboard with health, metrics, and a live event feed.
//
// Usage:
//
//	agentd -room <room-id> [-identity <name>]
//
// Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleylabs/agentd/internal/config"
	"github.com/parleylabs/agentd/internal/log"
	"github.com/parleylabs/agentd/pkg/monitor"
	"github.com/parleylabs/agentd/pkg/pipeline"
	"github.com/parleylabs/agentd/pkg/pipeline/bundled"
	"github.com/parleylabs/agentd/pkg/registry"
	"github.com/parleylabs/agentd/pkg/room"
	"github.com/parleylabs/agentd/pkg/session"
)

const setupTimeout = 30 * time.Second

func main() {
	roomID := flag.String("room", "", "room ID to join (required)")
	identity := flag.String("identity", "agent", "participant identity for the agent")
	flag.Parse()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: agentd -room <room-id> [-identity <name>]")
		os.Exit(2)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Init(settings.LogLevel)
	logger := log.Component("main")

	if err := run(settings, *roomID, *identity); err != nil {
		logger.Error("agentd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings, roomID, identity string) error {
	logger := log.Component("main")

	// Monitoring surface
	mon := monitor.NewServer(fmt.Sprintf(":%d", settings.MonitorPort), log.L())
	go func() {
		if err := mon.Start(); err != nil {
			logger.Error("monitor server stopped", "error", err)
		}
	}()
	defer mon.Shutdown()

	// Session registry: Redis when configured, in-memory otherwise.
	store, err := newStore(settings)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	defer store.Close()

	// Pipeline
	pcfg := pipeline.DefaultConfig()
	pcfg.DeepgramKey = settings.DeepgramAPIKey
	pcfg.DeepgramURL = settings.DeepgramBaseURL
	pcfg.STTModel = settings.STTModel
	pcfg.OpenAIKey = settings.OpenAIAPIKey
	pcfg.OpenAIURL = settings.OpenAIBaseURL
	pcfg.LLMModel = settings.LLMModel
	pcfg.CartesiaKey = settings.CartesiaAPIKey
	pcfg.CartesiaURL = settings.CartesiaBaseURL
	pcfg.TTSModel = settings.TTSModel
	pcfg.TTSVoice = settings.TTSVoiceID

	bundle, err := bundled.NewBundle(pcfg, log.L())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	// Room connection
	roomClient, err := room.NewClient(room.Config{
		GatewayURL: settings.GatewayURL,
		Token:      settings.GatewayToken,
		RoomID:     roomID,
		Identity:   identity,
		SampleRate: pcfg.SampleRate,
		Logger:     log.L(),
	})
	if err != nil {
		return fmt.Errorf("create room client: %w", err)
	}

	// Session
	orch, err := session.New(session.Config{
		RoomID:       roomID,
		SystemPrompt: settings.Instructions,
		Greeting:     settings.Greeting,
		Pipeline:     bundle,
		Sink:         roomClient,
		Registry:     store,
		Hooks:        mon.Hooks(),
		Logger:       log.L(),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	roomClient.OnAudioFrame(orch.ProcessAudio)
	roomClient.OnEvent(orch.OnRoomEvent)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := roomClient.Connect(ctx); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer roomClient.Close()

	if err := orch.Start(ctx); err != nil {
		roomClient.Close()
		return fmt.Errorf("start session: %w", err)
	}

	logger.Info("agentd running",
		"room", roomID,
		"session_id", orch.ID(),
		"monitor_port", settings.MonitorPort,
	)

	// Run until the session ends or the process is told to stop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("signal received, shutting down", "signal", s.String())
		orch.OnDisconnect()
	case <-orch.Done():
		logger.Info("session ended")
	}
	return nil
}

func newStore(settings *config.Settings) (registry.Store, error) {
	if settings.RedisAddr == "" {
		return registry.NewStore(registry.StoreTypeMemory)
	}
	client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	return registry.NewStore(registry.StoreTypeRedis, registry.WithRedisClient(client))
}
