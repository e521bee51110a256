package bundled

import (
	"log/slog"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// NewBundle constructs the full stock pipeline from one config.
func NewBundle(cfg pipeline.Config, logger *slog.Logger) (pipeline.Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return pipeline.Bundle{}, err
	}

	transcriber, err := NewDeepgramTranscriber(cfg, logger)
	if err != nil {
		return pipeline.Bundle{}, err
	}
	planner, err := NewOpenAIPlanner(cfg, logger)
	if err != nil {
		return pipeline.Bundle{}, err
	}
	synth, err := NewCartesiaSynthesizer(cfg, logger)
	if err != nil {
		return pipeline.Bundle{}, err
	}

	return pipeline.Bundle{
		Detector:     NewEnergyDetector(cfg, logger),
		Transcriber:  transcriber,
		Planner:      planner,
		Synthesizer:  synth,
		TurnDetector: NewHeuristicTurnDetector(),
	}, nil
}
