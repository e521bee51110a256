package bundled

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// EnergyDetector is an RMS-energy voice activity detector. A frame whose
// normalized RMS crosses the threshold counts as voiced; speech ends after
// the configured silence duration passes without a voiced frame.
//
// It is deliberately simple: no model download, no cgo, deterministic in
// tests. Frame timing comes from the audio stream itself, so it works with
// any frame size.
type EnergyDetector struct {
	threshold float64
	silence   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	started   bool
	speaking  bool
	lastVoice time.Time
	onStart   func()
	onEnd     func()
}

// NewEnergyDetector creates a detector from the pipeline config.
func NewEnergyDetector(cfg pipeline.Config, logger *slog.Logger) *EnergyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnergyDetector{
		threshold: cfg.VADThreshold,
		silence:   cfg.VADSilenceDuration,
		logger:    logger.With("component", "bundled.vad"),
	}
}

func (d *EnergyDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return pipeline.ErrAlreadyStarted
	}
	d.started = true
	return nil
}

func (d *EnergyDetector) OnSpeechStart(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStart = fn
}

func (d *EnergyDetector) OnSpeechEnd(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEnd = fn
}

// ProcessAudio classifies one PCM16 mono frame and fires boundary callbacks.
func (d *EnergyDetector) ProcessAudio(pcm16 []byte) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}

	voiced := rms(pcm16) >= d.threshold
	now := time.Now()

	var fire func()
	switch {
	case voiced && !d.speaking:
		d.speaking = true
		d.lastVoice = now
		fire = d.onStart
		d.logger.Debug("speech started")
	case voiced:
		d.lastVoice = now
	case d.speaking && now.Sub(d.lastVoice) >= d.silence:
		d.speaking = false
		fire = d.onEnd
		d.logger.Debug("speech ended")
	}
	d.mu.Unlock()

	if fire != nil {
		fire()
	}
}

func (d *EnergyDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.speaking = false
	return nil
}

// rms computes the normalized root-mean-square of a PCM16 little-endian
// frame, in [0, 1].
func rms(pcm16 []byte) float64 {
	n := len(pcm16) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm16[2*i]) | uint16(pcm16[2*i+1])<<8)
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

var _ pipeline.ActivityDetector = (*EnergyDetector)(nil)
