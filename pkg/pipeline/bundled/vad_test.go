package bundled

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// toneFrame builds a PCM16 sine frame loud enough to cross any reasonable
// threshold.
func toneFrame(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(20000 * math.Sin(2*math.Pi*float64(i)/32))
		buf[2*i] = byte(uint16(s))
		buf[2*i+1] = byte(uint16(s) >> 8)
	}
	return buf
}

func silentFrame(samples int) []byte {
	return make([]byte, samples*2)
}

func testVADConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.VADThreshold = 0.1
	cfg.VADSilenceDuration = 20 * time.Millisecond
	return cfg
}

func TestEnergyDetectorBoundaries(t *testing.T) {
	d := NewEnergyDetector(testVADConfig(), nil)

	var starts, ends atomic.Int32
	d.OnSpeechStart(func() { starts.Add(1) })
	d.OnSpeechEnd(func() { ends.Add(1) })

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Voiced frames: exactly one start, no matter how many frames.
	for i := 0; i < 5; i++ {
		d.ProcessAudio(toneFrame(320))
	}
	if got := starts.Load(); got != 1 {
		t.Fatalf("speech start fired %d times, want 1", got)
	}
	if got := ends.Load(); got != 0 {
		t.Fatalf("speech end fired %d times before silence", got)
	}

	// Silence shorter than the window keeps the segment open.
	d.ProcessAudio(silentFrame(320))
	if got := ends.Load(); got != 0 {
		t.Fatalf("speech end fired after one silent frame")
	}

	// Once the silence window elapses, exactly one end fires.
	time.Sleep(30 * time.Millisecond)
	d.ProcessAudio(silentFrame(320))
	d.ProcessAudio(silentFrame(320))
	if got := ends.Load(); got != 1 {
		t.Fatalf("speech end fired %d times, want 1", got)
	}

	// A new voiced frame starts a second segment.
	d.ProcessAudio(toneFrame(320))
	if got := starts.Load(); got != 2 {
		t.Fatalf("speech start fired %d times, want 2", got)
	}
}

func TestEnergyDetectorIgnoresAudioBeforeStart(t *testing.T) {
	d := NewEnergyDetector(testVADConfig(), nil)

	var starts atomic.Int32
	d.OnSpeechStart(func() { starts.Add(1) })

	d.ProcessAudio(toneFrame(320))
	if got := starts.Load(); got != 0 {
		t.Fatalf("detector fired before Start")
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != pipeline.ErrAlreadyStarted {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v", got)
	}
	if got := rms(silentFrame(160)); got != 0 {
		t.Errorf("rms(silence) = %v", got)
	}
	loud := rms(toneFrame(160))
	if loud < 0.3 || loud > 1 {
		t.Errorf("rms(tone) = %v, want in (0.3, 1]", loud)
	}
}
