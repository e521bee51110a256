package bundled

import (
	"strings"
	"sync"

	"github.com/parleylabs/agentd/pkg/pipeline"
)

// Probability bands for the heuristic turn detector.
const (
	probComplete   = 0.9
	probIncomplete = 0.2
	probNeutral    = 0.6
	probNoSignal   = 0.5
)

// trailingIncomplete are words that almost never end a spoken turn.
var trailingIncomplete = map[string]bool{
	"and":     true,
	"but":     true,
	"or":      true,
	"so":      true,
	"because": true,
	"if":      true,
	"when":    true,
	"the":     true,
	"a":       true,
	"to":      true,
	"um":      true,
	"uh":      true,
	"like":    true,
}

// HeuristicTurnDetector estimates end-of-turn from the trailing shape of the
// interim transcript: sentence-final punctuation means the turn is likely
// over, a dangling conjunction or filler word means it is not.
type HeuristicTurnDetector struct {
	mu   sync.Mutex
	text string
}

// NewHeuristicTurnDetector creates an empty detector.
func NewHeuristicTurnDetector() *HeuristicTurnDetector {
	return &HeuristicTurnDetector{}
}

func (d *HeuristicTurnDetector) ObserveTranscript(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

func (d *HeuristicTurnDetector) EndOfTurnProbability() float64 {
	d.mu.Lock()
	text := strings.TrimSpace(d.text)
	d.mu.Unlock()

	if text == "" {
		return probNoSignal
	}

	switch text[len(text)-1] {
	case '.', '!', '?':
		return probComplete
	case ',', ':', ';', '-':
		return probIncomplete
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 && trailingIncomplete[strings.Trim(words[len(words)-1], ".,!?")] {
		return probIncomplete
	}
	return probNeutral
}

func (d *HeuristicTurnDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = ""
}

var _ pipeline.TurnDetector = (*HeuristicTurnDetector)(nil)
