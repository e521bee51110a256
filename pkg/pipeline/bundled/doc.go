// Package bundled provides the stock pipeline components: an RMS-energy
// activity detector, a Deepgram streaming transcriber, an OpenAI response
// planner, a Cartesia synthesizer, and a punctuation-heuristic turn detector.
//
// Each component implements the matching contract in pkg/pipeline and is
// constructed from a pipeline.Config.
package bundled
