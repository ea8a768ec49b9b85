// Package denoise adapts a frame-level noise suppression engine (RNNoise or
// a compatible implementation) to host float32 PCM audio. The Processor owns
// the engine context and its foreign input/output buffer, converts samples to
// and from the engine's 16-bit scaled representation and returns a per-frame
// voice activity score.
package denoise
