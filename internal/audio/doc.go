// Package audio turns device-driven PCM chunks into fixed-length frames.
//
// FrameAssembler accumulates float32 samples of arbitrary chunk sizes into
// frames of exactly the engine frame length and hands each completed frame
// to a handler. ReorderBuffer restores sequence order for packetised input
// before it reaches an assembler. The package also decodes WAV files and
// little-endian float32 payloads.
package audio
