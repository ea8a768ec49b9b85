package denoise

// Engine operating contract. RNNoise only accepts frames of exactly
// SampleLength samples of 44.1 kHz audio, scaled to the 16-bit range.
const (
	// SampleLength is the number of samples in one engine frame.
	SampleLength = 480

	// SampleRate is the PCM rate the engine expects, in Hz. The Processor does not resample.
	SampleRate = 44100

	// BufferSize is the size in bytes of the foreign frame buffer (4 bytes per sample slot).
	BufferSize = SampleLength * 4

	// ScaleFactor converts normalized float samples to the engine's 16-bit scaled floats.
	ScaleFactor = 32768
)

// Context is an opaque handle to per-stream engine state. Zero is never a valid context.
type Context uint32

// Buffer is an opaque handle to engine-owned memory. Zero is never a valid buffer.
type Buffer uint32

// Engine is the native denoising capability the Processor drives.
//
// Memory is addressed through handles rather than raw addresses; View maps a
// handle to the float32 words backing it, in the same way a wasm module
// exposes HEAPF32. An Engine may be an in-process library, a cgo binding or
// any other implementation that honours these calls.
type Engine interface {
	// CreateContext allocates a fresh denoising state.
	CreateContext() (Context, error)

	// DestroyContext releases a state returned by CreateContext.
	DestroyContext(ctx Context) error

	// Allocate reserves size bytes of engine memory.
	Allocate(size int) (Buffer, error)

	// Free releases memory returned by Allocate.
	Free(buf Buffer) error

	// View returns the float32 words of buf. The slice stays valid until buf is freed.
	View(buf Buffer) ([]float32, error)

	// ProcessFrame denoises one SampleLength frame from in into out and
	// returns the VAD score. in and out may be the same buffer.
	ProcessFrame(ctx Context, in, out Buffer) (float32, error)
}
