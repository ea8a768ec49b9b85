package denoise

import "errors"

// Construction errors. A Processor is never returned alongside one of these.
var (
	// ErrResourceExhausted indicates the foreign frame buffer could not be allocated.
	ErrResourceExhausted = errors.New("denoise: foreign buffer allocation failed")

	// ErrEngineInitFailed indicates the engine refused to create a context.
	ErrEngineInitFailed = errors.New("denoise: engine context creation failed")
)

// Per-frame errors. The Processor stays usable after ErrInvalidFrameLength.
var (
	// ErrInvalidFrameLength indicates a frame whose length is not SampleLength.
	ErrInvalidFrameLength = errors.New("denoise: invalid frame length")

	// ErrUseAfterDestroy indicates a call on a Processor after Destroy.
	ErrUseAfterDestroy = errors.New("denoise: processor used after destroy")

	// ErrEngineFailure wraps an error reported by the engine while processing a frame.
	ErrEngineFailure = errors.New("denoise: engine failed to process frame")
)
