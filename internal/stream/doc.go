// Package stream runs capture sessions. A Session assembles per-channel
// frames on the capture goroutine, passes them through a bounded
// non-blocking frame queue and processes them on one consumer goroutine
// that drives the denoise processor and the VAD detector. The Manager
// creates sessions, enforces the session limit and removes idle ones.
package stream
