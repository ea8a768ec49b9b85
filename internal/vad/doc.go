// Package vad turns per-frame voice activity scores into voice decisions.
// The Detector smooths raw engine scores, applies a threshold with speech and
// silence hysteresis, and tracks voice segments in frame and sample time.
package vad
