// Package config loads and validates the YAML configuration of the denoise
// service. The audio section is checked against the fixed engine contract of
// 480 sample frames at 44100 Hz.
package config
