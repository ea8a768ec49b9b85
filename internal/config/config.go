package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine kinds accepted by engine.kind
const (
	EngineGate    = "gate"
	EngineRNNoise = "rnnoise"
)

// Fixed engine contract the audio section must match
const (
	RequiredSampleRate  = 44100
	RequiredFrameLength = 480
	MaxChannels         = 8
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	VAD     VADConfig     `yaml:"vad"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"` // packets buffered per worker
}

// HTTPConfig contains HTTP API and WebSocket server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	Enabled      bool   `yaml:"enabled"`
	WSPath       string `yaml:"ws_path"`
	WSReadLimit  int64  `yaml:"ws_read_limit"` // bytes per message
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	SampleRate     int  `yaml:"sample_rate"`
	FrameLength    int  `yaml:"frame_length"`
	Channels       int  `yaml:"channels"`        // default for WebSocket sessions
	DenoiseChannel int  `yaml:"denoise_channel"` // default for WebSocket sessions
	Denoise        bool `yaml:"denoise"`         // default for WebSocket sessions
	QueueFrames    int  `yaml:"queue_frames"`
	MaxGap         int  `yaml:"max_gap"`        // packets
	StreamTimeout  int  `yaml:"stream_timeout"` // seconds
	MaxSessions    int  `yaml:"max_sessions"`
}

// EngineConfig selects and tunes the denoise engine
type EngineConfig struct {
	Kind       string  `yaml:"kind"`
	ArenaBytes int     `yaml:"arena_bytes"` // gate engine memory budget
	FloorGain  float64 `yaml:"floor_gain"`
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Threshold        float32 `yaml:"threshold"`
	Smoothing        float32 `yaml:"smoothing"`
	MinSpeechFrames  int     `yaml:"min_speech_frames"`
	MinSilenceFrames int     `yaml:"min_silence_frames"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.WSPath == "" || h.WSPath[0] != '/' {
		return fmt.Errorf("ws_path must start with '/', got '%s'", h.WSPath)
	}

	if h.WSReadLimit < 1024 {
		return fmt.Errorf("ws_read_limit must be at least 1024 bytes, got %d", h.WSReadLimit)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != RequiredSampleRate {
		return fmt.Errorf("sample_rate must be %d Hz for the denoise engine, got %d", RequiredSampleRate, a.SampleRate)
	}

	if a.FrameLength != RequiredFrameLength {
		return fmt.Errorf("frame_length must be %d samples for the denoise engine, got %d", RequiredFrameLength, a.FrameLength)
	}

	if a.Channels < 1 || a.Channels > MaxChannels {
		return fmt.Errorf("channels must be between 1 and %d, got %d", MaxChannels, a.Channels)
	}

	if a.DenoiseChannel < 0 || a.DenoiseChannel >= a.Channels {
		return fmt.Errorf("denoise_channel must be between 0 and %d, got %d", a.Channels-1, a.DenoiseChannel)
	}

	if a.QueueFrames < 1 {
		return fmt.Errorf("queue_frames must be at least 1, got %d", a.QueueFrames)
	}

	if a.MaxGap < 1 {
		return fmt.Errorf("max_gap must be at least 1, got %d", a.MaxGap)
	}

	if a.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", a.StreamTimeout)
	}

	if a.MaxSessions < 0 {
		return fmt.Errorf("max_sessions cannot be negative, got %d", a.MaxSessions)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	switch e.Kind {
	case EngineGate:
		if e.ArenaBytes < RequiredFrameLength*4 {
			return fmt.Errorf("arena_bytes must hold at least one frame (%d bytes), got %d", RequiredFrameLength*4, e.ArenaBytes)
		}
		if e.FloorGain < 0 || e.FloorGain > 1 {
			return fmt.Errorf("floor_gain must be between 0 and 1, got %f", e.FloorGain)
		}
	case EngineRNNoise:
	default:
		return fmt.Errorf("kind must be '%s' or '%s', got '%s'", EngineGate, EngineRNNoise, e.Kind)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.Smoothing <= 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", v.Smoothing)
	}

	if v.MinSpeechFrames < 1 {
		return fmt.Errorf("min_speech_frames must be at least 1, got %d", v.MinSpeechFrames)
	}

	if v.MinSilenceFrames < 1 {
		return fmt.Errorf("min_silence_frames must be at least 1, got %d", v.MinSilenceFrames)
	}

	return nil
}

// Validate validates logging configuration. Output is stdout, stderr or a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (a *AudioConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(a.StreamTimeout) * time.Second
}

// GetFrameDuration returns the duration of one engine frame
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameLength) * time.Second / time.Duration(a.SampleRate)
}

// GetMinSpeechDuration returns the minimum speech duration implied by the frame counts
func (v *VADConfig) GetMinSpeechDuration(frame time.Duration) time.Duration {
	return time.Duration(v.MinSpeechFrames) * frame
}

// GetMinSilenceDuration returns the minimum silence duration implied by the frame counts
func (v *VADConfig) GetMinSilenceDuration(frame time.Duration) time.Duration {
	return time.Duration(v.MinSilenceFrames) * frame
}

// GetWriteTimeoutDuration returns the WebSocket write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}
