package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:     4444,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			Workers:     4,
			QueueSize:   1024,
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Address:      "0.0.0.0",
			Port:         8080,
			WSPath:       "/ws",
			WSReadLimit:  1 << 20,
			WriteTimeout: 5,
		},
		Audio: AudioConfig{
			SampleRate:     44100,
			FrameLength:    480,
			Channels:       2,
			DenoiseChannel: 1,
			Denoise:        true,
			QueueFrames:    64,
			MaxGap:         20,
			StreamTimeout:  30,
			MaxSessions:    10,
		},
		Engine: EngineConfig{
			Kind:       EngineGate,
			ArenaBytes: 1 << 20,
			FloorGain:  0.1,
		},
		VAD: VADConfig{
			Threshold:        0.5,
			Smoothing:        0.6,
			MinSpeechFrames:  3,
			MinSilenceFrames: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			modify: func(c *Config) {},
		},
		{
			name:        "invalid server port",
			modify:      func(c *Config) { c.Server.UDPPort = 0 },
			expectError: true,
			errorMsg:    "udp_port must be between 1 and 65535",
		},
		{
			name:        "no workers",
			modify:      func(c *Config) { c.Server.Workers = 0 },
			expectError: true,
			errorMsg:    "workers must be at least 1",
		},
		{
			name:        "wrong sample rate",
			modify:      func(c *Config) { c.Audio.SampleRate = 48000 },
			expectError: true,
			errorMsg:    "sample_rate must be 44100 Hz",
		},
		{
			name:        "wrong frame length",
			modify:      func(c *Config) { c.Audio.FrameLength = 512 },
			expectError: true,
			errorMsg:    "frame_length must be 480 samples",
		},
		{
			name:        "too many channels",
			modify:      func(c *Config) { c.Audio.Channels = 9 },
			expectError: true,
			errorMsg:    "channels must be between 1 and 8",
		},
		{
			name:        "denoise channel out of range",
			modify:      func(c *Config) { c.Audio.DenoiseChannel = 2 },
			expectError: true,
			errorMsg:    "denoise_channel must be between 0 and 1",
		},
		{
			name:        "no frame queue",
			modify:      func(c *Config) { c.Audio.QueueFrames = 0 },
			expectError: true,
			errorMsg:    "queue_frames must be at least 1",
		},
		{
			name:        "unknown engine",
			modify:      func(c *Config) { c.Engine.Kind = "speex" },
			expectError: true,
			errorMsg:    "kind must be 'gate' or 'rnnoise'",
		},
		{
			name:        "gate arena too small",
			modify:      func(c *Config) { c.Engine.ArenaBytes = 100 },
			expectError: true,
			errorMsg:    "arena_bytes must hold at least one frame",
		},
		{
			name: "rnnoise ignores gate settings",
			modify: func(c *Config) {
				c.Engine.Kind = EngineRNNoise
				c.Engine.ArenaBytes = 0
			},
		},
		{
			name:        "invalid VAD threshold",
			modify:      func(c *Config) { c.VAD.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between 0 and 1",
		},
		{
			name:        "zero smoothing",
			modify:      func(c *Config) { c.VAD.Smoothing = 0 },
			expectError: true,
			errorMsg:    "smoothing must be in (0, 1]",
		},
		{
			name:        "bad ws path",
			modify:      func(c *Config) { c.HTTP.WSPath = "ws" },
			expectError: true,
			errorMsg:    "ws_path must start with '/'",
		},
		{
			name: "disabled HTTP skips validation",
			modify: func(c *Config) {
				c.HTTP = HTTPConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: 65536
  workers: 2
  queue_size: 128
http:
  enabled: false
audio:
  sample_rate: 44100
  frame_length: 480
  channels: 1
  denoise_channel: 0
  denoise: true
  queue_frames: 32
  max_gap: 10
  stream_timeout: 60
  max_sessions: 0
engine:
  kind: "gate"
  arena_bytes: 65536
  floor_gain: 0.2
vad:
  threshold: 0.5
  smoothing: 1.0
  min_speech_frames: 2
  min_silence_frames: 5
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  udp_port: 4444
  bind_address: "0.0.0.0"
  buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
server:
  udp_port: 4444
  # missing bind_address
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Engine.FloorGain != 0.2 || !config.Audio.Denoise || config.Server.Workers != 2 {
				t.Errorf("Config values not loaded: %+v", config)
			}
		})
	}
}

func TestDefaultConfigFileIsValid(t *testing.T) {
	config, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Default config failed to load: %v", err)
	}
	if config.Engine.Kind != EngineGate {
		t.Errorf("Expected default engine 'gate', got '%s'", config.Engine.Kind)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	audio := AudioConfig{
		SampleRate:    44100,
		FrameLength:   480,
		StreamTimeout: 60,
	}

	if audio.GetStreamTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", audio.GetStreamTimeoutDuration())
	}

	frame := audio.GetFrameDuration()
	if frame != 480*time.Second/44100 {
		t.Errorf("Expected frame duration of 480/44100 s, got %v", frame)
	}

	vad := VADConfig{
		MinSpeechFrames:  3,
		MinSilenceFrames: 10,
	}

	if vad.GetMinSpeechDuration(frame) != 3*frame {
		t.Errorf("Expected 3 frames, got %v", vad.GetMinSpeechDuration(frame))
	}

	if vad.GetMinSilenceDuration(frame) != 10*frame {
		t.Errorf("Expected 10 frames, got %v", vad.GetMinSilenceDuration(frame))
	}

	http := HTTPConfig{WriteTimeout: 5}
	if http.GetWriteTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", http.GetWriteTimeoutDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{"valid json stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, true},
		{"valid text file", LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/denoise.log"}, true},
		{"invalid level", LoggingConfig{Level: "trace", Format: "json", Output: "stdout"}, false},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config, got no error")
			}
		})
	}
}
