package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/denoise/mock"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/stream"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			UDPPort:     4444,
			BindAddress: "127.0.0.1",
			BufferSize:  65536,
			Workers:     2,
			QueueSize:   16,
		},
		HTTP: config.HTTPConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         8080,
			WSPath:       "/ws",
			WSReadLimit:  1 << 20,
			WriteTimeout: 5,
		},
		Audio: config.AudioConfig{
			SampleRate:    denoise.SampleRate,
			FrameLength:   denoise.SampleLength,
			Channels:      1,
			Denoise:       true,
			QueueFrames:   64,
			MaxGap:        20,
			StreamTimeout: 30,
		},
		Engine: config.EngineConfig{
			Kind:       config.EngineGate,
			ArenaBytes: 1 << 20,
			FloorGain:  0.1,
		},
		VAD: config.VADConfig{
			Threshold:        0.5,
			Smoothing:        1,
			MinSpeechFrames:  1,
			MinSilenceFrames: 1,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// fixtureOptions adjust the collaborators of a fixture before it starts.
type fixtureOptions struct {
	engineStats func() any
	engine      func(*mock.Engine)
	manager     func(*stream.ManagerConfig)
}

// fixture is an HTTP API backed by a mock engine, served by httptest.
type fixture struct {
	config  *config.Config
	engine  *mock.Engine
	manager *stream.Manager
	metrics *metrics.Metrics
	udp     *UDPServer
	http    *HTTPServer
	server  *httptest.Server
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	cfg := testConfig()
	engine := mock.New()
	if opts.engine != nil {
		opts.engine(engine)
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	managerConfig := stream.DefaultManagerConfig()
	managerConfig.CleanupInterval = time.Hour
	managerConfig.QueueFrames = cfg.Audio.QueueFrames
	managerConfig.VAD.Smoothing = cfg.VAD.Smoothing
	managerConfig.VAD.MinSpeechFrames = cfg.VAD.MinSpeechFrames
	managerConfig.VAD.MinSilenceFrames = cfg.VAD.MinSilenceFrames
	if opts.manager != nil {
		opts.manager(&managerConfig)
	}

	mgr, err := stream.NewManager(testLogger(), func() (denoise.Engine, error) { return engine, nil }, m, managerConfig)
	require.NoError(t, err)

	udp := NewUDPServer(&cfg.Server, testLogger(), mgr, m, nil)
	h := NewHTTPServer(cfg, testLogger(), mgr, udp, m, opts.engineStats)
	ts := httptest.NewServer(h.Handler())

	t.Cleanup(func() {
		mgr.Stop()
		ts.Close()
	})

	return &fixture{
		config:  cfg,
		engine:  engine,
		manager: mgr,
		metrics: m,
		udp:     udp,
		http:    h,
		server:  ts,
	}
}

// scoreFromFirstSample makes the mock score follow the frame content.
func scoreFromFirstSample(in []float32) float32 {
	return in[0] / denoise.ScaleFactor
}

func filledFrame(value float32) []float32 {
	frame := make([]float32, denoise.SampleLength)
	for i := range frame {
		frame[i] = value
	}
	return frame
}
