package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/denoise/gate"
	"github.com/skypro1111/denoise-service/internal/denoise/native"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/server"
	"github.com/skypro1111/denoise-service/internal/stream"
	"github.com/skypro1111/denoise-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "denoise-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("workers", cfg.Server.Workers),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_length", cfg.Audio.FrameLength),
		slog.Int("max_sessions", cfg.Audio.MaxSessions),
		slog.String("engine", cfg.Engine.Kind),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	engine, engineStats, err := newEngine(cfg.Engine)
	if err != nil {
		appMetrics.RecordEngineInitError()
		logger.Error("Failed to initialize denoise engine",
			slog.String("engine", cfg.Engine.Kind),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Denoise engine initialized", slog.String("engine", cfg.Engine.Kind))

	frame := cfg.Audio.GetFrameDuration()
	streamConfig := stream.ManagerConfig{
		Timeout:         cfg.Audio.GetStreamTimeoutDuration(),
		CleanupInterval: 10 * time.Second,
		MaxSessions:     cfg.Audio.MaxSessions,
		QueueFrames:     cfg.Audio.QueueFrames,
		MaxGap:          uint32(cfg.Audio.MaxGap),
		VAD: vad.Config{
			Threshold:        cfg.VAD.Threshold,
			Smoothing:        cfg.VAD.Smoothing,
			MinSpeechFrames:  cfg.VAD.MinSpeechFrames,
			MinSilenceFrames: cfg.VAD.MinSilenceFrames,
			FrameLength:      cfg.Audio.FrameLength,
			SampleRate:       cfg.Audio.SampleRate,
		},
	}

	// One engine serves every session, each session owns its context and buffer.
	factory := func() (denoise.Engine, error) { return engine, nil }

	streamMgr, err := stream.NewManager(logger, factory, appMetrics, streamConfig)
	if err != nil {
		logger.Error("Failed to create stream manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Stream manager initialized",
		slog.Duration("stream_timeout", streamConfig.Timeout),
		slog.Int("queue_frames", streamConfig.QueueFrames),
		slog.Duration("min_speech", cfg.VAD.GetMinSpeechDuration(frame)),
		slog.Duration("min_silence", cfg.VAD.GetMinSilenceDuration(frame)),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, streamMgr, appMetrics, segmentLogger(logger))
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, streamMgr, udpServer, appMetrics, engineStats)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests and connections)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Stop UDP server (stop accepting new packets)
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Drain and destroy every session, this also ends open WebSocket captures
	streamMgr.Stop()

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	logger.Info("Service stopped")
}

// newEngine builds the configured denoise engine. The returned stats
// function is nil for engines without statistics.
func newEngine(cfg config.EngineConfig) (denoise.Engine, func() any, error) {
	switch cfg.Kind {
	case config.EngineRNNoise:
		engine, err := native.New()
		if err != nil {
			return nil, nil, err
		}
		return engine, nil, nil
	default:
		gateConfig := gate.DefaultConfig()
		gateConfig.ArenaSize = cfg.ArenaBytes
		gateConfig.FloorGain = cfg.FloorGain
		engine, err := gate.New(gateConfig)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() any { return engine.GetStats() }, nil
	}
}

// segmentLogger is the sink for UDP sessions: it logs closed voice segments.
func segmentLogger(logger *slog.Logger) stream.Sink {
	return stream.SinkFunc(func(result stream.FrameResult) {
		if result.Segment == nil {
			return
		}
		logger.Info("Voice segment detected",
			slog.Uint64("stream_id", uint64(result.StreamID)),
			slog.String("session_id", result.SessionID),
			slog.Uint64("start_frame", result.Segment.StartFrame),
			slog.Uint64("end_frame", result.Segment.EndFrame),
			slog.Duration("start", result.Segment.Start),
			slog.Duration("duration", result.Segment.Duration),
			slog.Float64("confidence", float64(result.Segment.Confidence)),
		)
	})
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
