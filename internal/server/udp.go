package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/protocol"
	"github.com/skypro1111/denoise-service/internal/stream"
)

// UDPServer receives TLV capture packets and feeds them to stream sessions.
// All packets of one stream are handled by the same worker so their order
// is kept up to the session's reorder buffer.
type UDPServer struct {
	conn      *net.UDPConn
	config    *config.ServerConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	metrics   *metrics.Metrics
	sink      stream.Sink

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	receiveWG sync.WaitGroup
	workerWG  sync.WaitGroup
	stopOnce  sync.Once

	// Packet processing, one queue per worker
	workers []chan *incomingPacket

	// Counters
	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	packetsDropped   atomic.Uint64
	parseErrors      atomic.Uint64
	audioErrors      atomic.Uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance. sink, if not nil, receives
// the frame results of every session created from a start packet.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics, sink stream.Sink) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := make([]chan *incomingPacket, cfg.Workers)
	for i := range workers {
		workers[i] = make(chan *incomingPacket, cfg.QueueSize)
	}

	return &UDPServer{
		config:    cfg,
		logger:    logger,
		streamMgr: streamMgr,
		metrics:   m,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		workers:   workers,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", len(s.workers)),
	)

	for i, queue := range s.workers {
		s.workerWG.Add(1)
		go s.packetProcessor(i, queue)
	}

	s.receiveWG.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound local address, or nil before Start.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server. Queued packets are handled before
// the workers exit.
func (s *UDPServer) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP server...")

		s.cancel()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
			}
		}
		s.receiveWG.Wait()

		// The receive loop has exited, nothing sends on the worker queues anymore.
		for _, queue := range s.workers {
			close(queue)
		}
		s.workerWG.Wait()

		stats := s.GetStatistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("packets_dropped", stats.PacketsDropped),
			slog.Uint64("parse_errors", stats.ParseErrors),
		)
	})
	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Read deadline lets the loop notice cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived()

		header, err := protocol.ParseHeader(buffer[:n])
		if err != nil {
			s.recordParseError(remoteAddr, n, err)
			continue
		}

		// Buffer is reused for the next read
		packet := &incomingPacket{
			data:       append([]byte(nil), buffer[:n]...),
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		queue := s.workers[header.StreamID%uint32(len(s.workers))]
		select {
		case queue <- packet:
		default:
			s.packetsDropped.Add(1)
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

func (s *UDPServer) recordParseError(remoteAddr *net.UDPAddr, size int, err error) {
	s.parseErrors.Add(1)
	s.metrics.RecordParseError()
	s.logger.Warn("Failed to parse packet",
		slog.String("remote_addr", remoteAddr.String()),
		slog.Int("packet_size", size),
		slog.String("error", err.Error()),
	)
}

// packetProcessor handles the packets routed to one worker
func (s *UDPServer) packetProcessor(workerID int, queue <-chan *incomingPacket) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	// Decoded samples are copied by the session, so one scratch slice per worker is enough.
	var scratch []float32
	for packet := range queue {
		scratch = s.handlePacket(packet, workerID, scratch)
		s.metrics.SetQueueSize(len(queue))
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int, scratch []float32) []float32 {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.recordParseError(packet.remoteAddr, len(packet.data), err)
		return scratch
	}

	s.packetsProcessed.Add(1)
	s.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeStart:
		s.processStartPacket(parsed.Header, parsed.Start, workerID)
	case protocol.PacketTypeAudio:
		scratch = s.processAudioPacket(parsed.Header, parsed.Audio, scratch)
	case protocol.PacketTypeStop:
		s.processStopPacket(parsed.Header, workerID)
	}
	return scratch
}

// processStartPacket creates (or updates) the session for a stream
func (s *UDPServer) processStartPacket(header *protocol.Header, payload *protocol.StartPayload, workerID int) {
	session, err := s.streamMgr.CreateSession(header.StreamID, stream.SessionConfig{
		Source:         stream.SourceUDP,
		Label:          payload.GetLabel(),
		SampleRate:     int(payload.SampleRate),
		Channels:       int(payload.Channels),
		DenoiseChannel: int(payload.DenoiseChannel),
		Denoise:        payload.DenoiseEnabled(),
		Sink:           s.sink,
	})
	if err != nil {
		s.logger.Error("Failed to create stream session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("start", payload.String()),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Info("Start packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("session_id", session.ID),
		slog.String("label", session.Label),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket decodes samples and pushes them to the stream session
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, scratch []float32) []float32 {
	session, ok := s.streamMgr.GetSession(header.StreamID)
	if !ok {
		s.audioErrors.Add(1)
		s.logger.Debug("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
		return scratch
	}

	samples, err := audio.DecodeFloat32LE(scratch[:0], payload.AudioData)
	if err != nil {
		s.audioErrors.Add(1)
		return scratch
	}

	if err := session.AddSequencedAudio(int(header.Channel), payload.Sequence, samples); err != nil {
		s.audioErrors.Add(1)
		// Stale packets are expected on a lossy network
		if !errors.Is(err, audio.ErrStalePacket) {
			s.logger.Warn("Failed to add audio to session",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
				slog.Int("channel", int(header.Channel)),
				slog.String("error", err.Error()),
			)
		}
	}
	return samples
}

// processStopPacket ends a stream
func (s *UDPServer) processStopPacket(header *protocol.Header, workerID int) {
	if !s.streamMgr.RemoveSession(header.StreamID) {
		s.logger.Debug("Stop packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("worker_id", workerID),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	var queued, capacity int
	for _, queue := range s.workers {
		queued += len(queue)
		capacity += cap(queue)
	}

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsProcessed: s.packetsProcessed.Load(),
		PacketsDropped:   s.packetsDropped.Load(),
		ParseErrors:      s.parseErrors.Load(),
		AudioErrors:      s.audioErrors.Load(),
		ActiveStreams:    uint64(s.streamMgr.GetActiveSessionCount()),
		Workers:          len(s.workers),
		QueueSize:        uint64(queued),
		QueueCapacity:    uint64(capacity),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	AudioErrors      uint64 `json:"audio_errors"`
	ActiveStreams    uint64 `json:"active_streams"`
	Workers          int    `json:"workers"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
