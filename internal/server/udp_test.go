package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/denoise/mock"
	"github.com/skypro1111/denoise-service/internal/protocol"
	"github.com/skypro1111/denoise-service/internal/stream"
)

type resultLog struct {
	mu      sync.Mutex
	results []stream.FrameResult
}

func (l *resultLog) OnFrame(result stream.FrameResult) {
	result.Samples = nil
	l.mu.Lock()
	l.results = append(l.results, result)
	l.mu.Unlock()
}

func (l *resultLog) Results() []stream.FrameResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stream.FrameResult(nil), l.results...)
}

func startUDP(t *testing.T, f *fixture, sink stream.Sink) (*UDPServer, *net.UDPConn) {
	t.Helper()

	cfg := f.config.Server
	cfg.UDPPort = 0
	udp := NewUDPServer(&cfg, testLogger(), f.manager, f.metrics, sink)
	require.NoError(t, udp.Start())
	t.Cleanup(func() { udp.Stop() })

	conn, err := net.DialUDP("udp", nil, udp.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return udp, conn
}

func audioPacket(t *testing.T, streamID uint32, channel uint8, seq uint32, samples []float32) []byte {
	t.Helper()
	packet, err := protocol.MarshalAudio(streamID, channel, seq, audio.EncodeFloat32LE(nil, samples))
	require.NoError(t, err)
	return packet
}

func TestUDPStreamLifecycle(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		engine: func(e *mock.Engine) { e.Gain = 0.5 },
	})
	sink := &resultLog{}
	udp, conn := startUDP(t, f, sink)

	start := protocol.NewStartPayload(denoise.SampleRate, 1, 0, true, "line-in")
	_, err := conn.Write(protocol.MarshalStart(42, start))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := f.manager.GetSession(42)
		return ok
	}, waitFor, 10*time.Millisecond)

	session, _ := f.manager.GetSession(42)
	assert.Equal(t, "line-in", session.Label)
	assert.Equal(t, stream.SourceUDP, session.Source)

	// Two half frames make one frame
	half := filledFrame(0.2)[:denoise.SampleLength/2]
	_, err = conn.Write(audioPacket(t, 42, 0, 0, half))
	require.NoError(t, err)
	_, err = conn.Write(audioPacket(t, 42, 0, 1, half))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.Results()) == 1
	}, waitFor, 10*time.Millisecond)
	result := sink.Results()[0]
	assert.Equal(t, uint32(42), result.StreamID)
	assert.True(t, result.Denoised)

	_, err = conn.Write(protocol.MarshalStop(42))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return session.State() == stream.StateStopped
	}, waitFor, 10*time.Millisecond)
	assert.Zero(t, f.manager.GetActiveSessionCount())

	stats := udp.GetStatistics()
	assert.Equal(t, uint64(4), stats.PacketsReceived)
	assert.Equal(t, uint64(4), stats.PacketsProcessed)
	assert.Zero(t, stats.ParseErrors)
}

func TestUDPRejectsMalformedPackets(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	udp, conn := startUDP(t, f, nil)

	// Truncated header, unknown type, and audio for a stream that was never started
	_, err := conn.Write([]byte{0x01, 0x00})
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x09, 0x00, 0x08, 0, 0, 0, 1, 0})
	require.NoError(t, err)
	_, err = conn.Write(audioPacket(t, 5, 0, 0, filledFrame(0.1)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats := udp.GetStatistics()
		return stats.PacketsReceived == 3 && stats.AudioErrors == 1
	}, waitFor, 10*time.Millisecond)

	stats := udp.GetStatistics()
	assert.Equal(t, uint64(2), stats.ParseErrors)
	assert.Zero(t, f.manager.GetActiveSessionCount())
}

func TestUDPStopIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	udp, _ := startUDP(t, f, nil)

	require.NoError(t, udp.Stop())
	require.NoError(t, udp.Stop())
}
