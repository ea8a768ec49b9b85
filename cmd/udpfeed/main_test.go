package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/protocol"
)

// datagrams records every Write as one packet.
type datagrams struct {
	packets [][]byte
	failAt  int
}

func (d *datagrams) Write(p []byte) (int, error) {
	if d.failAt > 0 && len(d.packets)+1 == d.failAt {
		return 0, errors.New("network unreachable")
	}
	d.packets = append(d.packets, append([]byte(nil), p...))
	return len(p), nil
}

func stereo(frames int) ([]float32, *audio.WAVInfo) {
	samples := make([]float32, 2*frames)
	for i := 0; i < frames; i++ {
		samples[2*i] = float32(i)
		samples[2*i+1] = -float32(i)
	}
	return samples, &audio.WAVInfo{SampleRate: denoise.SampleRate, Channels: 2, NumFrames: frames}
}

func TestFeedPackets(t *testing.T) {
	samples, info := stereo(1000)
	var out datagrams

	stats, err := feed(&out, samples, info, feedOptions{
		streamID:       9,
		label:          "mic",
		denoise:        true,
		denoiseChannel: 1,
		chunk:          480,
	}, func(time.Duration) { t.Fatal("sleep called without pacing") })
	require.NoError(t, err)

	// start, 3 chunks of 2 channels, stop
	require.Len(t, out.packets, 8)
	assert.Equal(t, 8, stats.Packets)
	assert.Equal(t, 3, stats.Chunks)

	first, err := protocol.ParsePacket(out.packets[0])
	require.NoError(t, err)
	require.Equal(t, uint8(protocol.PacketTypeStart), first.Header.PacketType)
	assert.Equal(t, uint32(9), first.Header.StreamID)
	assert.Equal(t, "mic", first.Start.GetLabel())
	assert.Equal(t, uint8(1), first.Start.DenoiseChannel)
	assert.True(t, first.Start.DenoiseEnabled())

	for i, packet := range out.packets[1:7] {
		parsed, err := protocol.ParsePacket(packet)
		require.NoError(t, err)
		require.Equal(t, uint8(protocol.PacketTypeAudio), parsed.Header.PacketType)
		assert.Equal(t, uint8(i%2), parsed.Header.Channel)
		assert.Equal(t, uint32(i/2), parsed.Audio.Sequence)

		decoded, err := audio.DecodeFloat32LE(nil, parsed.Audio.AudioData)
		require.NoError(t, err)
		if i/2 < 2 {
			assert.Len(t, decoded, 480)
		} else {
			assert.Len(t, decoded, 40)
		}
		want := float32(480 * (i / 2))
		if i%2 == 1 {
			want = -want
		}
		assert.Equal(t, want, decoded[0])
	}

	last, err := protocol.ParsePacket(out.packets[7])
	require.NoError(t, err)
	assert.Equal(t, uint8(protocol.PacketTypeStop), last.Header.PacketType)
}

func TestFeedPacing(t *testing.T) {
	samples, info := stereo(4 * 441)
	var out datagrams

	began := time.Now()
	_, err := feed(&out, samples, info, feedOptions{streamID: 1, chunk: 441, speed: 1}, time.Sleep)
	require.NoError(t, err)

	// 4 chunks of 10 ms each
	assert.GreaterOrEqual(t, time.Since(began), 35*time.Millisecond)
	assert.Len(t, out.packets, 10)
}

func TestFeedErrors(t *testing.T) {
	samples, info := stereo(960)

	_, err := feed(&datagrams{}, samples, info, feedOptions{chunk: 0}, time.Sleep)
	assert.ErrorContains(t, err, "chunk must be between")

	_, err = feed(&datagrams{}, samples, info, feedOptions{chunk: 480, denoiseChannel: 2}, time.Sleep)
	assert.Error(t, err)

	_, err = feed(&datagrams{failAt: 2}, samples, info, feedOptions{chunk: 480}, time.Sleep)
	assert.ErrorContains(t, err, "failed to send audio packet 0")
}
