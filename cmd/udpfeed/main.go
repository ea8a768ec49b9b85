// Command udpfeed streams a WAV file to the denoise service as TLV packets:
// one start packet, audio packets per channel, and a stop packet.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/protocol"
)

type feedOptions struct {
	streamID       uint32
	label          string
	denoise        bool
	denoiseChannel int
	chunk          int     // samples per channel per audio packet
	speed          float64 // 0 sends as fast as possible
}

type feedStats struct {
	Packets int
	Bytes   int
	Chunks  int
}

func main() {
	addr := flag.String("addr", "127.0.0.1:4444", "Service UDP address")
	input := flag.String("in", "", "Input WAV file (44100 Hz)")
	var opts feedOptions
	streamID := flag.Uint("stream", 1, "Stream ID")
	flag.StringVar(&opts.label, "label", "udpfeed", "Stream label")
	flag.BoolVar(&opts.denoise, "denoise", true, "Request denoising")
	flag.IntVar(&opts.denoiseChannel, "channel", 0, "Channel to denoise")
	flag.IntVar(&opts.chunk, "chunk", denoise.SampleLength, "Samples per channel per packet")
	flag.Float64Var(&opts.speed, "speed", 1, "Playback speed, 0 for no pacing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: udpfeed [flags] -in file.wav")
		flag.PrintDefaults()
		os.Exit(2)
	}
	opts.streamID = uint32(*streamID)

	data, err := os.ReadFile(*input)
	if err != nil {
		logger.Error("Failed to read input", slog.String("error", err.Error()))
		os.Exit(1)
	}
	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		logger.Error("Failed to decode WAV", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		logger.Error("Failed to dial service", slog.String("addr", *addr), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("Streaming",
		slog.String("file", *input),
		slog.String("addr", *addr),
		slog.Uint64("stream_id", uint64(opts.streamID)),
		slog.Int("channels", int(info.Channels)),
		slog.Float64("duration", info.Duration),
	)

	stats, err := feed(conn, samples, info, opts, time.Sleep)
	if err != nil {
		logger.Error("Streaming failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Done",
		slog.Int("packets", stats.Packets),
		slog.Int("bytes", stats.Bytes),
		slog.Int("chunks", stats.Chunks),
	)
}

// feed writes the packets of one stream to w, one datagram per Write.
// sleep paces chunks at opts.speed times real time.
func feed(w io.Writer, samples []float32, info *audio.WAVInfo, opts feedOptions, sleep func(time.Duration)) (feedStats, error) {
	var stats feedStats

	channels := int(info.Channels)
	if channels < 1 || channels > protocol.MaxChannels {
		return stats, fmt.Errorf("channels must be between 1 and %d, got %d", protocol.MaxChannels, channels)
	}
	if opts.chunk < 1 || opts.chunk > protocol.MaxAudioSamples {
		return stats, fmt.Errorf("chunk must be between 1 and %d samples, got %d", protocol.MaxAudioSamples, opts.chunk)
	}

	send := func(packet []byte) error {
		n, err := w.Write(packet)
		if err != nil {
			return err
		}
		stats.Packets++
		stats.Bytes += n
		return nil
	}

	start := protocol.NewStartPayload(info.SampleRate, uint8(channels), uint8(opts.denoiseChannel), opts.denoise, opts.label)
	if err := protocol.ValidateStart(start); err != nil {
		return stats, err
	}
	if err := send(protocol.MarshalStart(opts.streamID, start)); err != nil {
		return stats, fmt.Errorf("failed to send start packet: %w", err)
	}

	var interval time.Duration
	if opts.speed > 0 {
		interval = time.Duration(float64(opts.chunk) / float64(info.SampleRate) / opts.speed * float64(time.Second))
	}

	channel := make([]float32, 0, opts.chunk)
	var payload []byte
	began := time.Now()
	for offset, seq := 0, uint32(0); offset < info.NumFrames; offset, seq = offset+opts.chunk, seq+1 {
		end := min(offset+opts.chunk, info.NumFrames)
		for ch := 0; ch < channels; ch++ {
			channel = channel[:0]
			for i := offset; i < end; i++ {
				channel = append(channel, samples[i*channels+ch])
			}
			payload = audio.EncodeFloat32LE(payload[:0], channel)
			packet, err := protocol.MarshalAudio(opts.streamID, uint8(ch), seq, payload)
			if err != nil {
				return stats, err
			}
			if err := send(packet); err != nil {
				return stats, fmt.Errorf("failed to send audio packet %d: %w", seq, err)
			}
		}
		stats.Chunks++

		if interval > 0 {
			if wait := time.Duration(stats.Chunks)*interval - time.Since(began); wait > 0 {
				sleep(wait)
			}
		}
	}

	if err := send(protocol.MarshalStop(opts.streamID)); err != nil {
		return stats, fmt.Errorf("failed to send stop packet: %w", err)
	}
	return stats, nil
}
