package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAV audio formats understood by DecodeWAV
const (
	WAVFormatPCM   = 1
	WAVFormatFloat = 3
)

// riffHeader is the fixed header of a RIFF/WAVE file
type riffHeader struct {
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // File size - 8 bytes
	Format    [4]byte // "WAVE"
}

// chunkHeader precedes every sub-chunk of a RIFF file
type chunkHeader struct {
	ID   [4]byte
	Size uint32
}

// fmtChunk is the body of the "fmt " sub-chunk
type fmtChunk struct {
	AudioFormat   uint16 // 1 for PCM, 3 for IEEE float
	NumChannels   uint16 // Number of channels
	SampleRate    uint32 // Sample rate
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16 // Bits per sample
}

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	NumFrames     int     `json:"num_frames"`
}

// DecodeWAV decodes 16-bit PCM or 32-bit float WAV data into interleaved
// normalized float samples. Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]float32, *WAVInfo, error) {
	r := bytes.NewReader(data)

	var header riffHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var format *fmtChunk
	for {
		var chunk chunkHeader
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
			}
			return nil, nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			if chunk.Size < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", chunk.Size)
			}
			format = &fmtChunk{}
			if err := binary.Read(r, binary.LittleEndian, format); err != nil {
				return nil, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := skip(r, int64(chunk.Size)-16); err != nil {
				return nil, nil, err
			}

		case "data":
			if format == nil {
				return nil, nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			size := int(chunk.Size)
			if size > r.Len() {
				size = r.Len() // tolerate truncated files
			}
			payload := make([]byte, size)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, nil, fmt.Errorf("failed to read audio data: %w", err)
			}
			return decodeSamples(payload, format)

		default:
			if err := skip(r, int64(chunk.Size)+int64(chunk.Size&1)); err != nil {
				return nil, nil, err
			}
		}
	}
}

func skip(r *bytes.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := r.Seek(n, io.SeekCurrent); err != nil {
		return fmt.Errorf("failed to skip chunk: %w", err)
	}
	return nil
}

func decodeSamples(payload []byte, format *fmtChunk) ([]float32, *WAVInfo, error) {
	if format.NumChannels == 0 {
		return nil, nil, fmt.Errorf("invalid channel count: 0")
	}
	if format.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}
	if len(payload) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	var samples []float32
	switch {
	case format.AudioFormat == WAVFormatPCM && format.BitsPerSample == 16:
		pcm := make([]int16, len(payload)/2)
		if err := binary.Read(bytes.NewReader(payload[:len(pcm)*2]), binary.LittleEndian, pcm); err != nil {
			return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
		}
		samples = Int16ToFloat32(make([]float32, 0, len(pcm)), pcm)

	case format.AudioFormat == WAVFormatFloat && format.BitsPerSample == 32:
		var err error
		samples, err = DecodeFloat32LE(make([]float32, 0, len(payload)/4), payload[:len(payload)/4*4])
		if err != nil {
			return nil, nil, err
		}

	default:
		return nil, nil, fmt.Errorf("unsupported audio format %d with %d bits per sample (16-bit PCM or 32-bit float only)",
			format.AudioFormat, format.BitsPerSample)
	}

	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	// Drop a trailing partial sample frame
	numFrames := len(samples) / int(format.NumChannels)
	samples = samples[:numFrames*int(format.NumChannels)]

	return samples, &WAVInfo{
		AudioFormat:   format.AudioFormat,
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      float64(numFrames) / float64(format.SampleRate),
		NumFrames:     numFrames,
	}, nil
}

