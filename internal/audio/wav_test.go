package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// buildWAV writes a minimal RIFF/WAVE file around payload. extra chunks are
// inserted between fmt and data.
func buildWAV(t *testing.T, format, channels, bits uint16, sampleRate uint32, payload []byte, extra ...[]byte) []byte {
	t.Helper()

	var body bytes.Buffer
	body.WriteString("WAVE")

	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(16))
	binary.Write(&body, binary.LittleEndian, fmtChunk{
		AudioFormat:   format,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
	})

	for _, chunk := range extra {
		body.Write(chunk)
	}

	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(payload)))
	body.Write(payload)

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func pcm16Payload(samples []int16) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func TestDecodeWAVPCM16(t *testing.T) {
	original := []int16{100, -200, 300, -400, 500, math.MinInt16}
	data := buildWAV(t, WAVFormatPCM, 1, 16, 44100, pcm16Payload(original))

	samples, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.NumFrames != len(original) {
		t.Errorf("Expected %d frames, got %d", len(original), info.NumFrames)
	}
	if len(samples) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(samples))
	}
	for i, s := range original {
		if want := float32(s) / 32768; samples[i] != want {
			t.Errorf("Sample %d: expected %f, got %f", i, want, samples[i])
		}
	}
	if samples[len(samples)-1] != -1 {
		t.Errorf("Expected full scale negative sample to map to -1, got %f", samples[len(samples)-1])
	}
}

func TestDecodeWAVFloat32(t *testing.T) {
	original := []float32{0.5, -0.25, 0.125, 0}
	data := buildWAV(t, WAVFormatFloat, 2, 32, 44100, EncodeFloat32LE(nil, original))

	samples, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if info.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", info.Channels)
	}
	if info.NumFrames != 2 {
		t.Errorf("Expected 2 frames, got %d", info.NumFrames)
	}
	for i := range original {
		if samples[i] != original[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, original[i], samples[i])
		}
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0} // odd size is padded
	data := buildWAV(t, WAVFormatPCM, 1, 16, 44100, pcm16Payload([]int16{1, 2, 3}), list)

	samples, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("Expected 3 samples, got %d", len(samples))
	}
}

func TestDecodeWAVDuration(t *testing.T) {
	data := buildWAV(t, WAVFormatPCM, 1, 16, 44100, pcm16Payload(make([]int16, 44100/2)))

	_, info, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if math.Abs(info.Duration-0.5) > 0.001 {
		t.Errorf("Expected duration 0.500, got %.3f", info.Duration)
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	valid := buildWAV(t, WAVFormatPCM, 1, 16, 44100, pcm16Payload([]int16{1, 2}))

	badRIFF := append([]byte(nil), valid...)
	copy(badRIFF, "RIFX")
	badWAVE := append([]byte(nil), valid...)
	copy(badWAVE[8:], "WAVX")

	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte("RIFF")},
		{name: "bad riff", data: badRIFF},
		{name: "bad wave", data: badWAVE},
		{name: "no data chunk", data: valid[:36]},
		{name: "8-bit pcm", data: buildWAV(t, WAVFormatPCM, 1, 8, 44100, []byte{1, 2})},
		{name: "empty data", data: buildWAV(t, WAVFormatPCM, 1, 16, 44100, nil)},
		{name: "zero sample rate", data: buildWAV(t, WAVFormatPCM, 1, 16, 0, pcm16Payload([]int16{1}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

