package audio

import (
	"math"
	"testing"
)

func TestFloat32LERoundTrip(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, -0.123, float32(math.Inf(1))}

	data := EncodeFloat32LE(nil, samples)
	if len(data) != len(samples)*4 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*4, len(data))
	}

	decoded, err := DecodeFloat32LE(nil, data)
	if err != nil {
		t.Fatalf("DecodeFloat32LE failed: %v", err)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, samples[i], decoded[i])
		}
	}
}

func TestDecodeFloat32LELayout(t *testing.T) {
	// 1.0 is 0x3F800000 in little-endian byte order
	decoded, err := DecodeFloat32LE(nil, []byte{0x00, 0x00, 0x80, 0x3F})
	if err != nil {
		t.Fatalf("DecodeFloat32LE failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != 1 {
		t.Errorf("Expected [1], got %v", decoded)
	}
}

func TestDecodeFloat32LEInvalidLength(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		if _, err := DecodeFloat32LE(nil, make([]byte, n)); err == nil {
			t.Errorf("Expected error for %d bytes", n)
		}
	}
}

func TestDecodeFloat32LEAppends(t *testing.T) {
	dst := make([]float32, 1, 8)
	dst[0] = 7

	out, err := DecodeFloat32LE(dst, EncodeFloat32LE(nil, []float32{1, 2}))
	if err != nil {
		t.Fatalf("DecodeFloat32LE failed: %v", err)
	}
	if len(out) != 3 || out[0] != 7 || out[2] != 2 {
		t.Errorf("Expected [7 1 2], got %v", out)
	}
}

func TestInt16Conversion(t *testing.T) {
	tests := []struct {
		name  string
		input float32
		want  int16
	}{
		{name: "zero", input: 0, want: 0},
		{name: "half", input: 0.5, want: 16384},
		{name: "negative full scale", input: -1, want: math.MinInt16},
		{name: "positive clip", input: 1.5, want: math.MaxInt16},
		{name: "negative clip", input: -2, want: math.MinInt16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Float32ToInt16(nil, []float32{tt.input})
			if got[0] != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got[0])
			}
		})
	}

	floats := Int16ToFloat32(nil, []int16{16384, -32768})
	if floats[0] != 0.5 || floats[1] != -1 {
		t.Errorf("Expected [0.5 -1], got %v", floats)
	}
}
