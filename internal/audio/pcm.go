package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeFloat32LE appends the little-endian float32 samples in data to dst
// and returns the extended slice.
func DecodeFloat32LE(dst []float32, data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return dst, fmt.Errorf("float32 payload length must be a multiple of 4 (got %d bytes)", len(data))
	}
	for i := 0; i+4 <= len(data); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return dst, nil
}

// EncodeFloat32LE appends samples to dst as little-endian float32 and returns
// the extended slice.
func EncodeFloat32LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// Int16ToFloat32 converts PCM-16 samples to normalized floats in [-1, 1).
func Int16ToFloat32(dst []float32, samples []int16) []float32 {
	for _, s := range samples {
		dst = append(dst, float32(s)/32768)
	}
	return dst
}

// Float32ToInt16 converts normalized floats to PCM-16, clipping out of range values.
func Float32ToInt16(dst []int16, samples []float32) []int16 {
	for _, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		dst = append(dst, int16(v))
	}
	return dst
}
