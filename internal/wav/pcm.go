package wav

import "math"

const (
	// negativeScale maps -1.0 to the most negative 16-bit value.
	negativeScale = 0x8000
	// positiveScale maps +1.0 to the most positive 16-bit value.
	positiveScale = 0x7fff
)

// Quantize converts a floating-point sample to 16-bit signed PCM.
// The sample is clamped to [-1, 1], then scaled by 32768 when negative and
// by 32767 otherwise, truncating toward zero. NaN maps to 0.
func Quantize(sample float32) int16 {
	s := clamp(float64(sample))
	if s < 0 {
		return int16(s * negativeScale)
	}
	return int16(s * positiveScale)
}

// Dequantize converts a 16-bit PCM value back to floating point using the
// scale Quantize applied for the value's sign.
func Dequantize(v int16) float32 {
	if v < 0 {
		return float32(float64(v) / negativeScale)
	}
	return float32(float64(v) / positiveScale)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
