package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square level of a frame of float32 samples in
// [-1, 1]. Used for live level metering.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Downsample converts samples from one rate to a lower one by box-filter
// decimation: each output sample is the mean of the input samples in its
// window. Window boundaries come from proportional index mapping so rounding
// never accumulates across the signal. Rates must be positive; when from <= to
// the input is returned as a copy.
func Downsample(samples []float32, from, to int) []float32 {
	if len(samples) == 0 || from <= 0 || to <= 0 {
		return nil
	}
	if from <= to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(int64(len(samples)) * int64(to) / int64(from))
	if outLen == 0 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		start := int(int64(i) * int64(len(samples)) / int64(outLen))
		end := int(int64(i+1) * int64(len(samples)) / int64(outLen))
		if end <= start {
			end = start + 1
		}
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}
	return out
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed little-endian
// PCM. Values are clamped; negative samples scale by 0x8000 and positive by
// 0x7fff so that both extremes map onto the full int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var n int16
		if v < 0 {
			n = int16(v * 0x8000)
		} else {
			n = int16(v * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(n))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM back to float samples.
// The inverse scaling mirrors EncodePCM16. Trailing odd bytes are ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		n := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if n < 0 {
			out[i] = float32(n) / 0x8000
		} else {
			out[i] = float32(n) / 0x7fff
		}
	}
	return out
}
