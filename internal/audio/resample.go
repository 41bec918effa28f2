// Package audio provides stateless conversion between the two fixed PCM
// formats on either side of the bridge, plus small signal helpers used by
// the capture path. All buffers are 16-bit signed little-endian PCM.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const bytesPerSample = 2

// ToBackendFormat resamples and remixes buf from the platform format to the
// backend format using nearest-neighbor sample selection. Channel down-mix
// is the arithmetic mean across source channels; up-mix duplicates the
// source frame. Trailing bytes that don't fill a whole frame are truncated.
// Inputs shorter than one frame yield an empty (non-nil) result.
func ToBackendFormat(buf []byte, srcRate, srcChannels, dstRate, dstChannels int) []byte {
	return resample(buf, srcRate, srcChannels, dstRate, dstChannels)
}

// ToPlatformFormat is the inverse conversion with swapped rate and channel
// roles. Same truncation and clamping rules as ToBackendFormat.
func ToPlatformFormat(buf []byte, srcRate, srcChannels, dstRate, dstChannels int) []byte {
	return resample(buf, srcRate, srcChannels, dstRate, dstChannels)
}

func resample(buf []byte, srcRate, srcChannels, dstRate, dstChannels int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcChannels <= 0 || dstChannels <= 0 {
		panic(fmt.Sprintf("audio: invalid format %d/%dch -> %d/%dch", srcRate, srcChannels, dstRate, dstChannels))
	}
	srcFrameBytes := srcChannels * bytesPerSample
	srcFrames := len(buf) / srcFrameBytes
	if srcFrames == 0 {
		return []byte{}
	}
	dstFrames := srcFrames * dstRate / srcRate
	out := make([]byte, 0, dstFrames*dstChannels*bytesPerSample)

	for i := 0; i < dstFrames; i++ {
		srcIdx := i * srcRate / dstRate
		if srcIdx >= srcFrames {
			srcIdx = srcFrames - 1
		}
		frame := buf[srcIdx*srcFrameBytes : (srcIdx+1)*srcFrameBytes]

		switch {
		case srcChannels == dstChannels:
			out = append(out, frame...)
		case srcChannels > dstChannels:
			// Down-mix: mean of all source channels written to every
			// destination channel.
			var sum int
			for c := 0; c < srcChannels; c++ {
				sum += int(sampleAt(frame, c))
			}
			mixed := clampInt16(sum / srcChannels)
			for c := 0; c < dstChannels; c++ {
				out = appendSample(out, mixed)
			}
		default:
			// Up-mix: repeat source channels round-robin across the wider
			// destination layout.
			for c := 0; c < dstChannels; c++ {
				out = appendSample(out, sampleAt(frame, c%srcChannels))
			}
		}
	}
	return out
}

// ComputeRMS returns the root-mean-square level of buf normalized to [0,1].
// An empty or sub-sample buffer yields 0.
func ComputeRMS(buf []byte) float64 {
	n := len(buf) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		v := float64(sampleAt(buf, i)) / 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(n))
}

// ApplyNoiseGate returns a copy of buf with every sample whose absolute
// value is below threshold zeroed. The input is never mutated and the
// result always has the same length.
func ApplyNoiseGate(buf []byte, threshold int16) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	n := len(out) / bytesPerSample
	for i := 0; i < n; i++ {
		s := sampleAt(out, i)
		abs := int(s)
		if abs < 0 {
			abs = -abs
		}
		if abs < int(threshold) {
			binary.LittleEndian.PutUint16(out[i*bytesPerSample:], 0)
		}
	}
	return out
}

// Validate reports whether buf is usable as PCM16 in the claimed format. It
// only checks non-emptiness and 16-bit alignment; it has no way to verify
// the actual sample rate or channel count against the claim.
func Validate(buf []byte, channels, rate int) bool {
	if channels <= 0 || rate <= 0 {
		return false
	}
	if len(buf) == 0 {
		return false
	}
	return len(buf)%bytesPerSample == 0
}

// DurationMs returns the duration in milliseconds that buf represents at the
// given rate and channel count.
func DurationMs(buf []byte, rate, channels int) int {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(buf) / (channels * bytesPerSample)
	return frames * 1000 / rate
}

func sampleAt(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*bytesPerSample:]))
}

func appendSample(b []byte, s int16) []byte {
	return append(b, byte(uint16(s)), byte(uint16(s)>>8))
}

func clampInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
