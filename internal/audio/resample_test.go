package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/discord-voice-bridge/internal/config"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func sineStereo48k(durMs int, amp int16) []byte {
	frames := config.PlatformSampleRate * durMs / 1000
	samples := make([]int16, 0, frames*2)
	for i := 0; i < frames; i++ {
		v := int16(float64(amp) * math.Sin(2*math.Pi*440*float64(i)/config.PlatformSampleRate))
		samples = append(samples, v, v)
	}
	return pcmFromSamples(samples)
}

func TestRoundTripPreservesDuration(t *testing.T) {
	for _, durMs := range []int{20, 60, 300, 1000} {
		src := sineStereo48k(durMs, 12000)

		down := ToBackendFormat(src, config.PlatformSampleRate, config.PlatformChannels,
			config.BackendSendRate, config.BackendSendChannels)
		up := ToPlatformFormat(down, config.BackendSendRate, config.BackendSendChannels,
			config.PlatformSampleRate, config.PlatformChannels)

		gotMs := DurationMs(up, config.PlatformSampleRate, config.PlatformChannels)
		if diff := gotMs - durMs; diff < -1 || diff > 1 {
			t.Fatalf("round trip %dms -> %dms, want within 1ms", durMs, gotMs)
		}
	}
}

func TestResampleSubFrameInputIsEmpty(t *testing.T) {
	// One byte short of a full stereo frame.
	buf := []byte{0x01, 0x02, 0x03}
	out := ToBackendFormat(buf, 48000, 2, 16000, 1)
	if out == nil || len(out) != 0 {
		t.Fatalf("sub-frame input should yield empty non-nil result, got %v", out)
	}
}

func TestResampleTruncatesPartialTrailingFrame(t *testing.T) {
	// Two full stereo frames plus two stray bytes. The stray bytes must be
	// ignored, not read past.
	buf := append(pcmFromSamples([]int16{100, 100, 200, 200}), 0xFF, 0x7F)
	out := ToBackendFormat(buf, 48000, 2, 48000, 1)
	if len(out) != 2*2 {
		t.Fatalf("expected 2 mono samples, got %d bytes", len(out))
	}
}

func TestDownMixIsMeanUpMixIsDuplicate(t *testing.T) {
	// Stereo frame (1000, 3000) down-mixed should be 2000.
	down := ToBackendFormat(pcmFromSamples([]int16{1000, 3000}), 48000, 2, 48000, 1)
	if got := int16(binary.LittleEndian.Uint16(down)); got != 2000 {
		t.Fatalf("down-mix = %d, want 2000", got)
	}
	// Mono sample 1234 up-mixed should appear on both channels.
	up := ToPlatformFormat(pcmFromSamples([]int16{1234}), 48000, 1, 48000, 2)
	l := int16(binary.LittleEndian.Uint16(up[0:]))
	r := int16(binary.LittleEndian.Uint16(up[2:]))
	if l != 1234 || r != 1234 {
		t.Fatalf("up-mix = (%d,%d), want (1234,1234)", l, r)
	}
}

func TestDownMixClampsToInt16(t *testing.T) {
	out := ToBackendFormat(pcmFromSamples([]int16{math.MaxInt16, math.MaxInt16}), 48000, 2, 48000, 1)
	if got := int16(binary.LittleEndian.Uint16(out)); got != math.MaxInt16 {
		t.Fatalf("clamped mix = %d, want %d", got, math.MaxInt16)
	}
}

func TestComputeRMS(t *testing.T) {
	if got := ComputeRMS(nil); got != 0 {
		t.Fatalf("RMS(empty) = %v, want 0", got)
	}
	if got := ComputeRMS(pcmFromSamples(make([]int16, 960))); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	// Resampling silence must stay silence regardless of channel layout.
	silence := pcmFromSamples(make([]int16, 960))
	mono := ToBackendFormat(silence, 48000, 2, 16000, 1)
	if got := ComputeRMS(mono); got != 0 {
		t.Fatalf("RMS(resampled silence) = %v, want 0", got)
	}
	// Full-scale DC should be ~1.0.
	full := make([]int16, 100)
	for i := range full {
		full[i] = math.MinInt16
	}
	if got := ComputeRMS(pcmFromSamples(full)); got < 0.99 || got > 1.01 {
		t.Fatalf("RMS(full scale) = %v, want ~1", got)
	}
}

func TestApplyNoiseGate(t *testing.T) {
	in := pcmFromSamples([]int16{5, -5, 100, -100, 99, -99})
	out := ApplyNoiseGate(in, 100)
	if len(out) != len(in) {
		t.Fatalf("gate changed length: %d -> %d", len(in), len(out))
	}
	want := []int16{0, 0, 100, -100, 0, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(out[i*2:])); got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
	// Input must be untouched.
	if got := int16(binary.LittleEndian.Uint16(in[0:])); got != 5 {
		t.Fatalf("gate mutated input: sample 0 = %d", got)
	}
}

func TestValidate(t *testing.T) {
	if Validate(nil, 2, 48000) {
		t.Fatal("nil buffer should be invalid")
	}
	if Validate([]byte{}, 2, 48000) {
		t.Fatal("empty buffer should be invalid")
	}
	if Validate([]byte{0x01}, 2, 48000) {
		t.Fatal("odd-length buffer should be invalid")
	}
	if !Validate([]byte{0x01, 0x02}, 2, 48000) {
		t.Fatal("aligned buffer should be valid")
	}
	if Validate([]byte{0x01, 0x02}, 0, 48000) {
		t.Fatal("non-positive channel count should be invalid")
	}
}

func TestBuildWAVHeader(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3, 4})
	wav := BuildWAV(pcm, 48000, 2, 16)
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 48000 {
		t.Fatalf("sample rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Fatalf("data length = %d, want %d", got, len(pcm))
	}
}
