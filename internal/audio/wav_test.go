package audio

import (
	"bytes"
	"testing"

	wav "github.com/youpy/go-wav"

	"parley/internal/domain"
)

func TestWAVContainerRoundTrip(t *testing.T) {
	t.Parallel()

	enc := domain.EncodedAudio{
		PCM:        EncodePCM16([]float32{0.5, -0.5, 0.25, -0.25}),
		SampleRate: 16000,
	}

	data, err := WAV(enc)
	if err != nil {
		t.Fatalf("wav failed: %v", err)
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if format.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate: %d", format.SampleRate)
	}
	if format.NumChannels != 1 {
		t.Fatalf("unexpected channels: %d", format.NumChannels)
	}
	if format.BitsPerSample != 16 {
		t.Fatalf("unexpected bits per sample: %d", format.BitsPerSample)
	}

	samples, err := reader.ReadSamples(4)
	if err != nil {
		t.Fatalf("read samples failed: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	if reader.IntValue(samples[0], 0) <= 0 {
		t.Fatalf("first sample should be positive")
	}
	if reader.IntValue(samples[1], 0) >= 0 {
		t.Fatalf("second sample should be negative")
	}
}

func TestWAVRejectsInvalidSampleRate(t *testing.T) {
	t.Parallel()

	if _, err := WAV(domain.EncodedAudio{PCM: []byte{0, 0}}); err == nil {
		t.Fatalf("expected sample rate error")
	}
}
