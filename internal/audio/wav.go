package audio

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"

	"parley/internal/domain"
)

// WriteWAV wraps encoded mono PCM16 audio in a RIFF/WAVE container so
// playback primitives and debugging tools can consume it directly.
func WriteWAV(w io.Writer, enc domain.EncodedAudio) error {
	if enc.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", enc.SampleRate)
	}
	numSamples := uint32(len(enc.PCM) / 2)
	writer := wav.NewWriter(w, numSamples, 1, uint32(enc.SampleRate), 16)
	if _, err := writer.Write(enc.PCM); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// WAV returns the encoded audio as an in-memory WAV file.
func WAV(enc domain.EncodedAudio) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
