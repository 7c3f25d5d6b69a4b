// Package audio converts synthesized speech into the corpus output
// format and validates the result against quality invariants.
package audio

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/spf13/afero"
)

// FormatWav is the only output format the corpus stores.
const FormatWav = "wav"

// Artifact is one rendered audio file plus the measured properties the
// validator checks. Never mutated after creation; a failed validation
// re-synthesizes a replacement instead.
type Artifact struct {
	Bytes        []byte
	DurationMs   int
	SampleRateHz int
	Channels     int
	Format       string
}

// FromMP3 decodes the synthesis service's MP3 payload, downmixes to
// mono and re-encodes as 16-bit PCM WAV. The duration is computed from
// the decoded sample count, not from anything the service reported.
// The service is asked to render at targetRate, so a stream at any
// other rate is rejected rather than resampled.
func FromMP3(data []byte, targetRate int) (*Artifact, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3; %w", err)
	}
	if dec.SampleRate() != targetRate {
		return nil, fmt.Errorf("mp3 stream is %d Hz, want %d Hz", dec.SampleRate(), targetRate)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm stream; %w", err)
	}

	// go-mp3 always emits 16-bit stereo; average the two channels.
	mono := downmixStereo(raw)

	wavBytes, err := encodeWav(mono, targetRate)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Bytes:        wavBytes,
		DurationMs:   len(mono) * 1000 / targetRate,
		SampleRateHz: targetRate,
		Channels:     1,
		Format:       FormatWav,
	}, nil
}

func downmixStereo(raw []byte) []int {
	frames := len(raw) / 4
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		left := int(int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8))
		right := int(int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8))
		mono[i] = (left + right) / 2
	}
	return mono
}

// encodeWav writes samples as a 16-bit PCM mono WAV. The wav encoder
// needs an io.WriteSeeker to finalize headers, so we go through an
// in-memory afero file.
func encodeWav(samples []int, sampleRate int) ([]byte, error) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create("artifact.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory file; %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Data: samples,
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode wav; %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav; %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close in-memory file; %w", err)
	}

	out, err := afero.ReadFile(fs, "artifact.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav; %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("wav encoder produced no output")
	}
	return out, nil
}
