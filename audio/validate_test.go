package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodArtifact() *Artifact {
	return &Artifact{
		Bytes:        bytes.Repeat([]byte("x"), 32000),
		DurationMs:   1000,
		SampleRateHz: 16000,
		Channels:     1,
		Format:       FormatWav,
	}
}

func TestValidateAcceptsGoodArtifact(t *testing.T) {
	assert.Empty(t, Validate(goodArtifact(), DefaultLimits()))
}

func TestValidateDurationBoundaries(t *testing.T) {
	cases := []struct {
		durationMs int
		ok         bool
	}{
		{499, false},
		{500, true},
		{5000, true},
		{5001, false},
	}
	for _, tc := range cases {
		a := goodArtifact()
		a.DurationMs = tc.durationMs
		violations := Validate(a, DefaultLimits())
		if tc.ok {
			assert.Empty(t, violations, "duration %d ms should pass", tc.durationMs)
		} else {
			require.Len(t, violations, 1, "duration %d ms should fail", tc.durationMs)
			assert.Equal(t, "duration", violations[0].Check)
		}
	}
}

func TestValidateSampleRateMustMatchExactly(t *testing.T) {
	a := goodArtifact()
	a.SampleRateHz = 22050
	violations := Validate(a, DefaultLimits())
	require.Len(t, violations, 1)
	assert.Equal(t, "sample_rate", violations[0].Check)
}

func TestValidateFormat(t *testing.T) {
	a := goodArtifact()
	a.Format = "mp3"
	violations := Validate(a, DefaultLimits())
	require.Len(t, violations, 1)
	assert.Equal(t, "format", violations[0].Check)
}

func TestValidateSizeCap(t *testing.T) {
	a := goodArtifact()
	limits := DefaultLimits()
	limits.MaxBytes = 100
	violations := Validate(a, limits)
	require.Len(t, violations, 1)
	assert.Equal(t, "size", violations[0].Check)
}

func TestValidateChannels(t *testing.T) {
	a := goodArtifact()
	a.Channels = 2
	violations := Validate(a, DefaultLimits())
	require.Len(t, violations, 1)
	assert.Equal(t, "channels", violations[0].Check)
}

func TestValidateReportsAllViolations(t *testing.T) {
	a := &Artifact{Format: "ogg", SampleRateHz: 8000, DurationMs: 10, Channels: 2}
	violations := Validate(a, DefaultLimits())
	assert.Len(t, violations, 4)
}

func TestValidateIsPure(t *testing.T) {
	a := goodArtifact()
	a.DurationMs = 499
	first := Validate(a, DefaultLimits())
	second := Validate(a, DefaultLimits())
	assert.Equal(t, first, second)
}
