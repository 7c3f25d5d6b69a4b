package audio

import "fmt"

// Limits are the quality invariants every stored artifact must meet.
type Limits struct {
	Format        string
	SampleRateHz  int
	MinDurationMs int
	MaxDurationMs int
	MaxBytes      int
	Channels      int
}

// DefaultLimits matches the corpus target: 16 kHz mono WAV between
// half a second and five seconds, capped at 10 MB.
func DefaultLimits() Limits {
	return Limits{
		Format:        FormatWav,
		SampleRateHz:  16000,
		MinDurationMs: 500,
		MaxDurationMs: 5000,
		MaxBytes:      10 * 1024 * 1024,
		Channels:      1,
	}
}

// Violation names one failed check.
type Violation struct {
	Check  string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Check, v.Detail)
}

// Validate checks an artifact against the limits. It is a pure
// function: no I/O, no mutation, stable output for a given input.
// An empty slice means the artifact is good.
func Validate(a *Artifact, limits Limits) []Violation {
	var violations []Violation

	if a.Format != limits.Format {
		violations = append(violations, Violation{
			Check:  "format",
			Detail: fmt.Sprintf("got %q, want %q", a.Format, limits.Format),
		})
	}
	if a.SampleRateHz != limits.SampleRateHz {
		violations = append(violations, Violation{
			Check:  "sample_rate",
			Detail: fmt.Sprintf("got %d Hz, want exactly %d Hz", a.SampleRateHz, limits.SampleRateHz),
		})
	}
	if a.DurationMs < limits.MinDurationMs || a.DurationMs > limits.MaxDurationMs {
		violations = append(violations, Violation{
			Check:  "duration",
			Detail: fmt.Sprintf("%d ms outside [%d, %d]", a.DurationMs, limits.MinDurationMs, limits.MaxDurationMs),
		})
	}
	if limits.MaxBytes > 0 && len(a.Bytes) > limits.MaxBytes {
		violations = append(violations, Violation{
			Check:  "size",
			Detail: fmt.Sprintf("%d bytes exceeds cap of %d", len(a.Bytes), limits.MaxBytes),
		})
	}
	if limits.Channels > 0 && a.Channels != limits.Channels {
		violations = append(violations, Violation{
			Check:  "channels",
			Detail: fmt.Sprintf("got %d, want %d", a.Channels, limits.Channels),
		})
	}

	return violations
}
