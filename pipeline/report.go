package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage names where in a task's life a failure happened.
type Stage string

const (
	StageVariation Stage = "variation"
	StageSynthesis Stage = "synthesis"
	StageValidate  Stage = "validation"
	StageStore     Stage = "storage"
)

// Failure is one terminal per-task or per-phrase error. The fields
// identify the task deterministically, so a follow-up run over the
// same seed input can retry exactly the failures.
type Failure struct {
	Phrase    string
	Intent    string
	Language  string
	Variation string
	Voice     string
	Path      string
	Stage     Stage
	Kind      string
	Message   string
}

// Warning is a non-fatal condition worth surfacing, currently only
// remote-tier write failures.
type Warning struct {
	Path    string
	Message string
}

// Report aggregates the outcome of one pipeline run. It is the only
// mutable state shared across workers; every append goes through the
// mutex.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	mu         sync.Mutex
	Phrases    int
	Variations int
	Attempted  int
	Succeeded  int
	Skipped    int
	Failed     int
	Failures   []Failure
	Warnings   []Warning
}

func newReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

func (r *Report) notePhrase(variations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phrases++
	r.Variations += variations
}

func (r *Report) noteAttempted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempted++
}

func (r *Report) noteSucceeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded++
}

func (r *Report) noteSkipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped++
}

func (r *Report) noteFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Failures = append(r.Failures, f)
}

// notePhraseFailure records a phrase whose variation stage failed;
// the phrase still counts toward Phrases so totals add up.
func (r *Report) notePhraseFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phrases++
	r.Failed++
	r.Failures = append(r.Failures, f)
}

func (r *Report) noteWarning(w Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, w)
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
}

// Summary renders the human-readable run report block.
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Run Report %s\n", r.RunID)
	fmt.Fprintf(&b, "==========\n")
	fmt.Fprintf(&b, "phrases processed:    %d\n", r.Phrases)
	fmt.Fprintf(&b, "variations generated: %d\n", r.Variations)
	fmt.Fprintf(&b, "tasks attempted:      %d\n", r.Attempted)
	fmt.Fprintf(&b, "tasks succeeded:      %d\n", r.Succeeded)
	fmt.Fprintf(&b, "tasks skipped:        %d\n", r.Skipped)
	fmt.Fprintf(&b, "failures:             %d\n", r.Failed)
	fmt.Fprintf(&b, "warnings:             %d\n", len(r.Warnings))
	fmt.Fprintf(&b, "elapsed:              %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range r.Failures {
			if f.Voice == "" {
				fmt.Fprintf(&b, "- [%s/%s] phrase %q: %s\n", f.Stage, f.Kind, f.Phrase, f.Message)
				continue
			}
			fmt.Fprintf(&b, "- [%s/%s] %q voice=%s: %s\n", f.Stage, f.Kind, f.Variation, f.Voice, f.Message)
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s: %s\n", w.Path, w.Message)
		}
	}

	return b.String()
}
