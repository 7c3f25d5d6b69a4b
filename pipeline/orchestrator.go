// Package pipeline drives the whole generation run: variations fan out
// into synthesis tasks, artifacts get validated and stored, failures
// stay isolated and end up in the run report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voxgen/audio"
	"voxgen/corpus"
	"voxgen/retry"
	"voxgen/storage"
	"voxgen/synthesis"
	"voxgen/variation"
)

// Config tunes one orchestrator. Zero fields get defaults from New.
type Config struct {
	// VariationsPerPhrase is how many paraphrases to request per seed.
	VariationsPerPhrase int
	// PhraseWorkers bounds concurrent variation requests.
	PhraseWorkers int
	// SynthWorkers bounds concurrent synthesis tasks. Kept separate
	// from PhraseWorkers because the two services have independent
	// rate budgets.
	SynthWorkers int
	// Limits are the artifact quality invariants.
	Limits audio.Limits
}

// VariationGenerator produces paraphrases for one seed phrase.
type VariationGenerator interface {
	Generate(ctx context.Context, phrase corpus.SeedPhrase, count int) ([]corpus.Variation, error)
}

// Synthesizer renders one (text, voice) pair.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice corpus.VoiceProfile) (*audio.Artifact, error)
}

// ArtifactStore is the slice of the storage layer the pipeline needs.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte, meta storage.Metadata) error
}

// warnSink lets the orchestrator route a store's non-fatal warnings
// into the current run's report.
type warnSink interface {
	SetOnWarn(func(key string, err error))
}

// Orchestrator owns one pipeline configuration and can execute any
// number of runs with it.
type Orchestrator struct {
	cfg        Config
	variations VariationGenerator
	synth      Synthesizer
	store      ArtifactStore
	registry   *corpus.Registry
	log        logrus.FieldLogger
}

// New wires an orchestrator and applies config defaults.
func New(cfg Config, variations VariationGenerator, synth Synthesizer, store ArtifactStore, registry *corpus.Registry, log logrus.FieldLogger) (*Orchestrator, error) {
	if variations == nil || synth == nil || store == nil || registry == nil {
		return nil, fmt.Errorf("orchestrator is missing a collaborator")
	}
	if cfg.VariationsPerPhrase == 0 {
		cfg.VariationsPerPhrase = 10
	}
	if cfg.PhraseWorkers == 0 {
		cfg.PhraseWorkers = 4
	}
	if cfg.SynthWorkers == 0 {
		cfg.SynthWorkers = 8
	}
	if cfg.Limits == (audio.Limits{}) {
		cfg.Limits = audio.DefaultLimits()
	}
	return &Orchestrator{
		cfg:        cfg,
		variations: variations,
		synth:      synth,
		store:      store,
		registry:   registry,
		log:        log,
	}, nil
}

// Run executes the pipeline over the seed phrases. Per-task and
// per-phrase failures are aggregated into the report; only
// misconfiguration aborts the run, and it does so before any task is
// dispatched. Cancelling ctx stops dispatch and lets in-flight tasks
// finish their writes.
func (o *Orchestrator) Run(ctx context.Context, phrases []corpus.SeedPhrase) (*Report, error) {
	if err := o.checkLanguages(phrases); err != nil {
		return nil, err
	}

	report := newReport()
	if ws, ok := o.store.(warnSink); ok {
		ws.SetOnWarn(func(key string, err error) {
			o.log.WithField("path", key).WithError(err).Warnln("remote write failed, local copy retained")
			report.noteWarning(Warning{Path: key, Message: err.Error()})
		})
	}

	o.log.WithFields(logrus.Fields{
		"run":     report.RunID,
		"phrases": len(phrases),
	}).Infoln("pipeline run starting")

	tasks := make(chan *Task, o.cfg.SynthWorkers*2)

	var workers errgroup.Group
	for i := 0; i < o.cfg.SynthWorkers; i++ {
		workers.Go(func() error {
			for task := range tasks {
				o.runTask(ctx, task, report)
			}
			return nil
		})
	}

	var dispatch errgroup.Group
	dispatch.SetLimit(o.cfg.PhraseWorkers)
	for _, phrase := range phrases {
		if ctx.Err() != nil {
			break
		}
		phrase := phrase
		dispatch.Go(func() error {
			o.runPhrase(ctx, phrase, tasks, report)
			return nil
		})
	}
	dispatch.Wait()
	close(tasks)
	workers.Wait()

	report.finish()
	o.log.WithFields(logrus.Fields{
		"run":       report.RunID,
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}).Infoln("pipeline run finished")

	return report, nil
}

// checkLanguages fails fast when any input language has no configured
// voices. A fatal configuration error, per the run-level error policy.
func (o *Orchestrator) checkLanguages(phrases []corpus.SeedPhrase) error {
	seen := make(map[string]bool)
	for _, p := range phrases {
		lang := strings.ToLower(p.Language)
		if seen[lang] {
			continue
		}
		seen[lang] = true
		if len(o.registry.Voices(lang)) == 0 {
			return fmt.Errorf("no voices configured for language %q", p.Language)
		}
	}
	return nil
}

// runPhrase generates variations for one phrase and fans the tasks
// out. A variation failure is recorded and isolated; sibling phrases
// never see it.
func (o *Orchestrator) runPhrase(ctx context.Context, phrase corpus.SeedPhrase, tasks chan<- *Task, report *Report) {
	vars, err := o.variations.Generate(ctx, phrase, o.cfg.VariationsPerPhrase)
	if err != nil {
		o.log.WithField("phrase", phrase.Text).WithError(err).Errorln("variation generation failed")
		report.notePhraseFailure(Failure{
			Phrase:   phrase.Text,
			Intent:   phrase.Intent,
			Language: phrase.Language,
			Stage:    StageVariation,
			Kind:     errorKind(err),
			Message:  err.Error(),
		})
		return
	}
	report.notePhrase(len(vars))

	voices := o.registry.Voices(phrase.Language)
	for _, v := range vars {
		for _, voice := range voices {
			task := &Task{
				Variation: v,
				Voice:     voice,
				Path:      storage.PathFor(phrase.Language, phrase.Intent, v.Text, voice.ID),
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runTask walks one task through its state machine. Every failure is
// converted into a report entry at this boundary; nothing escapes into
// sibling tasks.
func (o *Orchestrator) runTask(ctx context.Context, task *Task, report *Report) {
	report.noteAttempted()

	fail := func(stage Stage, err error) {
		_ = task.to(TaskFailed)
		o.log.WithFields(logrus.Fields{
			"path":  task.Path,
			"stage": string(stage),
		}).WithError(err).Errorln("task failed")
		report.noteFailure(Failure{
			Phrase:    task.Variation.Source.Text,
			Intent:    task.Variation.Source.Intent,
			Language:  task.Variation.Source.Language,
			Variation: task.Variation.Text,
			Voice:     task.Voice.ID,
			Path:      task.Path,
			Stage:     stage,
			Kind:      errorKind(err),
			Message:   err.Error(),
		})
	}

	if ctx.Err() != nil {
		fail(StageSynthesis, fmt.Errorf("run cancelled before task started; %w", ctx.Err()))
		return
	}

	// Idempotency gate: no synthesis budget is spent on work a prior
	// run already finished.
	exists, err := o.store.Exists(ctx, task.Path)
	if err != nil {
		fail(StageStore, fmt.Errorf("exists check failed; %w", err))
		return
	}
	if exists {
		if err := task.to(TaskDone); err != nil {
			o.log.WithError(err).Panicln("task state machine broken")
		}
		report.noteSkipped()
		o.log.WithField("path", task.Path).Debugln("skipping, artifact already stored")
		return
	}

	var artifact *audio.Artifact
	if err := task.to(TaskSynthesizing); err != nil {
		o.log.WithError(err).Panicln("task state machine broken")
	}
	for resynthesized := false; ; {
		artifact, err = o.synth.Synthesize(ctx, task.Variation.Text, task.Voice)
		if err != nil {
			fail(StageSynthesis, err)
			return
		}
		if err := task.to(TaskValidating); err != nil {
			o.log.WithError(err).Panicln("task state machine broken")
		}

		violations := audio.Validate(artifact, o.cfg.Limits)
		if len(violations) == 0 {
			break
		}
		if resynthesized {
			fail(StageValidate, &ValidationError{Violations: violations})
			return
		}
		// One re-synthesis per task on validation failure.
		resynthesized = true
		o.log.WithFields(logrus.Fields{
			"path":       task.Path,
			"violations": fmt.Sprint(violations),
		}).Warnln("artifact failed validation, re-synthesizing once")
		if err := task.to(TaskSynthesizing); err != nil {
			o.log.WithError(err).Panicln("task state machine broken")
		}
	}

	if err := task.to(TaskStoring); err != nil {
		o.log.WithError(err).Panicln("task state machine broken")
	}

	// Writes run to completion even when the run is being cancelled;
	// a half-written artifact is worse than a slightly late shutdown.
	storeCtx := context.WithoutCancel(ctx)
	err = o.store.Write(storeCtx, task.Path, artifact.Bytes, storage.Metadata{
		Intent:   task.Variation.Source.Intent,
		Language: task.Variation.Source.Language,
		Voice:    task.Voice.ID,
		Phrase:   task.Variation.Source.Text,
	})
	if err != nil {
		fail(StageStore, err)
		return
	}

	if err := task.to(TaskDone); err != nil {
		o.log.WithError(err).Panicln("task state machine broken")
	}
	report.noteSucceeded()
}

// ValidationError carries the violations that doomed an artifact after
// its one re-synthesis.
type ValidationError struct {
	Violations []audio.Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "artifact rejected: " + strings.Join(parts, "; ")
}

// errorKind buckets an error for the machine-readable failure list.
func errorKind(err error) string {
	var insufficient *variation.InsufficientError
	var invalid *ValidationError
	var exhausted *retry.ExhaustedError
	var status *retry.StatusError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_variations"
	case errors.Is(err, synthesis.ErrUnknownVoice):
		return "invalid_voice"
	case errors.As(err, &invalid):
		return "validation"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &exhausted):
		return "upstream_exhausted"
	case errors.As(err, &status):
		return "upstream"
	default:
		return "error"
	}
}
