package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"voxgen/audio"
	"voxgen/corpus"
	"voxgen/pipeline"
	"voxgen/ratelimit"
	"voxgen/retry"
	"voxgen/storage"
	"voxgen/synthesis"
	"voxgen/variation"
)

func newInterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func main() {
	var (
		inputFile     = flag.String("input", "", "CSV file with intent,phrase,language columns")
		voicesFile    = flag.String("voices", "voices.yaml", "voice registry YAML")
		outDir        = flag.String("out", "corpus-out", "local storage root")
		count         = flag.Int("count", 10, "variations to request per phrase")
		phraseWorkers = flag.Int("phrase-workers", 4, "concurrent variation requests")
		synthWorkers  = flag.Int("synth-workers", 8, "concurrent synthesis tasks")
		perMinute     = flag.Int("rate", 60, "requests per minute per service")
		model         = flag.String("model", "gpt-4-1106-preview", "text-generation model")
		skipHeader    = flag.Int("skip-header", 0, "extra header rows to skip in the input file")
		verbose       = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	// .env is optional; real deployments export the vars directly.
	_ = godotenv.Load()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(log, *inputFile, *voicesFile, *outDir, *count, *phraseWorkers, *synthWorkers, *perMinute, *model, *skipHeader); err != nil {
		log.WithError(err).Errorln("run failed")
		os.Exit(1)
	}
}

func run(log *logrus.Logger, inputFile, voicesFile, outDir string, count, phraseWorkers, synthWorkers, perMinute int, model string, skipHeader int) error {
	if inputFile == "" {
		return fmt.Errorf("missing -input file")
	}

	openaiKey, exists := os.LookupEnv("OPENAI_API_KEY")
	if !exists {
		return fmt.Errorf("missing env var OPENAI_API_KEY")
	}
	ttsEndpoint, exists := os.LookupEnv("TTS_ENDPOINT")
	if !exists {
		return fmt.Errorf("missing env var TTS_ENDPOINT")
	}
	ttsKey, exists := os.LookupEnv("TTS_APIKEY")
	if !exists {
		return fmt.Errorf("missing env var TTS_APIKEY")
	}

	registry, err := corpus.LoadRegistry(voicesFile)
	if err != nil {
		return err
	}
	log.WithField("voices", registry.Len()).Infoln("voice registry loaded")

	phrases, err := readSeedPhrases(inputFile, skipHeader, log)
	if err != nil {
		return err
	}
	log.WithField("phrases", len(phrases)).Infoln("seed phrases loaded")

	local, err := storage.NewLocal(outDir)
	if err != nil {
		return err
	}

	// The remote tier is optional; without S3 config the corpus stays
	// local-only.
	var remote storage.Store
	if _, ok := os.LookupEnv("S3_HOSTNAME"); ok {
		s3Store, err := storage.NewS3FromEnv(log)
		if err != nil {
			return err
		}
		remote = s3Store
	} else {
		log.Warnln("no S3_HOSTNAME configured, running local-only")
	}
	store := storage.NewTiered(local, remote)

	limiter := ratelimit.New(perMinute, time.Minute)
	policy := retry.DefaultPolicy()
	policy.OnAttempt = func(a retry.Attempt) {
		log.WithFields(logrus.Fields{
			"attempt":   a.Number,
			"delay":     a.Delay.String(),
			"retryable": a.Retryable,
		}).WithError(a.Err).Warnln("upstream attempt failed")
	}

	variations := variation.NewClient(openai.NewClient(openaiKey), model, limiter, policy, log)
	synth := synthesis.NewClient(ttsEndpoint, ttsKey, registry, limiter, policy, audio.DefaultLimits().SampleRateHz, log)

	orch, err := pipeline.New(pipeline.Config{
		VariationsPerPhrase: count,
		PhraseWorkers:       phraseWorkers,
		SynthWorkers:        synthWorkers,
	}, variations, synth, store, registry, log)
	if err != nil {
		return err
	}

	ctx, cancel := newInterruptContext(context.Background())
	defer cancel()

	report, err := orch.Run(ctx, phrases)
	if err != nil {
		return err
	}

	fmt.Println(report.Summary())
	return nil
}

// readSeedPhrases parses the input CSV. The first row names the
// columns; intent, phrase and language are required. Invalid rows are
// skipped with a warning rather than aborting the run.
func readSeedPhrases(path string, skipHeader int, log logrus.FieldLogger) ([]corpus.SeedPhrase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file; %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	for i := 0; i < skipHeader; i++ {
		if _, err := r.Read(); err != nil {
			return nil, fmt.Errorf("failed to skip header rows; %w", err)
		}
	}

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row; %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"intent", "phrase", "language"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("input file is missing required column %q", required)
		}
	}

	var phrases []corpus.SeedPhrase
	for line := skipHeader + 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input row; %w", err)
		}

		phrase := corpus.SeedPhrase{
			Text:     strings.TrimSpace(record[cols["phrase"]]),
			Intent:   strings.TrimSpace(record[cols["intent"]]),
			Language: strings.TrimSpace(record[cols["language"]]),
		}
		if phrase.Text == "" || phrase.Intent == "" || phrase.Language == "" {
			log.WithField("line", line).Warnln("skipping row with empty fields")
			continue
		}
		phrases = append(phrases, phrase)
	}

	if len(phrases) == 0 {
		return nil, fmt.Errorf("input file %s has no usable rows", path)
	}
	return phrases, nil
}
