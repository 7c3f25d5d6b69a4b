// Package variation turns one seed phrase into a filtered set of
// paraphrases by way of the text-generation service.
package variation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"voxgen/corpus"
	"voxgen/ratelimit"
	"voxgen/retry"
)

// ServiceKey is the rate-limiter key for the text-generation service.
const ServiceKey = "variation-api"

// MaxVariations bounds how many paraphrases a single request may ask
// for, however the caller configures the count.
const MaxVariations = 50

// DefaultMinVariations is how many paraphrases must survive filtering
// before a phrase counts as generated.
const DefaultMinVariations = 5

// InsufficientError reports that too few usable variations survived
// filtering. Fatal for the phrase, not for the run, and not retried.
type InsufficientError struct {
	Phrase string
	Got    int
	Want   int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("only %d of the required %d variations survived filtering for %q", e.Got, e.Want, e.Phrase)
}

// chatCompleter is the slice of *openai.Client we actually use.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client generates paraphrase variations of seed phrases.
type Client struct {
	api     chatCompleter
	model   string
	limiter *ratelimit.Limiter
	policy  retry.Policy
	log     logrus.FieldLogger

	// MinVariations is the filtering survival threshold; zero means
	// DefaultMinVariations.
	MinVariations int

	// Similar decides whether a candidate is plausibly related to the
	// source phrase. Nil means TokenOverlap. The heuristic is
	// deliberately pluggable; nothing here is semantic NLP.
	Similar func(source, candidate string) bool
}

// NewClient wires the variation client. model is e.g. "gpt-4-1106-preview".
func NewClient(api *openai.Client, model string, limiter *ratelimit.Limiter, policy retry.Policy, log logrus.FieldLogger) *Client {
	return &Client{
		api:     api,
		model:   model,
		limiter: limiter,
		policy:  policy,
		log:     log,
	}
}

// Generate asks the service for count paraphrases of phrase, filters
// the raw strings and returns what survives. It fails with
// *InsufficientError when fewer than MinVariations remain, and with
// the retry controller's error when the service never answers.
func (c *Client) Generate(ctx context.Context, phrase corpus.SeedPhrase, count int) ([]corpus.Variation, error) {
	if count < 1 || count > MaxVariations {
		return nil, fmt.Errorf("variation count %d out of range [1, %d]", count, MaxVariations)
	}

	var content string
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := ratelimit.Wait(ctx, c.limiter.Acquire(ServiceKey)); err != nil {
			return fmt.Errorf("rate limit wait aborted; %w", err)
		}

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userPrompt(phrase, count),
				},
			},
			Temperature: 0.9,
		})
		if err != nil {
			mapped := mapAPIError(err)
			var se *retry.StatusError
			if errors.As(mapped, &se) && se.Code == 429 {
				c.limiter.ReportThrottled(ServiceKey, se.RetryAfter)
			}
			return mapped
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}

		c.limiter.ReportSuccess(ServiceKey)
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate variations for %q; %w", phrase.Text, err)
	}

	candidates := parseCandidates(content)
	kept := c.filter(phrase, candidates, count)

	min := c.MinVariations
	if min == 0 {
		min = DefaultMinVariations
	}
	if min > count {
		min = count
	}
	if len(kept) < min {
		return nil, &InsufficientError{Phrase: phrase.Text, Got: len(kept), Want: min}
	}

	c.log.WithFields(logrus.Fields{
		"phrase":     phrase.Text,
		"candidates": len(candidates),
		"kept":       len(kept),
	}).Debugln("variations generated")

	variations := make([]corpus.Variation, 0, len(kept))
	for _, text := range kept {
		variations = append(variations, corpus.Variation{Source: phrase, Text: text})
	}
	return variations, nil
}

// filter drops empties, case-insensitive duplicates and candidates
// with no lexical relation to the source phrase, capping at count.
func (c *Client) filter(phrase corpus.SeedPhrase, candidates []string, count int) []string {
	similar := c.Similar
	if similar == nil {
		similar = TokenOverlap
	}

	seen := make(map[string]bool)
	var kept []string
	for _, raw := range candidates {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		if seen[lower] || lower == strings.ToLower(phrase.Text) {
			continue
		}
		if !similar(phrase.Text, text) {
			c.log.WithFields(logrus.Fields{
				"phrase":    phrase.Text,
				"candidate": text,
			}).Debugln("dropping unrelated candidate")
			continue
		}
		seen[lower] = true
		kept = append(kept, text)
		if len(kept) == count {
			break
		}
	}
	return kept
}

// TokenOverlap is the default relatedness check: at least one token
// shared between source and candidate, case-insensitive. Cheap and
// only meant to catch obviously unrelated completions.
func TokenOverlap(source, candidate string) bool {
	sourceTokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(source)) {
		sourceTokens[strings.Trim(tok, ".,!?;:'\"")] = true
	}
	for _, tok := range strings.Fields(strings.ToLower(candidate)) {
		if sourceTokens[strings.Trim(tok, ".,!?;:'\"")] {
			return true
		}
	}
	return false
}

// mapAPIError converts go-openai errors into retry.StatusError so the
// classifier and rate limiter can work off the HTTP status.
func mapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &retry.StatusError{Code: reqErr.HTTPStatusCode}
	}
	return err
}
