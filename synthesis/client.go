// Package synthesis renders variation text into audio artifacts via
// the speech-synthesis service.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"voxgen/audio"
	"voxgen/corpus"
	"voxgen/ratelimit"
	"voxgen/retry"
)

// ServiceKey is the rate-limiter key for the synthesis service.
const ServiceKey = "synthesis-api"

// ErrUnknownVoice means the requested voice id is not in the registry.
// A configuration error: detected before any network call, no retry
// budget spent on it.
var ErrUnknownVoice = errors.New("unknown voice profile")

// TTSRequest is the synthesis endpoint's request body.
type TTSRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Format     string `json:"output_format"`
	SampleRate int    `json:"sample_rate"`
}

// Client renders text through the TTS endpoint and converts the result
// into the corpus output format.
type Client struct {
	endpoint   string
	apiKey     string
	http       *http.Client
	registry   *corpus.Registry
	limiter    *ratelimit.Limiter
	policy     retry.Policy
	sampleRate int
	log        logrus.FieldLogger
}

// NewClient wires the synthesis client. sampleRate is the fixed output
// rate the service is asked to render at.
func NewClient(endpoint, apiKey string, registry *corpus.Registry, limiter *ratelimit.Limiter, policy retry.Policy, sampleRate int, log logrus.FieldLogger) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		http:       &http.Client{Timeout: 60 * time.Second},
		registry:   registry,
		limiter:    limiter,
		policy:     policy,
		sampleRate: sampleRate,
		log:        log,
	}
}

// Synthesize renders text in the given voice and returns the converted
// artifact. It never touches storage.
func (c *Client) Synthesize(ctx context.Context, text string, voice corpus.VoiceProfile) (*audio.Artifact, error) {
	if _, ok := c.registry.Voice(voice.ID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, voice.ID)
	}

	var mp3Bytes []byte
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := ratelimit.Wait(ctx, c.limiter.Acquire(ServiceKey)); err != nil {
			return fmt.Errorf("rate limit wait aborted; %w", err)
		}

		data, err := c.request(ctx, text, voice.ID)
		if err != nil {
			return err
		}
		mp3Bytes = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed tts for voice %s; %w", voice.ID, err)
	}

	c.limiter.ReportSuccess(ServiceKey)

	artifact, err := audio.FromMP3(mp3Bytes, c.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert tts output; %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"voice":       voice.ID,
		"duration_ms": artifact.DurationMs,
		"bytes":       len(artifact.Bytes),
	}).Debugln("synthesized")

	return artifact, nil
}

// request performs one HTTP round trip. 429 responses feed the rate
// limiter's throttle override before being handed back to the retry
// controller, so sibling tasks on the same key pause too.
func (c *Client) request(ctx context.Context, text, voiceID string) ([]byte, error) {
	payload, err := json.Marshal(TTSRequest{
		Text:       text,
		Voice:      voiceID,
		Format:     "mp3",
		SampleRate: c.sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request; %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build tts request; %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed; %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.ReportThrottled(ServiceKey, retryAfter)
		return nil, &retry.StatusError{Code: resp.StatusCode, RetryAfter: retryAfter}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response; %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts response was empty")
	}
	return data, nil
}

// parseRetryAfter handles both forms the header may take: a delay in
// seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
