package synthesis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxgen/corpus"
	"voxgen/ratelimit"
	"voxgen/retry"
)

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testRegistry(t *testing.T) *corpus.Registry {
	t.Helper()
	r, err := corpus.NewRegistry([]corpus.VoiceProfile{
		{ID: "Matt", Language: "english"},
		{ID: "Joanna", Language: "english"},
	})
	require.NoError(t, err)
	return r
}

func testClientFor(t *testing.T, url string, limiter *ratelimit.Limiter, attempts int) *Client {
	t.Helper()
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = attempts
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	return &Client{
		endpoint:   url,
		apiKey:     "test-key",
		http:       &http.Client{Timeout: 5 * time.Second},
		registry:   testRegistry(t),
		limiter:    limiter,
		policy:     policy,
		sampleRate: 16000,
		log:        discardLog(),
	}
}

var matt = corpus.VoiceProfile{ID: "Matt", Language: "english"}

func TestSynthesizeUnknownVoiceFailsFast(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	c := testClientFor(t, srv.URL, ratelimit.New(100, time.Minute), 3)
	_, err := c.Synthesize(context.Background(), "hello", corpus.VoiceProfile{ID: "Nobody"})

	assert.ErrorIs(t, err, ErrUnknownVoice)
	assert.Equal(t, 0, hits, "a configuration error must not reach the network")
}

func TestSynthesizeSendsAuthAndPayload(t *testing.T) {
	var gotAuth string
	var gotReq TTSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusBadRequest) // stop before mp3 decoding
	}))
	defer srv.Close()

	c := testClientFor(t, srv.URL, ratelimit.New(100, time.Minute), 1)
	_, err := c.Synthesize(context.Background(), "turn on the lights", matt)
	require.Error(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "turn on the lights", gotReq.Text)
	assert.Equal(t, "Matt", gotReq.Voice)
	assert.Equal(t, "mp3", gotReq.Format)
	assert.Equal(t, 16000, gotReq.SampleRate)
}

func TestSynthesizeThrottleFeedsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := ratelimit.New(100, time.Minute)
	c := testClientFor(t, srv.URL, limiter, 1)

	_, err := c.Synthesize(context.Background(), "hello there", matt)
	require.Error(t, err)

	var status *retry.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusTooManyRequests, status.Code)
	assert.Equal(t, 30*time.Second, status.RetryAfter)

	// Sibling tasks on the same key now wait out the cool-down.
	wait := limiter.Acquire(ServiceKey)
	assert.Greater(t, wait, 25*time.Second)
}

func TestSynthesizeRetriesServerErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClientFor(t, srv.URL, ratelimit.New(100, time.Minute), 3)
	_, err := c.Synthesize(context.Background(), "hello", matt)

	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, hits)
}

func TestSynthesizeDoesNotRetryClientErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := testClientFor(t, srv.URL, ratelimit.New(100, time.Minute), 5)
	_, err := c.Synthesize(context.Background(), "hello", matt)

	require.Error(t, err)
	assert.Equal(t, 1, hits)
}

func TestSynthesizeEmptyResponseFails(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClientFor(t, srv.URL, ratelimit.New(100, time.Minute), 3)
	_, err := c.Synthesize(context.Background(), "hello", matt)

	require.Error(t, err)
	assert.Equal(t, 1, hits, "an empty body is not a transport error, no retry")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))

	when := time.Now().Add(45 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(when)
	assert.Greater(t, got, 40*time.Second)
	assert.LessOrEqual(t, got, 45*time.Second)
}
