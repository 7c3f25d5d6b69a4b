package variation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
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

type fakeCompleter struct {
	calls   int
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func testClient(api chatCompleter) *Client {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 2
	policy.InitialDelay = time.Millisecond
	return &Client{
		api:     api,
		model:   "test-model",
		limiter: ratelimit.New(1000, time.Minute),
		policy:  policy,
		log:     discardLog(),
	}
}

var lightsOn = corpus.SeedPhrase{Text: "turn on the lights", Intent: "LIGHTS_ON", Language: "english"}

func TestGenerateParsesJSONArray(t *testing.T) {
	api := &fakeCompleter{content: `["switch on the lights","lights on please","please turn the lights on","can you turn on the lights","put the lights on"]`}
	c := testClient(api)

	vars, err := c.Generate(context.Background(), lightsOn, 5)
	require.NoError(t, err)
	require.Len(t, vars, 5)
	assert.Equal(t, "switch on the lights", vars[0].Text)
	assert.Equal(t, lightsOn, vars[0].Source)
	assert.Equal(t, 1, api.calls, "one request per phrase")
}

func TestGenerateFallsBackToLineSplitting(t *testing.T) {
	api := &fakeCompleter{content: "1. switch on the lights\n2. lights on please\n3. please turn the lights on\n4. can you turn on the lights\n5. put the lights on"}
	c := testClient(api)

	vars, err := c.Generate(context.Background(), lightsOn, 5)
	require.NoError(t, err)
	assert.Len(t, vars, 5)
}

func TestGenerateFiltersDuplicatesAndEmpties(t *testing.T) {
	api := &fakeCompleter{content: `["lights on please","Lights On Please","","lights on please","switch the lights on","turn the lights on","light it up lights"]`}
	c := testClient(api)
	c.MinVariations = 3

	vars, err := c.Generate(context.Background(), lightsOn, 10)
	require.NoError(t, err)
	require.Len(t, vars, 4)
	assert.Equal(t, "lights on please", vars[0].Text)
}

func TestGenerateDropsUnrelatedCandidates(t *testing.T) {
	api := &fakeCompleter{content: `["switch on the lights","order a pizza","lights on please","lights please","turn them lights on","brighten the lights"]`}
	c := testClient(api)

	vars, err := c.Generate(context.Background(), lightsOn, 10)
	require.NoError(t, err)
	for _, v := range vars {
		assert.NotEqual(t, "order a pizza", v.Text)
	}
	assert.Len(t, vars, 5)
}

func TestGenerateDropsEchoOfSourcePhrase(t *testing.T) {
	api := &fakeCompleter{content: `["turn on the lights","Turn On The Lights","switch on the lights","lights on","lights on please","light up the lights","the lights turn on"]`}
	c := testClient(api)

	vars, err := c.Generate(context.Background(), lightsOn, 10)
	require.NoError(t, err)
	for _, v := range vars {
		assert.NotEqual(t, "turn on the lights", v.Text)
	}
	assert.Len(t, vars, 5)
}

func TestGenerateInsufficientVariations(t *testing.T) {
	api := &fakeCompleter{content: `["lights on please","switch on the lights"]`}
	c := testClient(api)

	_, err := c.Generate(context.Background(), lightsOn, 10)
	var insufficient *InsufficientError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Got)
	assert.Equal(t, 5, insufficient.Want)
	assert.Equal(t, 1, api.calls, "insufficient variations are not retried")
}

func TestGenerateCapsAtRequestedCount(t *testing.T) {
	api := &fakeCompleter{content: `["lights a","lights b","lights c","lights d","lights e","lights f","lights g","lights h"]`}
	c := testClient(api)
	c.MinVariations = 3

	vars, err := c.Generate(context.Background(), lightsOn, 6)
	require.NoError(t, err)
	assert.Len(t, vars, 6)
}

func TestGenerateRejectsCountOutOfRange(t *testing.T) {
	c := testClient(&fakeCompleter{})
	_, err := c.Generate(context.Background(), lightsOn, 0)
	assert.Error(t, err)
	_, err = c.Generate(context.Background(), lightsOn, MaxVariations+1)
	assert.Error(t, err)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	api := &fakeCompleter{err: &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}}
	c := testClient(api)

	_, err := c.Generate(context.Background(), lightsOn, 5)
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, api.calls)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	api := &fakeCompleter{err: &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}}
	c := testClient(api)

	_, err := c.Generate(context.Background(), lightsOn, 5)
	require.Error(t, err)
	assert.Equal(t, 1, api.calls)
}

func TestTokenOverlap(t *testing.T) {
	assert.True(t, TokenOverlap("turn on the lights", "lights on please"))
	assert.True(t, TokenOverlap("turn on the lights", "Turn them off, LIGHTS!"))
	assert.False(t, TokenOverlap("turn on the lights", "order a pizza"))
}

func TestParseCandidatesArrayInsideProse(t *testing.T) {
	got := parseCandidates(`Sure! Here you go: ["a one","b two"] Enjoy.`)
	assert.Equal(t, []string{"a one", "b two"}, got)
}
