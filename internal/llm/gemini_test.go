package llm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
)

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeModels struct {
	queue   []fakeResponse
	calls   int
	configs []*genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.configs = append(f.configs, cfg)
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.resp, next.err
}

func textResponse(text string, tokens int32) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: tokens},
	}
}

func newTestGenerator(models *fakeModels) *Generator {
	return &Generator{
		models:       models,
		model:        "gemini-test",
		systemPrompt: DefaultSystemPrompt,
		maxRetries:   2,
		logger:       observability.NopLogger(),
	}
}

func noSleep(t *testing.T) {
	original := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = original })
}

func TestNewGenerator_RequiresAPIKey(t *testing.T) {
	_, err := NewGenerator(context.Background(), config.LLMConfig{Provider: "gemini", APIKey: "  "}, observability.NopLogger())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAnswer_ReturnsTextAndTokens(t *testing.T) {
	models := &fakeModels{queue: []fakeResponse{{resp: textResponse(" Gate B is free. ", 37)}}}
	g := newTestGenerator(models)

	answer, err := g.Answer(context.Background(), "Where do I park?")
	require.NoError(t, err)
	assert.Equal(t, "Gate B is free.", answer.Text)
	assert.Equal(t, 37, answer.TokensUsed)

	require.Len(t, models.configs, 1)
	require.NotNil(t, models.configs[0].SystemInstruction)
	assert.Equal(t, DefaultSystemPrompt, models.configs[0].SystemInstruction.Parts[0].Text)
}

func TestAnswer_RetriesServerErrors(t *testing.T) {
	noSleep(t)
	models := &fakeModels{queue: []fakeResponse{
		{err: genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}},
		{resp: textResponse("retry ok", 5)},
	}}

	answer, err := newTestGenerator(models).Answer(context.Background(), "hello?")
	require.NoError(t, err)
	assert.Equal(t, "retry ok", answer.Text)
	assert.Equal(t, 2, models.calls)
}

func TestAnswer_StopsOnClientErrors(t *testing.T) {
	noSleep(t)
	models := &fakeModels{queue: []fakeResponse{
		{err: genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}},
	}}

	_, err := newTestGenerator(models).Answer(context.Background(), "hello?")
	assert.Error(t, err)
	assert.Equal(t, 1, models.calls)
}

func TestAnswer_EmptyResponse(t *testing.T) {
	models := &fakeModels{queue: []fakeResponse{{resp: textResponse("   ", 1)}}}
	_, err := newTestGenerator(models).Answer(context.Background(), "hello?")
	assert.ErrorContains(t, err, "empty response")

	_, err = newTestGenerator(&fakeModels{}).Answer(context.Background(), "  ")
	assert.Error(t, err)
}
