// Package llm provides the model-backed fallback used when the knowledge
// base has no confident answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/responder"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 2
	retryBackoff      = 500 * time.Millisecond
)

// DefaultSystemPrompt frames the model as the platform's candidate assistant.
const DefaultSystemPrompt = `You answer questions from candidates of a staffing platform about jobs, shifts, pay and onboarding.
Reply in one or two short sentences, in the candidate's language.
If you do not know the answer, say that a recruiter will follow up. Never invent pay rates, addresses or dates.`

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("gemini api key is required")

var sleep = time.Sleep

// contentGenerator is the part of the genai client the generator calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator answers questions through Gemini.
type Generator struct {
	models       contentGenerator
	model        string
	systemPrompt string
	timeout      time.Duration
	maxRetries   int
	logger       *observability.Logger
}

// NewGenerator creates a Gemini-backed generator.
func NewGenerator(ctx context.Context, cfg config.LLMConfig, logger *observability.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &Generator{
		models:       client.Models,
		model:        model,
		systemPrompt: DefaultSystemPrompt,
		timeout:      cfg.Timeout,
		maxRetries:   defaultMaxRetries,
		logger:       logger,
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Answer implements responder.Fallback.
func (g *Generator) Answer(ctx context.Context, question string) (*responder.FallbackAnswer, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini generator is not initialized")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question must not be empty")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: g.systemPrompt}}},
		Temperature:       genai.Ptr[float32](0.2),
	}

	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			sleep(retryBackoff * time.Duration(attempt))
		}
		resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(question), cfg)
		if err != nil {
			lastErr = err
			if !retryable(err) || ctx.Err() != nil {
				break
			}
			g.logger.Warn().Err(err).Int("attempt", attempt+1).Str("model", g.model).Msg("Gemini call failed, retrying")
			continue
		}

		text := responseText(resp)
		if text == "" {
			return nil, errors.New("gemini api returned empty response")
		}
		answer := &responder.FallbackAnswer{Text: text}
		if resp.UsageMetadata != nil {
			answer.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		}
		return answer, nil
	}
	return nil, fmt.Errorf("generate content: %w", lastErr)
}

// retryable reports server-side failures and rate limits.
func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	return false
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String())
}
