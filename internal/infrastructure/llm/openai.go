// Package llm is the optional AI-enrichment capability. A failing or absent
// summarizer never blocks the pipeline.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"NormScanner/internal/config"
	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
)

const systemPrompt = `Voce resume publicacoes oficiais e noticias tributarias brasileiras.
Responda somente com JSON: {"summary": "...", "sentiment": "positive|neutral|negative", "tags": ["..."]}.
O resumo deve ter no maximo tres frases.`

// OpenAISummarizer implements ports.Summarizer over any OpenAI-compatible API.
type OpenAISummarizer struct {
	client   *openai.Client
	model    string
	maxChars int
}

var _ ports.Summarizer = (*OpenAISummarizer)(nil)

// NewOpenAISummarizer builds the summarizer from configuration.
func NewOpenAISummarizer(cfg config.EnrichmentConfig) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("enrichment api key is empty")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &OpenAISummarizer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		maxChars: maxChars,
	}, nil
}

// Summarize asks the model for a JSON verdict over the (truncated) text.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (domain.Enrichment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Enrichment{}, fmt.Errorf("nothing to summarize")
	}
	if len(text) > s.maxChars {
		text = text[:s.maxChars]
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return domain.Enrichment{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Enrichment{}, fmt.Errorf("chat completion: empty response")
	}

	return parseEnrichment(resp.Choices[0].Message.Content)
}

func parseEnrichment(raw string) (domain.Enrichment, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed struct {
		Summary   string   `json:"summary"`
		Sentiment string   `json:"sentiment"`
		Tags      []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		// Some models answer in prose despite the prompt; keep it as the summary.
		return domain.Enrichment{Summary: raw}, nil
	}
	return domain.Enrichment{
		Summary:   parsed.Summary,
		Sentiment: parsed.Sentiment,
		Tags:      parsed.Tags,
	}, nil
}

// NoopSummarizer satisfies the interface when enrichment is disabled.
type NoopSummarizer struct{}

var _ ports.Summarizer = NoopSummarizer{}

// Summarize returns an empty enrichment.
func (NoopSummarizer) Summarize(context.Context, string) (domain.Enrichment, error) {
	return domain.Enrichment{}, nil
}
