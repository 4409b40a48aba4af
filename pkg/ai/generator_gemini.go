package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model and output budget.
type GeminiGenerator struct {
	client    *GeminiClient
	model     string
	maxTokens int
}

// NewGeminiGenerator builds a Gemini-based TextGenerator.
func NewGeminiGenerator(client *GeminiClient, model string, maxTokens int) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model, maxTokens: maxTokens}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt, g.maxTokens)
}
