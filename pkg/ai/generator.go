package ai

import "context"

// TextGenerator is the completion oracle: one instruction block and one user
// message in, free text out. Providers (OpenAI-compatible, Gemini) implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
