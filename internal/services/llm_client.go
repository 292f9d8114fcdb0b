package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// GeminiClient is the production LLMClient. It asks for plain text and
// reports the token count measured by the API; everything downstream treats
// the text as untrusted.
type GeminiClient struct {
	model *genai.GenerativeModel
}

func NewGeminiClient(client *genai.Client, modelName string) *GeminiClient {
	return &GeminiClient{model: client.GenerativeModel(modelName)}
}

func (g *GeminiClient) GenerateAnalysis(ctx context.Context, prompt string) (string, int64, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate content: %w", err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}

	var tokens int64
	if resp.UsageMetadata != nil {
		tokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return sb.String(), tokens, nil
}
