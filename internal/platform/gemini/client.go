package gemini

import (
	"context"
	"fmt"

	"github.com/storyloom/storyloom-api/internal/config"
	"google.golang.org/genai"
)

// NewClient builds the shared genai client used by both providers in this
// package. The caller owns the client and passes it to the provider
// constructors so a single connection pool serves image generation and
// moderation.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*genai.Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", ErrInvalidConfig, err)
	}

	return client, nil
}
