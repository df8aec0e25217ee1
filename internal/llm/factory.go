package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/genesis/internal/config"
)

// NewClient builds the text client and, when the provider has one, the
// embedder. A nil embedder means novelty falls back to title matching.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		return c, nil, nil

	case "ollama":
		// Ollama speaks the OpenAI wire format under /v1.
		c := NewOpenAIClient(orDefault(cfg.APIKey, "ollama"), cfg.Model, cfg.EmbeddingModel, ollamaURL(cfg.BaseURL))
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// NewImageGenerator builds the panel artist. Provider "none" yields a
// Disabled generator, which sends every panel to review.
func NewImageGenerator(cfg config.ImageConfig) (ImageGenerator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, "", "", cfg.BaseURL).WithImageModel(cfg.Model), nil
	case "", "none":
		return Disabled{Name: "image generation"}, nil
	default:
		return nil, fmt.Errorf("unsupported image provider: %s", cfg.Provider)
	}
}

func ollamaURL(base string) string {
	if base == "" {
		base = "http://localhost:11434"
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return strings.TrimRight(base, "/") + "/v1"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
