package llm

import (
	"context"
)

type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageRequest asks for one panel. Reference is the hero's canonical
// character sheet, appended to the prompt for visual consistency.
type ImageRequest struct {
	Prompt    string
	Reference string
	Size      string
}

type Image struct {
	URL           string
	RevisedPrompt string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// TextModerator returns per-category risk in [0,1].
type TextModerator interface {
	Moderate(ctx context.Context, text string) (map[string]float64, error)
}
