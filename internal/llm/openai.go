package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const moderationModel = "omni-moderation-latest"

type OpenAIClient struct {
	client     *openai.Client
	model      string
	embedModel string
	imageModel string
}

func NewOpenAIClient(apiKey string, model string, embedModel string, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAIClient{
		client:     client,
		model:      model,
		embedModel: embedModel,
		imageModel: openai.CreateImageModelDallE3,
	}
}

// WithImageModel returns c configured to draw with model.
func (c *OpenAIClient) WithImageModel(model string) *OpenAIClient {
	if model != "" {
		c.imageModel = model
	}
	return c
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Classify(err, "chat completion")
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}
	return "", Classify(fmt.Errorf("no response choices"), "chat completion")
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	model := openai.SmallEmbedding3
	if c.embedModel != "" {
		model = openai.EmbeddingModel(c.embedModel)
	}
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, Classify(err, "embedding")
	}
	if len(resp.Data) > 0 {
		return resp.Data[0].Embedding, nil
	}
	return nil, Classify(fmt.Errorf("no embedding data"), "embedding")
}

func (c *OpenAIClient) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	prompt := req.Prompt
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		prompt = fmt.Sprintf("%s\n\nCharacter reference (keep consistent): %s", prompt, ref)
	}
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return Image{}, Classify(err, "image generation")
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Image{}, Classify(fmt.Errorf("no image data"), "image generation")
	}
	return Image{URL: resp.Data[0].URL, RevisedPrompt: resp.Data[0].RevisedPrompt}, nil
}

func (c *OpenAIClient) Moderate(ctx context.Context, text string) (map[string]float64, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: moderationModel,
	})
	if err != nil {
		return nil, Classify(err, "moderation")
	}
	if len(resp.Results) == 0 {
		return nil, Classify(fmt.Errorf("no moderation results"), "moderation")
	}
	s := resp.Results[0].CategoryScores
	return map[string]float64{
		"hate":                   float64(s.Hate),
		"hate_threatening":       float64(s.HateThreatening),
		"harassment":             float64(s.Harassment),
		"harassment_threatening": float64(s.HarassmentThreatening),
		"self_harm":              float64(s.SelfHarm),
		"sexual":                 float64(s.Sexual),
		"sexual_minors":          float64(s.SexualMinors),
		"violence":               float64(s.Violence),
		"violence_graphic":       float64(s.ViolenceGraphic),
	}, nil
}
