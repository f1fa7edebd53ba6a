package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI completes prompts with Chat Completions and generates images.
type OpenAI struct {
	client     openai.Client
	model      string
	imageModel string
	maxTokens  int64
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(apiKey, model, imageModel string, maxTokens int, timeout time.Duration, opts ...option.RequestOption) *OpenAI {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		base = append(base, option.WithRequestTimeout(timeout))
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &OpenAI{
		client:     openai.NewClient(append(base, opts...)...),
		model:      model,
		imageModel: imageModel,
		maxTokens:  int64(maxTokens),
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(o.model),
		MaxTokens: openai.Int(o.maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage returns the URL of a single 1024x1024 image.
func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(o.imageModel),
		Size:   openai.ImageGenerateParamsSize1024x1024,
		N:      openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("openai images: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrEmptyResponse
	}
	return resp.Data[0].URL, nil
}
