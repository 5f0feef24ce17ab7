package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator uses the images endpoint with base64 output. Images are PNG.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	size   string
}

func NewOpenAIGenerator(client *openai.Client, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, size: openai.CreateImageSize1024x1024}
}

func (o *OpenAIGenerator) Name() string {
	return "openai/" + o.model
}

func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.model,
		N:              1,
		Size:           o.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageSynthesis, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: no image in response", ErrImageSynthesis)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image payload: %w", ErrImageSynthesis, err)
	}
	return &Image{MimeType: "image/png", Data: data}, nil
}
