package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/lexiqai/voice-tutor/internal/gemini"
)

// GeminiGenerator uses a Gemini image model.
type GeminiGenerator struct {
	client *gemini.Client
	model  string
}

func NewGeminiGenerator(client *gemini.Client, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) Name() string {
	return "gemini/" + g.model
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := g.client.GenerateContent(ctx, g.model, &gemini.Request{
		Contents: []gemini.Content{{Parts: []gemini.Part{{Text: prompt}}}},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{gemini.ModalityImage},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageSynthesis, err)
	}

	inline := resp.InlineData()
	if inline == nil {
		return nil, fmt.Errorf("%w: no image in response", ErrImageSynthesis)
	}
	data, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image payload: %w", ErrImageSynthesis, err)
	}
	if len(data) == 0 || inline.MimeType == "" {
		return nil, fmt.Errorf("%w: empty image payload", ErrImageSynthesis)
	}

	return &Image{MimeType: inline.MimeType, Data: data}, nil
}
