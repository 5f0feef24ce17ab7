package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAISynthesizer uses the audio/speech endpoint with raw pcm output,
// which is 24 kHz 16-bit mono.
type OpenAISynthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAISynthesizer(client *openai.Client, model, voice string) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client, model: model, voice: voice}
}

func (o *OpenAISynthesizer) Name() string {
	return "openai/" + o.model
}

func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpeechSynthesis, err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio: %w", ErrSpeechSynthesis, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrSpeechSynthesis)
	}
	return pcm, nil
}
