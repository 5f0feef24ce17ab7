package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/gemini"
)

// GeminiSynthesizer uses a Gemini TTS model with a prebuilt voice.
type GeminiSynthesizer struct {
	client *gemini.Client
	model  string
	voice  string
}

func NewGeminiSynthesizer(client *gemini.Client, model, voice string) *GeminiSynthesizer {
	return &GeminiSynthesizer{client: client, model: model, voice: voice}
}

func (g *GeminiSynthesizer) Name() string {
	return "gemini/" + g.model
}

func (g *GeminiSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := g.client.GenerateContent(ctx, g.model, &gemini.Request{
		Contents: []gemini.Content{{Parts: []gemini.Part{{Text: text}}}},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{gemini.ModalityAudio},
			SpeechConfig: &gemini.SpeechConfig{
				VoiceConfig: gemini.VoiceConfig{
					PrebuiltVoiceConfig: gemini.PrebuiltVoiceConfig{VoiceName: g.voice},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpeechSynthesis, err)
	}

	inline := resp.InlineData()
	if inline == nil {
		return nil, fmt.Errorf("%w: no audio in response", ErrSpeechSynthesis)
	}

	pcm, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid audio payload: %w", ErrSpeechSynthesis, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrSpeechSynthesis)
	}

	if rate := pcmRate(inline.MimeType); rate > 0 && rate != audio.SpeechSampleRate {
		pcm = audio.SamplesToBytes(audio.Resample(audio.BytesToSamples(pcm), rate, audio.SpeechSampleRate))
	}
	return pcm, nil
}

// pcmRate reads the rate parameter of a mime type like
// "audio/L16;codec=pcm;rate=24000". It returns 0 when absent.
func pcmRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(key, "rate") {
			if rate, err := strconv.Atoi(value); err == nil {
				return rate
			}
		}
	}
	return 0
}
