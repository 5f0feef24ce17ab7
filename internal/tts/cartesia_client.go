package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/observability"
)

const (
	cartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2024-06-10"
)

// CartesiaClient implements Synthesizer using Cartesia's bytes endpoint
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaOption customizes a CartesiaClient.
type CartesiaOption func(*CartesiaClient)

// WithCartesiaURL overrides the endpoint.
func WithCartesiaURL(url string) CartesiaOption {
	return func(c *CartesiaClient) { c.apiURL = url }
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(apiKey, voiceID, modelID string, timeout time.Duration, opts ...CartesiaOption) *CartesiaClient {
	c := &CartesiaClient{
		apiKey:     apiKey,
		apiURL:     cartesiaURL,
		voiceID:    voiceID,
		modelID:    modelID,
		httpClient: observability.NewHTTPClient(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CartesiaClient) Name() string {
	return "cartesia/" + c.modelID
}

// Synthesize converts text to raw 24 kHz PCM16LE
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: audio.SpeechSampleRate,
		},
	}

	jsonData, err := sonic.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %w", ErrSpeechSynthesis, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrSpeechSynthesis, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to make request: %w", ErrSpeechSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: cartesia API returned status %d: %s",
			ErrSpeechSynthesis, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio: %w", ErrSpeechSynthesis, err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: cartesia returned empty audio", ErrSpeechSynthesis)
	}

	return audioData, nil
}
