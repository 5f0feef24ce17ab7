package stt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/config"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	callbacks                              Callbacks
	logger                                 zerolog.Logger
}

// Message forwards finalized transcript segments
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	// Get the best alternative (first one)
	alt := msg.Channel.Alternatives[0]
	m.logger.Debug().
		Str("transcript", alt.Transcript).
		Float64("confidence", alt.Confidence).
		Bool("speech_final", msg.SpeechFinal).
		Msg("Deepgram final segment")

	if m.callbacks.OnTranscript != nil {
		m.callbacks.OnTranscript(alt.Transcript, msg.SpeechFinal)
	}
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	if m.callbacks.OnUtteranceEnd != nil {
		m.callbacks.OnUtteranceEnd()
	}
	return nil
}

func (m *messageCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	m.logger.Debug().Msg("Deepgram stream closed")
	if m.callbacks.OnClose != nil {
		m.callbacks.OnClose()
	}
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")
	if m.callbacks.OnError != nil {
		m.callbacks.OnError(fmt.Errorf("deepgram: %+v", errorResponse))
	}
	return nil
}

// DeepgramEngine opens Deepgram live transcription streams
type DeepgramEngine struct {
	apiKey         string
	options        *interfaces.LiveTranscriptionOptions
	reconnect      *resilience.ReconnectConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramEngine creates an engine for single-utterance recognition of
// linear16 mono audio at cfg.InputSampleRate.
func NewDeepgramEngine(cfg *config.Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *DeepgramEngine {
	logger = observability.WithComponent(logger, "deepgram")

	return &DeepgramEngine{
		apiKey: cfg.DeepgramAPIKey,
		options: &interfaces.LiveTranscriptionOptions{
			Model:          cfg.DeepgramModel,
			Language:       cfg.DeepgramLanguage,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: false,
			Endpointing:    strconv.Itoa(cfg.VADSilenceFrames * 20), // ms, same window as the local VAD
			Encoding:       "linear16",
			Channels:       1,
			SampleRate:     cfg.InputSampleRate,
		},
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
			Logger:      &logger,
		},
		circuitBreaker: breaker,
		logger:         logger,
	}
}

func (d *DeepgramEngine) Name() string {
	return "deepgram/" + d.options.Model
}

// Open connects a new streaming session, retrying with backoff.
func (d *DeepgramEngine) Open(ctx context.Context, cb Callbacks) (Stream, error) {
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		callbacks:              cb,
		logger:                 d.logger,
	}

	var client *listenClient.WSCallback
	err := resilience.Reconnect(ctx, func() error {
		return d.circuitBreaker.Call(func() error {
			c, err := listenClient.NewWSUsingCallback(
				ctx,
				d.apiKey,
				&interfaces.ClientOptions{EnableKeepAlive: true},
				d.options,
				callback,
			)
			if err != nil {
				return fmt.Errorf("failed to create Deepgram client: %w", err)
			}
			if !c.Connect() {
				return fmt.Errorf("failed to connect to Deepgram")
			}
			client = c
			return nil
		})
	}, d.reconnect)
	if err != nil {
		observability.IncrementCircuitBreakerFailures(d.circuitBreaker.Name())
		return nil, err
	}

	d.logger.Info().
		Str("model", d.options.Model).
		Str("language", d.options.Language).
		Msg("Deepgram streaming session opened")
	return &deepgramStream{client: client}, nil
}

type deepgramStream struct {
	client *listenClient.WSCallback
}

func (s *deepgramStream) Write(pcm []byte) error {
	if _, err := s.client.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Finish sends CloseStream so Deepgram flushes the final results.
func (s *deepgramStream) Finish() {
	s.client.Finish()
}
