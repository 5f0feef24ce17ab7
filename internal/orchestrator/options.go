package orchestrator

import (
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/observability"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSpeechInput enables ToggleListening. Without it the session is
// text-only.
func WithSpeechInput(input SpeechInput) Option {
	return func(o *Orchestrator) { o.input = input }
}

// WithEnricher illustrates new vocabulary. Without it candidates are ignored.
func WithEnricher(e *Enricher) Option {
	return func(o *Orchestrator) { o.enricher = e }
}

func WithGreeting(greeting string) Option {
	return func(o *Orchestrator) {
		if greeting != "" {
			o.greeting = greeting
		}
	}
}

func WithMessageCallback(fn func(lesson.ChatMessage)) Option {
	return func(o *Orchestrator) { o.onMessage = fn }
}

func WithLearnedWordCallback(fn func(lesson.LearnedWord)) Option {
	return func(o *Orchestrator) { o.onWord = fn }
}

func WithStateCallback(fn func(SessionState)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = observability.WithComponent(logger, "orchestrator") }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}
