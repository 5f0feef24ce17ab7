package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-tutor/internal/imagegen"
	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/resilience"
)

// EnricherConfig holds the optional collaborators of an Enricher.
type EnricherConfig struct {
	Breaker *resilience.CircuitBreaker
	Timeout time.Duration
	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// Enricher illustrates vocabulary candidates. A candidate whose image cannot
// be produced is dropped.
type Enricher struct {
	generator imagegen.Generator
	breaker   *resilience.CircuitBreaker
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewEnricher(generator imagegen.Generator, cfg EnricherConfig) *Enricher {
	logger := observability.GetLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics("")
	}

	return &Enricher{
		generator: generator,
		breaker:   cfg.Breaker,
		timeout:   cfg.Timeout,
		logger:    observability.WithComponent(logger, "enricher"),
		metrics:   metrics,
	}
}

// ImagePrompt is the illustration request for a gloss.
func ImagePrompt(gloss string) string {
	return fmt.Sprintf("A simple, clear, minimalist image of a %s on a clean background.", gloss)
}

// Enrich requests an illustration for candidate and returns the learned
// word. ok is false when no image could be produced.
func (e *Enricher) Enrich(ctx context.Context, candidate lesson.VocabularyCandidate) (*lesson.LearnedWord, bool) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "tutor.enrich",
		trace.WithAttributes(
			attribute.String("image.provider", e.generator.Name()),
			attribute.String("word.gloss", candidate.Gloss),
		))
	defer span.End()

	prompt := ImagePrompt(strings.TrimSpace(candidate.Gloss))

	e.metrics.RecordImageStart()
	var img *imagegen.Image
	call := func() error {
		var err error
		img, err = e.generator.Generate(ctx, prompt)
		if err == nil && (img == nil || len(img.Data) == 0) {
			err = fmt.Errorf("%w: empty image", imagegen.ErrImageSynthesis)
		}
		return err
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Call(call)
	} else {
		err = call()
	}
	e.metrics.RecordImageEnd(err == nil)

	if err != nil {
		observability.FailSpan(span, err)
		e.metrics.RecordError(observability.ErrTypeImageSynthesis, "enricher")
		e.metrics.RecordVocabularyDropped()
		e.logger.Warn().
			Err(err).
			Str("target", candidate.Target).
			Str("gloss", candidate.Gloss).
			Msg("Image synthesis failed, dropping vocabulary item")
		return nil, false
	}

	return &lesson.LearnedWord{
		VocabularyCandidate: candidate,
		ImageRef:            img.DataURI(),
	}, true
}
