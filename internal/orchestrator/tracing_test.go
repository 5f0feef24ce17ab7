package orchestrator

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/llm"
	"github.com/lexiqai/voice-tutor/internal/playback"
)

type instantPlayer struct{}

func (instantPlayer) Play(clip *audio.Clip, done func()) error {
	done()
	return nil
}

type pcmSynth struct{}

func (pcmSynth) Name() string { return "pcm" }

func (pcmSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	// 100ms of silence at 24kHz
	return make([]byte, 4800), nil
}

func TestOrchestrator_TurnSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	model := newScriptedModel()
	model.replies["teach me a word"] = bookReply
	factory := func() *llm.Chat {
		return llm.NewChat(model, lesson.DefaultPersona().Directive())
	}
	queue := playback.NewQueue(instantPlayer{}, pcmSynth{})
	orch := New(factory, queue, WithEnricher(NewEnricher(&fakeGenerator{}, EnricherConfig{})))

	if err := orch.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := orch.SubmitUtterance(context.Background(), "teach me a word", false); err != nil {
		t.Fatalf("SubmitUtterance failed: %v", err)
	}
	if words := orch.LearnedWords(); len(words) != 1 {
		t.Fatalf("Expected one learned word, got %d", len(words))
	}

	ended := recorder.Ended()
	var turn sdktrace.ReadOnlySpan
	turns := 0
	for _, s := range ended {
		if s.Name() == "tutor.turn" {
			turn = s
			turns++
		}
	}
	if turns != 2 {
		t.Fatalf("Expected 2 turn spans, got %d", turns)
	}

	children := map[string]int{}
	for _, s := range ended {
		if s.Parent().SpanID() == turn.SpanContext().SpanID() {
			children[s.Name()]++
		}
	}
	for _, name := range []string{"tutor.model", "tutor.speech", "tutor.enrich"} {
		if children[name] != 1 {
			t.Errorf("Expected one %s span under the last turn, got %d (children %v)", name, children[name], children)
		}
	}
	if !turn.SpanContext().TraceID().IsValid() {
		t.Error("Expected turn span to be recorded")
	}
}
