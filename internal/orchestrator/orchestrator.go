// Package orchestrator runs tutoring turns: it sends an utterance to the
// conversational model, records the reply in the transcript, hands it to
// audio output and illustrates any vocabulary the tutor introduced.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/llm"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/stt"
)

// DefaultGreeting is submitted as the invisible first turn of a session.
const DefaultGreeting = "Hello"

// AudioOutput speaks tutor replies. playback.Queue implements it.
type AudioOutput interface {
	Open() error
	Speak(ctx context.Context, text string) error
}

// SpeechInput is a single-utterance recognizer. stt.Adapter implements it.
type SpeechInput interface {
	Available() bool
	Start(ctx context.Context) (<-chan stt.Event, error)
	SendAudio(frame []byte) error
	Stop()
}

// ChatFactory starts a fresh conversation with the model.
type ChatFactory func() *llm.Chat

// Orchestrator owns the state of one tutoring session.
//
// Every mutation happens under one lock, and observers are notified in
// mutation order. Callbacks must not call methods that change state.
type Orchestrator struct {
	newChat  ChatFactory
	output   AudioOutput
	input    SpeechInput
	enricher *Enricher
	greeting string
	logger   zerolog.Logger
	metrics  *observability.Metrics

	onMessage func(lesson.ChatMessage)
	onWord    func(lesson.LearnedWord)
	onState   func(SessionState)

	mu           sync.Mutex
	state        SessionState
	starting     bool
	listenSeq    int
	chat         *llm.Chat
	transcript   []lesson.ChatMessage
	learnedWords []lesson.LearnedWord

	// notifyMu is taken before mu is released so deliveries keep the
	// order of the mutations that produced them.
	notifyMu sync.Mutex
}

// New creates an orchestrator in the welcome phase.
func New(newChat ChatFactory, output AudioOutput, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		newChat:  newChat,
		output:   output,
		greeting: DefaultGreeting,
		logger:   observability.WithComponent(observability.GetLogger(), "orchestrator"),
		metrics:  observability.NewSessionMetrics(""),
		state: SessionState{
			Phase:     PhaseWelcome,
			TurnState: TurnIdle,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// notification collects what a mutation produced.
type notification struct {
	message *lesson.ChatMessage
	word    *lesson.LearnedWord
	state   bool
}

// commit applies mutate under the state lock and then delivers its
// notifications.
func (o *Orchestrator) commit(mutate func(n *notification)) {
	var n notification

	o.mu.Lock()
	mutate(&n)
	state := o.state
	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()

	if n.message != nil && o.onMessage != nil {
		o.onMessage(*n.message)
	}
	if n.word != nil && o.onWord != nil {
		o.onWord(*n.word)
	}
	if n.state && o.onState != nil {
		o.onState(state)
	}
}

// StartSession moves the session from welcome to active, opens audio output
// and runs the greeting turn.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Phase == PhaseActive || o.starting {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.starting = true
	o.mu.Unlock()

	if err := o.output.Open(); err != nil {
		o.mu.Lock()
		o.starting = false
		o.mu.Unlock()
		o.logger.Error().Err(err).Msg("Audio output could not be initialized")
		return err
	}

	chat := o.newChat()
	o.commit(func(n *notification) {
		o.starting = false
		o.chat = chat
		o.state.Phase = PhaseActive
		n.state = true
	})
	o.metrics.RecordSessionStart()
	o.logger.Info().Msg("Session started")

	return o.SubmitUtterance(ctx, o.greeting, true)
}

// SubmitUtterance runs one turn. Only precondition failures are returned;
// anything that goes wrong during the turn is absorbed. isInitial turns are
// not added to the transcript.
func (o *Orchestrator) SubmitUtterance(ctx context.Context, text string, isInitial bool) error {
	text = strings.TrimSpace(text)

	var (
		err  error
		chat *llm.Chat
	)
	o.commit(func(n *notification) {
		switch {
		case o.state.Phase != PhaseActive:
			err = ErrSessionInactive
		case o.state.TurnState != TurnIdle:
			err = ErrTurnInFlight
		case o.state.IsRecording:
			err = ErrRecording
		case text == "":
			err = ErrEmptyUtterance
		}
		if err != nil {
			return
		}

		if !isInitial {
			msg := lesson.NewMessage(lesson.RoleUser, text)
			o.transcript = append(o.transcript, msg)
			n.message = &msg
		}
		o.state.IsThinking = true
		o.state.StatusMessage = StatusThinking
		o.state.TurnState = TurnAwaitingModel
		n.state = true
		chat = o.chat
	})
	if err != nil {
		return err
	}

	o.runTurn(ctx, chat, text, isInitial)
	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context, chat *llm.Chat, text string, isInitial bool) {
	ctx, span := observability.StartSpan(ctx, "tutor.turn",
		trace.WithAttributes(
			attribute.Bool("turn.initial", isInitial),
			attribute.Int("turn.utterance_length", len(text)),
		))
	o.metrics.RecordTurnStart()
	outcome := OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			observability.FailSpan(span, fmt.Errorf("panic: %v", r))
			o.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic during turn")
		}
		o.finishTurn()
		o.metrics.RecordTurnEnd(outcome)
		span.SetAttributes(attribute.String("turn.outcome", outcome))
		span.End()
	}()

	result, outcome := o.respond(ctx, chat, text)

	msg := lesson.NewMessage(lesson.RoleTutor, result.ReplyText)
	o.commit(func(n *notification) {
		o.transcript = append(o.transcript, msg)
		o.state.TurnState = TurnSpeaking
		n.message = &msg
		n.state = true
	})

	if err := o.output.Speak(ctx, result.ReplyText); err != nil {
		o.logger.Debug().Err(err).Str("message_id", msg.ID).Msg("Reply will not be heard")
	}

	if result.NewWord == nil || o.enricher == nil {
		return
	}

	o.commit(func(n *notification) {
		o.state.TurnState = TurnEnriching
		o.state.StatusMessage = StatusGeneratingImage
		n.state = true
	})
	word, ok := o.enricher.Enrich(ctx, *result.NewWord)
	if !ok {
		return
	}
	o.commit(func(n *notification) {
		o.learnedWords = append(o.learnedWords, *word)
		n.word = word
	})
	o.metrics.RecordLearnedWord()
	o.logger.Info().Str("target", word.Target).Str("gloss", word.Gloss).Msg("Learned word added")
}

// respond asks the model and parses its reply. Failures become the canned
// apology or fallback reply.
func (o *Orchestrator) respond(ctx context.Context, chat *llm.Chat, text string) (lesson.TurnResult, string) {
	ctx, span := observability.StartSpan(ctx, "tutor.model")
	defer span.End()

	o.metrics.RecordModelStart()
	raw, err := chat.Send(ctx, text)
	o.metrics.RecordModelEnd(err == nil)
	if err != nil {
		observability.FailSpan(span, err)
		o.metrics.RecordError(observability.ErrTypeModelRequest, "orchestrator")
		o.logger.Error().Err(err).Msg("Model request failed, apologizing")
		return lesson.TurnResult{ReplyText: lesson.ApologyText}, OutcomeApology
	}

	result, err := lesson.ParseStrict(raw)
	if err != nil {
		observability.FailSpan(span, err)
		o.metrics.RecordError(observability.ErrTypeMalformedReply, "orchestrator")
		o.logger.Warn().Err(err).Int("reply_length", len(raw)).Msg("Model reply could not be parsed")
		return lesson.FallbackResult(), OutcomeFallback
	}
	return result, OutcomeOK
}

// finishTurn clears the in-flight flags. It runs exactly once per turn.
func (o *Orchestrator) finishTurn() {
	o.commit(func(n *notification) {
		o.state.IsThinking = false
		o.state.StatusMessage = ""
		o.state.TurnState = TurnIdle
		n.state = true
	})
}

// ReportStatus shows a collaborator's progress while a turn is in flight.
// An empty status restores the turn's own status.
func (o *Orchestrator) ReportStatus(status string) {
	o.commit(func(n *notification) {
		if !o.state.IsThinking {
			return
		}
		if status == "" {
			status = StatusThinking
			if o.state.TurnState == TurnEnriching {
				status = StatusGeneratingImage
			}
		}
		if o.state.StatusMessage != status {
			o.state.StatusMessage = status
			n.state = true
		}
	})
}

// ToggleListening starts recognition, or stops it when already recording.
// The transcript, if any, is submitted as the next turn. ctx must outlive
// the recognition session.
func (o *Orchestrator) ToggleListening(ctx context.Context) error {
	var (
		err   error
		start bool
		seq   int
	)
	o.commit(func(n *notification) {
		switch {
		case o.state.Phase != PhaseActive:
			err = ErrSessionInactive
		case o.state.IsRecording:
			o.state.IsRecording = false
			n.state = true
		case o.state.IsThinking:
			err = ErrTurnInFlight
		case o.input == nil || !o.input.Available():
			err = ErrRecognitionUnavailable
		default:
			o.listenSeq++
			seq = o.listenSeq
			o.state.IsRecording = true
			n.state = true
			start = true
		}
	})
	if err != nil {
		return err
	}

	if !start {
		o.input.Stop()
		return nil
	}

	events, err := o.input.Start(ctx)
	if err != nil {
		o.stopRecording(seq)
		return fmt.Errorf("failed to start listening: %w", err)
	}
	go o.awaitRecognition(ctx, seq, events)
	return nil
}

func (o *Orchestrator) awaitRecognition(ctx context.Context, seq int, events <-chan stt.Event) {
	ev, ok := <-events
	o.stopRecording(seq)
	if !ok {
		return
	}

	switch ev.Kind {
	case stt.EventTranscript:
		if err := o.SubmitUtterance(ctx, ev.Text, false); err != nil {
			o.logger.Warn().Err(err).Msg("Transcript could not be submitted")
		}
	case stt.EventError:
		o.logger.Warn().Err(ev.Err).Str("reason", string(ev.Reason)).Msg("Speech recognition failed")
	case stt.EventEnd:
		o.logger.Debug().Msg("Listening ended without speech")
	}
}

// stopRecording clears IsRecording unless a later listening session has
// started since seq.
func (o *Orchestrator) stopRecording(seq int) {
	o.commit(func(n *notification) {
		if o.listenSeq == seq && o.state.IsRecording {
			o.state.IsRecording = false
			n.state = true
		}
	})
}

// SendAudio forwards microphone audio to speech input.
func (o *Orchestrator) SendAudio(frame []byte) error {
	if o.input == nil {
		return ErrRecognitionUnavailable
	}
	return o.input.SendAudio(frame)
}

// RecognitionAvailable reports whether speech input is configured.
func (o *Orchestrator) RecognitionAvailable() bool {
	return o.input != nil && o.input.Available()
}

// State returns a copy of the session state.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transcript returns a copy of the transcript.
func (o *Orchestrator) Transcript() []lesson.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]lesson.ChatMessage(nil), o.transcript...)
}

// LearnedWords returns a copy of the learned words.
func (o *Orchestrator) LearnedWords() []lesson.LearnedWord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]lesson.LearnedWord(nil), o.learnedWords...)
}

// Snapshot returns state, transcript and learned words read together.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		State:        o.state,
		Transcript:   append([]lesson.ChatMessage(nil), o.transcript...),
		LearnedWords: append([]lesson.LearnedWord(nil), o.learnedWords...),
	}
}

// Close records the end of the session.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	active := o.state.Phase == PhaseActive
	o.mu.Unlock()

	if o.input != nil {
		o.input.Stop()
	}
	if active {
		o.metrics.RecordSessionEnd()
	}
}
