package orchestrator

import (
	"errors"

	"github.com/lexiqai/voice-tutor/internal/lesson"
)

// Phase is the coarse lifecycle of a session.
type Phase string

const (
	PhaseWelcome Phase = "welcome"
	PhaseActive  Phase = "active"
)

// TurnState tracks where the current turn is in the pipeline.
type TurnState string

const (
	TurnIdle          TurnState = "idle"
	TurnAwaitingModel TurnState = "awaitingModel"
	TurnSpeaking      TurnState = "speaking"
	TurnEnriching     TurnState = "enriching"
)

// Status messages shown while a turn is in flight.
const (
	StatusThinking        = "Thinking..."
	StatusGeneratingImage = "Generating image..."
)

// Turn outcomes, as recorded in metrics.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeApology  = "apology"
	OutcomePanic    = "panic"
)

var (
	ErrSessionActive          = errors.New("session already started")
	ErrSessionInactive        = errors.New("session not started")
	ErrTurnInFlight           = errors.New("a turn is already in progress")
	ErrRecording              = errors.New("speech input is recording")
	ErrEmptyUtterance         = errors.New("utterance is empty")
	ErrRecognitionUnavailable = errors.New("speech recognition is not available")
)

// SessionState is the observable state of one tutoring session.
// IsRecording and IsThinking are never both true.
type SessionState struct {
	Phase         Phase     `json:"phase"`
	IsRecording   bool      `json:"isRecording"`
	IsThinking    bool      `json:"isThinking"`
	StatusMessage string    `json:"statusMessage"`
	TurnState     TurnState `json:"turnState"`
}

// Snapshot is a consistent copy of everything the session has produced.
type Snapshot struct {
	State        SessionState
	Transcript   []lesson.ChatMessage
	LearnedWords []lesson.LearnedWord
}
