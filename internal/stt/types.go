package stt

import (
	"context"
	"errors"
)

var (
	// ErrRecognition wraps every failure reported through an EventError.
	ErrRecognition = errors.New("speech recognition failed")

	// ErrAlreadyListening is returned by Start while a session is active.
	ErrAlreadyListening = errors.New("speech recognition already active")

	// ErrUnavailable is returned when no recognition engine is configured.
	ErrUnavailable = errors.New("speech recognition unavailable")
)

// EventKind identifies the terminal event of a listening session.
type EventKind int

const (
	EventTranscript EventKind = iota
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Reason classifies an EventError.
type Reason string

const (
	ReasonNetwork  Reason = "network"
	ReasonNoSpeech Reason = "no-speech"
	ReasonAborted  Reason = "aborted"
	ReasonService  Reason = "service"
)

// Event is the single result of one listening session.
type Event struct {
	Kind   EventKind
	Text   string // EventTranscript only
	Reason Reason // EventError only
	Err    error  // EventError only, wraps ErrRecognition
}

// Callbacks receive results from an engine stream. They may be invoked from
// the engine's own goroutines.
type Callbacks struct {
	// OnTranscript delivers a finalized segment. endOfSpeech is set when the
	// engine detected the end of the utterance.
	OnTranscript   func(text string, endOfSpeech bool)
	OnUtteranceEnd func()
	OnError        func(err error)
	OnClose        func()
}

// Stream is an open recognition stream.
type Stream interface {
	// Write sends PCM16LE audio.
	Write(pcm []byte) error
	// Finish asks the engine to flush remaining results and close.
	Finish()
}

// Engine opens recognition streams.
type Engine interface {
	Open(ctx context.Context, cb Callbacks) (Stream, error)
	Name() string
}
