// Package tts turns tutor replies into speech.
package tts

import (
	"context"
	"errors"
)

// ErrSpeechSynthesis wraps every failure to synthesize a reply.
var ErrSpeechSynthesis = errors.New("speech synthesis failed")

// Synthesizer renders text as raw PCM16LE mono audio at
// audio.SpeechSampleRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Name() string
}
