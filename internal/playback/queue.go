// Package playback serializes synthesized speech so that exactly one clip
// plays at a time, in the order the clips were produced.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/resilience"
	"github.com/lexiqai/voice-tutor/internal/tts"
)

// StatusGeneratingSpeech is reported while a reply is being synthesized.
const StatusGeneratingSpeech = "Generating speech..."

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("playback queue closed")

// Player renders clips. Play must not block for the length of the clip; it
// calls done exactly once when playback has ended.
type Player interface {
	Play(clip *audio.Clip, done func()) error
}

// Opener is implemented by players that need output resources initialized
// before the first clip.
type Opener interface {
	Open() error
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) { q.logger = observability.WithComponent(logger, "playback") }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithBreaker guards speech synthesis with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(q *Queue) { q.breaker = cb }
}

// WithTimeout bounds each synthesis call.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) { q.timeout = d }
}

// WithStatusCallback receives StatusGeneratingSpeech when synthesis starts
// and "" when it ends.
func WithStatusCallback(fn func(status string)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

// Queue is a FIFO of clips in front of a Player.
type Queue struct {
	player   Player
	synth    tts.Synthesizer
	logger   zerolog.Logger
	metrics  *observability.Metrics
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
	onStatus func(string)

	mu      sync.Mutex
	clips   []*audio.Clip
	playing *audio.Clip
	closed  bool
	idle    chan struct{} // closed while nothing is playing or pending
}

// NewQueue creates a queue that synthesizes with synth and plays through player.
func NewQueue(player Player, synth tts.Synthesizer, opts ...Option) *Queue {
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		player:  player,
		synth:   synth,
		logger:  observability.WithComponent(observability.GetLogger(), "playback"),
		metrics: observability.NewSessionMetrics(""),
		idle:    idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Open initializes the player's output resources, if it has any.
func (q *Queue) Open() error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if opener, ok := q.player.(Opener); ok {
		if err := opener.Open(); err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
	}
	return nil
}

// Speak synthesizes text and enqueues the resulting clip. Failures are
// logged and counted; nothing is enqueued and the error is returned for the
// caller's records only.
func (q *Queue) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	q.status(StatusGeneratingSpeech)
	defer q.status("")

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "tutor.speech",
		trace.WithAttributes(
			attribute.String("tts.provider", q.synth.Name()),
			attribute.Int("tts.text_length", len(text)),
		))
	defer span.End()

	clip, err := q.synthesize(ctx, text)
	if err != nil {
		observability.FailSpan(span, err)
		q.metrics.RecordError(observability.ErrTypeSpeechSynthesis, "playback")
		q.logger.Error().Err(err).Str("provider", q.synth.Name()).Msg("Speech synthesis failed, skipping playback")
		return err
	}

	span.SetAttributes(attribute.String("clip.id", clip.ID), attribute.Int64("clip.duration_ms", clip.Duration().Milliseconds()))
	q.Enqueue(clip)
	return nil
}

func (q *Queue) synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	q.metrics.RecordTTSStart()

	var pcm []byte
	call := func() error {
		var err error
		pcm, err = q.synth.Synthesize(ctx, text)
		if err == nil && len(pcm) == 0 {
			err = audio.ErrEmptyAudio
		}
		return err
	}

	var err error
	if q.breaker != nil {
		err = q.breaker.Call(call)
	} else {
		err = call()
	}
	q.metrics.RecordTTSEnd(err == nil)
	if err != nil {
		if errors.Is(err, tts.ErrSpeechSynthesis) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", tts.ErrSpeechSynthesis, err)
	}

	clip, err := audio.DecodeClip(pcm, audio.SpeechSampleRate, audio.SpeechChannels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tts.ErrSpeechSynthesis, err)
	}
	q.metrics.RecordAudioBytes("out", int64(len(pcm)))
	return clip, nil
}

// Enqueue appends clip and starts it if nothing is playing.
func (q *Queue) Enqueue(clip *audio.Clip) {
	if clip == nil {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug().Str("clip_id", clip.ID).Msg("Queue closed, discarding clip")
		return
	}
	q.clips = append(q.clips, clip)
	q.metrics.RecordClipEnqueued()
	if len(q.clips) == 1 && q.playing == nil {
		q.idle = make(chan struct{})
	}
	next := q.advanceLocked()
	pending := len(q.clips)
	q.mu.Unlock()

	q.logger.Debug().Str("clip_id", clip.ID).Int("pending", pending).Msg("Clip enqueued")
	q.start(next)
}

// advanceLocked pops the head into the playing slot when the slot is free.
func (q *Queue) advanceLocked() *audio.Clip {
	if q.playing != nil || len(q.clips) == 0 {
		return nil
	}
	next := q.clips[0]
	q.clips[0] = nil
	q.clips = q.clips[1:]
	q.playing = next
	return next
}

func (q *Queue) start(clip *audio.Clip) {
	if clip == nil {
		return
	}
	err := q.player.Play(clip, func() { q.onPlaybackComplete(clip) })
	if err != nil {
		q.logger.Warn().Err(err).Str("clip_id", clip.ID).Msg("Playback failed to start, skipping clip")
		q.onPlaybackComplete(clip)
	}
}

// onPlaybackComplete frees the playing slot and starts the next clip.
// Completions for any clip other than the current one are ignored.
func (q *Queue) onPlaybackComplete(clip *audio.Clip) {
	q.mu.Lock()
	if q.playing == nil || q.playing != clip {
		q.mu.Unlock()
		q.logger.Debug().Str("clip_id", clip.ID).Msg("Ignoring stale playback completion")
		return
	}
	q.playing = nil
	q.metrics.RecordClipPlayed()

	next := q.advanceLocked()
	if next == nil {
		close(q.idle)
	}
	q.mu.Unlock()

	q.start(next)
}

// Playing reports whether a clip is currently playing.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing != nil
}

// Pending is the number of clips waiting behind the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clips)
}

// WaitIdle blocks until nothing is playing or pending.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops pending clips and forgets the current one. Later enqueues are
// discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	dropped := len(q.clips)
	if q.playing != nil {
		dropped++
		q.playing = nil
	}
	q.clips = nil
	if dropped > 0 {
		q.metrics.RecordClipsDiscarded(dropped)
		close(q.idle)
	}
}

func (q *Queue) status(msg string) {
	if q.onStatus != nil {
		q.onStatus(msg)
	}
}
