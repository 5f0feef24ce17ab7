package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/resilience"
)

const (
	defaultBufferSize      = 32768
	defaultFinalizeTimeout = 1500 * time.Millisecond
	defaultNoSpeechTimeout = 8 * time.Second
)

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = observability.WithComponent(logger, "stt") }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithBufferSize sets how many bytes of audio are held while the stream opens.
func WithBufferSize(n int) Option {
	return func(a *Adapter) { a.bufferSize = n }
}

func WithVAD(cfg audio.VADConfig) Option {
	return func(a *Adapter) { a.vadConfig = cfg }
}

// WithFinalizeTimeout bounds the wait for a final result after the stream
// was asked to finish.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.finalizeTimeout = d }
}

// WithNoSpeechTimeout ends a session with a no-speech error when nothing was
// heard within d. Zero disables it.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.noSpeechTimeout = d }
}

// Adapter turns an Engine into a single-utterance recognizer: each Start
// yields exactly one Event.
type Adapter struct {
	engine          Engine
	logger          zerolog.Logger
	metrics         *observability.Metrics
	bufferSize      int
	vadConfig       audio.VADConfig
	finalizeTimeout time.Duration
	noSpeechTimeout time.Duration

	mu      sync.Mutex
	current *listening
}

// NewAdapter wraps engine. A nil engine yields an adapter that reports itself
// unavailable.
func NewAdapter(engine Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine:          engine,
		logger:          observability.WithComponent(observability.GetLogger(), "stt"),
		bufferSize:      defaultBufferSize,
		vadConfig:       *audio.DefaultVADConfig(16000),
		finalizeTimeout: defaultFinalizeTimeout,
		noSpeechTimeout: defaultNoSpeechTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Available reports whether a recognition engine is configured.
func (a *Adapter) Available() bool {
	return a.engine != nil
}

// Listening reports whether a session is in progress.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Start begins a listening session. The returned channel receives exactly one
// Event and is then closed.
func (a *Adapter) Start(ctx context.Context) (<-chan Event, error) {
	if a.engine == nil {
		return nil, ErrUnavailable
	}

	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return nil, ErrAlreadyListening
	}

	lctx, cancel := context.WithCancel(ctx)
	vadConfig := a.vadConfig
	l := &listening{
		adapter: a,
		ctx:     lctx,
		cancel:  cancel,
		events:  make(chan Event, 1),
		pending: audio.NewRingBuffer(a.bufferSize),
		vad:     audio.NewVADDetector(&vadConfig),
	}
	a.current = l
	a.mu.Unlock()

	if a.noSpeechTimeout > 0 {
		l.mu.Lock()
		l.noSpeech = time.AfterFunc(a.noSpeechTimeout, func() {
			l.fail(ReasonNoSpeech, errors.New("no speech detected"))
		})
		l.mu.Unlock()
	}

	go l.watch()
	go l.open()

	a.logger.Debug().Str("engine", a.engine.Name()).Msg("Listening started")
	return l.events, nil
}

// SendAudio forwards a PCM16LE frame to the active session. Frames sent while
// no session is active are ignored.
func (a *Adapter) SendAudio(frame []byte) error {
	a.mu.Lock()
	l := a.current
	a.mu.Unlock()

	if l == nil || len(frame) == 0 {
		return nil
	}
	if a.metrics != nil {
		a.metrics.RecordAudioBytes("in", int64(len(frame)))
	}
	return l.write(frame)
}

// Stop requests early termination of the active session. The session still
// emits its terminal event.
func (a *Adapter) Stop() {
	a.mu.Lock()
	l := a.current
	a.mu.Unlock()

	if l != nil {
		l.stop()
	}
}

func (a *Adapter) release(l *listening) {
	a.mu.Lock()
	if a.current == l {
		a.current = nil
	}
	a.mu.Unlock()
}

// listening is one Start..Event session.
type listening struct {
	adapter *Adapter
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan Event
	once    sync.Once

	// writeMu orders backlog flush ahead of live frames.
	writeMu sync.Mutex

	mu        sync.Mutex
	stream    Stream
	pending   *audio.RingBuffer
	vad       *audio.VADDetector
	segments  []string
	finishing bool
	finished  bool
	stopped   bool
	done      bool
	finalize  *time.Timer
	noSpeech  *time.Timer
}

func (l *listening) open() {
	a := l.adapter
	stream, err := a.engine.Open(l.ctx, Callbacks{
		OnTranscript:   l.onTranscript,
		OnUtteranceEnd: l.conclude,
		OnError: func(err error) {
			l.fail(classify(err), err)
		},
		OnClose: l.conclude,
	})
	if err != nil {
		reason := classify(err)
		if l.ctx.Err() != nil {
			reason = ReasonAborted
		}
		l.fail(reason, err)
		return
	}

	l.writeMu.Lock()
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		l.writeMu.Unlock()
		stream.Finish()
		return
	}
	l.stream = stream
	backlog := l.pending.Drain()
	if dropped := l.pending.Dropped(); dropped > 0 {
		a.logger.Warn().Int64("dropped_bytes", dropped).Msg("Audio buffer overflowed before stream opened")
	}
	var finish Stream
	if l.finishing && !l.finished {
		l.finished = true
		finish = stream
	}
	l.mu.Unlock()

	if len(backlog) > 0 {
		err = stream.Write(backlog)
	}
	l.writeMu.Unlock()

	if err != nil {
		l.fail(classify(err), err)
		return
	}
	if finish != nil {
		finish.Finish()
	}
}

func (l *listening) write(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil
	}

	var finish Stream
	switch l.vad.Process(frame) {
	case audio.VADSpeechStarted:
		if l.noSpeech != nil {
			l.noSpeech.Stop()
		}
	case audio.VADSpeechEnded:
		if !l.finishing {
			l.adapter.logger.Debug().Msg("End of speech detected, finishing stream")
			finish = l.requestFinishLocked()
		}
	}

	stream := l.stream
	switch {
	case stream == nil:
		l.pending.Write(frame)
		l.mu.Unlock()
		return nil
	case l.finished && finish == nil:
		// already asked to finish
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := stream.Write(frame); err != nil {
		l.fail(classify(err), err)
		return fmt.Errorf("failed to send audio: %w", err)
	}
	if finish != nil {
		finish.Finish()
	}
	return nil
}

func (l *listening) stop() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.noSpeech != nil {
		l.noSpeech.Stop()
	}
	finish := l.requestFinishLocked()
	l.mu.Unlock()

	if finish != nil {
		finish.Finish()
	}
}

// requestFinishLocked marks the session finishing and arms the finalize
// timer. It returns the stream to Finish, if one is open and not yet finished.
func (l *listening) requestFinishLocked() Stream {
	l.finishing = true
	if l.finalize == nil {
		l.finalize = time.AfterFunc(l.adapter.finalizeTimeout, l.conclude)
	}
	if l.stream == nil || l.finished {
		return nil
	}
	l.finished = true
	return l.stream
}

func (l *listening) onTranscript(text string, endOfSpeech bool) {
	text = strings.TrimSpace(text)

	l.mu.Lock()
	if text != "" {
		l.segments = append(l.segments, text)
		if l.noSpeech != nil {
			l.noSpeech.Stop()
		}
	}
	l.mu.Unlock()

	if endOfSpeech && text != "" {
		l.conclude()
	}
}

// conclude emits the terminal event from what has been heard so far.
func (l *listening) conclude() {
	l.mu.Lock()
	text := strings.Join(l.segments, " ")
	stopped := l.stopped
	l.mu.Unlock()

	switch {
	case text != "":
		l.emit(Event{Kind: EventTranscript, Text: text})
	case stopped:
		l.emit(Event{Kind: EventEnd})
	default:
		l.fail(ReasonNoSpeech, errors.New("no speech recognized"))
	}
}

func (l *listening) fail(reason Reason, err error) {
	l.emit(Event{
		Kind:   EventError,
		Reason: reason,
		Err:    fmt.Errorf("%w: %s: %w", ErrRecognition, reason, err),
	})
}

// watch aborts the session when the caller's context ends.
func (l *listening) watch() {
	<-l.ctx.Done()
	l.fail(ReasonAborted, l.ctx.Err())
}

func (l *listening) emit(ev Event) {
	l.once.Do(func() {
		a := l.adapter

		l.mu.Lock()
		l.done = true
		if l.finalize != nil {
			l.finalize.Stop()
		}
		if l.noSpeech != nil {
			l.noSpeech.Stop()
		}
		stream := l.stream
		unfinished := stream != nil && !l.finished
		l.finished = true
		l.mu.Unlock()

		a.release(l)

		if a.metrics != nil {
			a.metrics.RecordRecognition(ev.Kind.String())
			if ev.Kind == EventError && ev.Reason != ReasonAborted {
				a.metrics.RecordError(observability.ErrTypeRecognition, "stt")
			}
		}

		logEvent := a.logger.Info()
		if ev.Kind == EventError {
			logEvent = a.logger.Warn().Err(ev.Err).Str("reason", string(ev.Reason))
		}
		logEvent.Str("event", ev.Kind.String()).Int("text_length", len(ev.Text)).Msg("Listening finished")

		l.events <- ev
		close(l.events)
		l.cancel()

		if unfinished {
			// Callbacks may be running on the engine's reader.
			go stream.Finish()
		}
	})
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonAborted
	case resilience.IsRetryableNetworkError(err):
		return ReasonNetwork
	default:
		return ReasonService
	}
}
