// Package session serves the tutoring WebSocket. Each connection gets its
// own orchestrator, playback queue and recognizer; the browser renders the
// transcript, plays clips and streams microphone audio.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/audio"
	"github.com/lexiqai/voice-tutor/internal/config"
	"github.com/lexiqai/voice-tutor/internal/imagegen"
	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/llm"
	"github.com/lexiqai/voice-tutor/internal/observability"
	"github.com/lexiqai/voice-tutor/internal/orchestrator"
	"github.com/lexiqai/voice-tutor/internal/playback"
	"github.com/lexiqai/voice-tutor/internal/resilience"
	"github.com/lexiqai/voice-tutor/internal/stt"
	"github.com/lexiqai/voice-tutor/internal/tts"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	outboundSize   = 256

	// CorrelationHeader carries a caller-supplied correlation ID.
	CorrelationHeader = "X-Correlation-ID"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The page and the socket are served from the same origin in
		// production; local development serves the page separately.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Services are the provider clients shared by every session.
type Services struct {
	Persona     lesson.Persona
	Model       llm.Model
	Synthesizer tts.Synthesizer
	Images      imagegen.Generator // nil disables illustrations
	Recognizer  stt.Engine         // nil disables speech input

	ModelBreaker  *resilience.CircuitBreaker
	SpeechBreaker *resilience.CircuitBreaker
	ImageBreaker  *resilience.CircuitBreaker
	Retry         *resilience.RetryConfig
}

// Manager accepts connections and tracks the live sessions.
type Manager struct {
	cfg    *config.Config
	svc    *Services
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config, svc *Services) *Manager {
	return &Manager{
		cfg:      cfg,
		svc:      svc,
		logger:   observability.WithComponent(observability.GetLogger(), "session"),
		sessions: make(map[string]*Session),
	}
}

// Handler upgrades the request and runs the session until the socket closes.
// The optional encoding query parameter selects the clip encoding for both
// directions of audio.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enc, err := audio.ParseEncoding(r.URL.Query().Get("encoding"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
			return
		}

		s := NewSession(conn, m.cfg, m.svc, enc, r.Header.Get(CorrelationHeader))
		m.add(s)
		defer m.remove(s)

		s.Run()
	}
}

// Count is the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll disconnects every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

// Session is one learner connection.
type Session struct {
	id        string
	conn      *websocket.Conn
	cfg       *config.Config
	encoding  audio.Encoding
	logger    zerolog.Logger
	metrics   *observability.Metrics
	startedAt time.Time

	orch   *orchestrator.Orchestrator
	queue  *playback.Queue
	player *clipPlayer
	input  *stt.Adapter

	outbound  chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession wires the per-session components over conn.
func NewSession(conn *websocket.Conn, cfg *config.Config, svc *Services, enc audio.Encoding, correlationID string) *Session {
	if correlationID == "" {
		correlationID = observability.NewCorrelationID()
	}
	id := uuid.NewString()
	logger := observability.WithSession(id, correlationID)
	metrics := observability.NewSessionMetrics(id)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:        id,
		conn:      conn,
		cfg:       cfg,
		encoding:  enc,
		logger:    observability.WithComponent(logger, "session"),
		metrics:   metrics,
		startedAt: time.Now(),
		outbound:  make(chan []byte, outboundSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	grace := time.Duration(cfg.PlaybackAckGraceMs) * time.Millisecond
	s.player = newClipPlayer(s.send, enc, grace, observability.WithComponent(logger, "player"), metrics)

	s.queue = playback.NewQueue(s.player, svc.Synthesizer,
		playback.WithLogger(logger),
		playback.WithMetrics(metrics),
		playback.WithBreaker(svc.SpeechBreaker),
		playback.WithTimeout(cfg.SpeechTimeoutDuration()),
		// Speak only runs inside a turn, after orch is assigned below.
		playback.WithStatusCallback(func(status string) { s.orch.ReportStatus(status) }),
	)

	s.input = stt.NewAdapter(svc.Recognizer,
		stt.WithLogger(logger),
		stt.WithMetrics(metrics),
		stt.WithBufferSize(cfg.AudioBufferSize),
		stt.WithVAD(audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       cfg.InputSampleRate / 50,
		}),
		stt.WithFinalizeTimeout(time.Duration(cfg.RecognitionFinalizeMs)*time.Millisecond),
	)

	persona := svc.Persona
	newChat := func() *llm.Chat {
		return llm.NewChat(svc.Model, persona.Directive(),
			llm.WithSchema("tutor_reply", lesson.ReplySchema()),
			llm.WithBreaker(svc.ModelBreaker),
			llm.WithRetry(svc.Retry),
			llm.WithTimeout(cfg.ModelTimeoutDuration()),
			llm.WithLogger(logger),
		)
	}

	opts := []orchestrator.Option{
		orchestrator.WithSpeechInput(s.input),
		orchestrator.WithGreeting(cfg.GreetingUtterance),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithMessageCallback(s.sendMessage),
		orchestrator.WithLearnedWordCallback(s.sendLearnedWord),
		orchestrator.WithStateCallback(s.sendState),
	}
	if svc.Images != nil {
		opts = append(opts, orchestrator.WithEnricher(orchestrator.NewEnricher(svc.Images, orchestrator.EnricherConfig{
			Breaker: svc.ImageBreaker,
			Timeout: cfg.ImageTimeoutDuration(),
			Logger:  &logger,
			Metrics: metrics,
		})))
	}
	s.orch = orchestrator.New(newChat, s.queue, opts...)

	return s
}

// ID is the session identifier used in logs and metrics.
func (s *Session) ID() string {
	return s.id
}

// Run serves the connection until the client goes away or Close is called.
func (s *Session) Run() {
	defer s.Close()

	go s.writeLoop()

	s.logger.Info().
		Str("encoding", string(s.encoding)).
		Bool("recognition", s.orch.RecognitionAvailable()).
		Msg("Session connected")

	if !s.orch.RecognitionAvailable() {
		s.sendNotice(NoticeRecognitionUnavailable, true)
	}
	s.sendState(s.orch.State())

	s.readLoop()
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket closed unexpectedly")
				s.metrics.RecordError(observability.ErrTypeTransport, "session")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse client message")
			s.sendError("malformed message")
			continue
		}
		s.handle(msg)
	}
}

// handle dispatches one client message. Anything that can wait on a
// provider runs in its own goroutine so the read loop keeps draining audio
// and acknowledgements.
func (s *Session) handle(msg ClientMessage) {
	switch msg.Event {
	case EventStart:
		go s.start()

	case EventUtterance:
		go func() {
			if err := s.orch.SubmitUtterance(s.ctx, msg.Text, false); err != nil {
				s.logger.Debug().Err(err).Msg("Utterance rejected")
				s.sendError(err.Error())
			}
		}()

	case EventMic:
		if err := s.orch.ToggleListening(s.ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Microphone toggle rejected")
			s.sendError(err.Error())
		}

	case EventMedia:
		s.handleMedia(msg.Payload)

	case EventClipDone:
		s.player.Ack(msg.ClipID)

	default:
		s.logger.Warn().Str("event", msg.Event).Msg("Unknown client event")
	}
}

func (s *Session) start() {
	err := s.orch.StartSession(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrSessionActive):
		s.sendError(err.Error())
	default:
		s.sendNotice(NoticeAudioUnavailable, true)
	}
}

func (s *Session) handleMedia(payload string) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode media payload")
		return
	}

	pcm, err := audio.DecodeInput(raw, s.encoding, s.cfg.InputSampleRate)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to convert microphone audio")
		return
	}
	if err := s.orch.SendAudio(pcm); err != nil {
		s.logger.Debug().Err(err).Msg("Dropped microphone audio")
	}
}

// writeLoop is the only goroutine that writes data frames to the socket.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to write to WebSocket")
				s.metrics.RecordError(observability.ErrTypeTransport, "session")
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// encodeMessage produces a text frame payload. Invalid UTF-8 is replaced.
func encodeMessage(msg ServerMessage) ([]byte, error) {
	return sonic.ConfigStd.Marshal(msg)
}

func (s *Session) send(msg ServerMessage) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case s.outbound <- data:
		return nil
	case <-s.ctx.Done():
		return errPlayerClosed
	}
}

func (s *Session) sendMessage(m lesson.ChatMessage) {
	_ = s.send(ServerMessage{Event: EventMessage, ID: m.ID, Role: string(m.Role), Text: m.Text})
}

func (s *Session) sendLearnedWord(w lesson.LearnedWord) {
	_ = s.send(ServerMessage{
		Event:         EventLearnedWord,
		Target:        w.Target,
		Gloss:         w.Gloss,
		Pronunciation: w.Pronunciation,
		ImageRef:      w.ImageRef,
	})
}

func (s *Session) sendState(st orchestrator.SessionState) {
	_ = s.send(ServerMessage{Event: EventState, State: &st})
}

func (s *Session) sendNotice(text string, blocking bool) {
	_ = s.send(ServerMessage{Event: EventNotice, Message: text, Blocking: blocking})
}

func (s *Session) sendError(text string) {
	_ = s.send(ServerMessage{Event: EventError, Message: text})
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.orch.Close()
		s.queue.Close()
		s.player.Close()
		_ = s.conn.Close()

		s.logger.Info().
			Dur("duration", time.Since(s.startedAt)).
			Int("learned_words", len(s.orch.LearnedWords())).
			Msg("Session closed")
	})
}
