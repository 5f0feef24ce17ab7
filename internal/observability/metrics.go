package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_tutor_active_sessions",
		Help: "Number of connected tutoring sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_sessions_total",
		Help: "Total number of tutoring sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_session_duration_seconds",
		Help:    "Duration of tutoring sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_turns_total",
		Help: "Total number of conversational turns by outcome",
	}, []string{"outcome"}) // outcome: "ok", "fallback", "apology"

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_turn_duration_seconds",
		Help:    "End-to-end turn processing time in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})

	// Model metrics
	modelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_model_requests_total",
		Help: "Total number of conversational model requests",
	}, []string{"status"})

	modelLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_model_latency_seconds",
		Help:    "Conversational model latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Speech synthesis metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_tts_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_tts_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Image synthesis metrics
	imageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_image_requests_total",
		Help: "Total number of image synthesis requests",
	}, []string{"status"})

	imageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_image_latency_seconds",
		Help:    "Image synthesis latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 40.0},
	})

	// Recognition metrics
	recognitionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_recognition_results_total",
		Help: "Speech recognition terminal events by kind",
	}, []string{"kind"}) // kind: "transcript", "error", "end"

	// Vocabulary metrics
	learnedWords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_learned_words_total",
		Help: "Vocabulary items added to learned words",
	})

	vocabularyDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_vocabulary_dropped_total",
		Help: "Vocabulary candidates dropped because no image could be produced",
	})

	// Playback metrics
	clipsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_clips_enqueued_total",
		Help: "Audio clips handed to the playback queue",
	})

	clipsPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_clips_played_total",
		Help: "Audio clips whose playback completed",
	})

	playbackQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_tutor_playback_queue_depth",
		Help: "Clips waiting across all playback queues",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_tutor_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Error type labels shared across components.
const (
	ErrTypeRecognition     = "recognition"
	ErrTypeModelRequest    = "model_request"
	ErrTypeMalformedReply  = "malformed_reply"
	ErrTypeSpeechSynthesis = "speech_synthesis"
	ErrTypeImageSynthesis  = "image_synthesis"
	ErrTypeTransport       = "transport"
)

// Metrics tracks metrics for a single tutoring session
type Metrics struct {
	sessionID      string
	startTime      time.Time
	turnStartTime  time.Time
	modelStartTime time.Time
	ttsStartTime   time.Time
	imageStartTime time.Time
	mu             sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// SessionID returns the session the tracker belongs to.
func (m *Metrics) SessionID() string {
	return m.sessionID
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurnStart records the start of a conversational turn
func (m *Metrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records the end of a turn with its outcome
func (m *Metrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.turnStartTime.IsZero() {
		turnDuration.Observe(time.Since(m.turnStartTime).Seconds())
	}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordModelStart records the start of a model request
func (m *Metrics) RecordModelStart() {
	m.mu.Lock()
	m.modelStartTime = time.Now()
	m.mu.Unlock()
}

// RecordModelEnd records the end of a model request
func (m *Metrics) RecordModelEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.modelStartTime.IsZero() {
		modelLatency.Observe(time.Since(m.modelStartTime).Seconds())
	}
	modelRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTSStart records the start of speech synthesis
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of speech synthesis
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordImageStart records the start of image synthesis
func (m *Metrics) RecordImageStart() {
	m.mu.Lock()
	m.imageStartTime = time.Now()
	m.mu.Unlock()
}

// RecordImageEnd records the end of image synthesis
func (m *Metrics) RecordImageEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.imageStartTime.IsZero() {
		imageLatency.Observe(time.Since(m.imageStartTime).Seconds())
	}
	imageRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordRecognition records the terminal event of a listening session
func (m *Metrics) RecordRecognition(kind string) {
	recognitionResults.WithLabelValues(kind).Inc()
}

// RecordLearnedWord records a vocabulary item reaching the learned list
func (m *Metrics) RecordLearnedWord() {
	learnedWords.Inc()
}

// RecordVocabularyDropped records a candidate discarded for lack of an image
func (m *Metrics) RecordVocabularyDropped() {
	vocabularyDropped.Inc()
}

// RecordClipEnqueued records a clip entering the playback queue
func (m *Metrics) RecordClipEnqueued() {
	clipsEnqueued.Inc()
	playbackQueueDepth.Inc()
}

// RecordClipPlayed records a clip leaving the playback queue
func (m *Metrics) RecordClipPlayed() {
	clipsPlayed.Inc()
	playbackQueueDepth.Dec()
}

// RecordClipsDiscarded removes clips dropped on close from the depth gauge
func (m *Metrics) RecordClipsDiscarded(n int) {
	playbackQueueDepth.Sub(float64(n))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
