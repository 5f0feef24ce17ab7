package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-tutor/internal/config"
	"github.com/lexiqai/voice-tutor/internal/imagegen"
	"github.com/lexiqai/voice-tutor/internal/lesson"
	"github.com/lexiqai/voice-tutor/internal/llm"
	"github.com/lexiqai/voice-tutor/internal/orchestrator"
	"github.com/lexiqai/voice-tutor/internal/stt"
)

const (
	greetingReply = `{"response": "Marhaba! I'm Layla. Ready to learn some Arabic today?", "newWord": null}`
	bookReply     = "```json\n" + `{"response": "The word for 'book' is 'kitab'. Can you try saying 'kitab'?", "newWord": {"target": "كتاب", "gloss": "book", "pronunciation": "ki-tab"}}` + "\n```"
)

type fakeModel struct{}

func (fakeModel) Name() string { return "fake" }

func (fakeModel) Respond(ctx context.Context, req llm.Request) (string, error) {
	if strings.Contains(req.Utterance, "teach") {
		return bookReply, nil
	}
	return greetingReply, nil
}

type fakeSynth struct{}

func (fakeSynth) Name() string { return "fake" }

func (fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return make([]byte, 4800), nil // 100ms at 24kHz
}

type fakeGenerator struct{}

func (fakeGenerator) Name() string { return "fake" }

func (fakeGenerator) Generate(ctx context.Context, prompt string) (*imagegen.Image, error) {
	return &imagegen.Image{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}, nil
}

type fakeStream struct {
	mu      sync.Mutex
	written int
}

func (s *fakeStream) Write(pcm []byte) error {
	s.mu.Lock()
	s.written += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Finish() {}

func (s *fakeStream) bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

type fakeEngine struct {
	stream *fakeStream
	opened chan stt.Callbacks
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Open(ctx context.Context, cb stt.Callbacks) (stt.Stream, error) {
	e.opened <- cb
	return e.stream, nil
}

func testConfig() *config.Config {
	return &config.Config{
		GreetingUtterance:     "Hello",
		ModelTimeout:          5,
		SpeechTimeout:         5,
		ImageTimeout:          5,
		InputSampleRate:       16000,
		AudioBufferSize:       32768,
		VADEnergyThreshold:    500,
		VADSilenceFrames:      40,
		RecognitionFinalizeMs: 100,
		PlaybackAckGraceMs:    200,
	}
}

func testServices(engine stt.Engine) *Services {
	return &Services{
		Persona:     lesson.DefaultPersona(),
		Model:       fakeModel{},
		Synthesizer: fakeSynth{},
		Images:      fakeGenerator{},
		Recognizer:  engine,
	}
}

func dial(t *testing.T, mgr *Manager, query string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(mgr.Handler())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Failed to dial session: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		server.Close()
	})
	return conn, server
}

func sendEvent(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// readUntil reads server messages until match returns true and returns the
// matching one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for server message: %v", err)
		}
		var msg ServerMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to parse server message %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isEvent(event string) func(ServerMessage) bool {
	return func(m ServerMessage) bool { return m.Event == event }
}

// idle matches the state that ends a turn. Callers read the turn's tutor
// message first, since activation itself publishes an idle-looking state.
func idle(m ServerMessage) bool {
	return m.Event == EventState && m.State.Phase == orchestrator.PhaseActive && !m.State.IsThinking
}

func TestSession_TextOnlyLesson(t *testing.T) {
	mgr := NewManager(testConfig(), testServices(nil))
	conn, _ := dial(t, mgr, "")

	notice := readUntil(t, conn, isEvent(EventNotice))
	if notice.Message != NoticeRecognitionUnavailable || !notice.Blocking {
		t.Errorf("Expected blocking recognition notice, got %+v", notice)
	}
	state := readUntil(t, conn, isEvent(EventState))
	if state.State.Phase != orchestrator.PhaseWelcome {
		t.Errorf("Expected welcome phase, got %s", state.State.Phase)
	}

	sendEvent(t, conn, ClientMessage{Event: EventStart})

	greeting := readUntil(t, conn, isEvent(EventMessage))
	if greeting.Role != string(lesson.RoleTutor) || !strings.HasPrefix(greeting.Text, "Marhaba!") {
		t.Errorf("Expected tutor greeting, got %+v", greeting)
	}
	clip := readUntil(t, conn, isEvent(EventClip))
	if clip.Encoding != "linear16" || clip.SampleRate != 24000 || clip.Channels != 1 {
		t.Errorf("Unexpected clip format %+v", clip)
	}
	payload, err := base64.StdEncoding.DecodeString(clip.Payload)
	if err != nil || len(payload) != 4800 {
		t.Errorf("Expected 4800 bytes of audio, got %d (%v)", len(payload), err)
	}
	sendEvent(t, conn, ClientMessage{Event: EventClipDone, ClipID: clip.ClipID})
	readUntil(t, conn, idle)

	sendEvent(t, conn, ClientMessage{Event: EventUtterance, Text: "teach me a word"})

	user := readUntil(t, conn, isEvent(EventMessage))
	if user.Role != string(lesson.RoleUser) || user.Text != "teach me a word" {
		t.Errorf("Expected user message first, got %+v", user)
	}
	tutor := readUntil(t, conn, isEvent(EventMessage))
	if tutor.Role != string(lesson.RoleTutor) || !strings.Contains(tutor.Text, "kitab") {
		t.Errorf("Expected tutor reply, got %+v", tutor)
	}
	word := readUntil(t, conn, isEvent(EventLearnedWord))
	if word.Target != "كتاب" || word.Gloss != "book" || word.Pronunciation != "ki-tab" {
		t.Errorf("Unexpected learned word %+v", word)
	}
	if !strings.HasPrefix(word.ImageRef, "data:image/png;base64,") {
		t.Errorf("Expected data URI image, got %q", word.ImageRef)
	}
}

func TestSession_MulawClips(t *testing.T) {
	mgr := NewManager(testConfig(), testServices(nil))
	conn, _ := dial(t, mgr, "?encoding=mulaw")

	sendEvent(t, conn, ClientMessage{Event: EventStart})
	clip := readUntil(t, conn, isEvent(EventClip))
	if clip.Encoding != "mulaw" || clip.SampleRate != 8000 {
		t.Errorf("Expected 8kHz mulaw clip, got %+v", clip)
	}
	payload, _ := base64.StdEncoding.DecodeString(clip.Payload)
	if len(payload) != 800 {
		t.Errorf("Expected 800 mulaw bytes, got %d", len(payload))
	}
}

func TestSession_RejectsUnknownEncoding(t *testing.T) {
	mgr := NewManager(testConfig(), testServices(nil))
	server := httptest.NewServer(mgr.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "?encoding=opus")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestSession_Errors(t *testing.T) {
	mgr := NewManager(testConfig(), testServices(nil))
	conn, _ := dial(t, mgr, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if msg := readUntil(t, conn, isEvent(EventError)); msg.Message != "malformed message" {
		t.Errorf("Expected malformed message error, got %+v", msg)
	}

	sendEvent(t, conn, ClientMessage{Event: EventUtterance, Text: "hi"})
	if msg := readUntil(t, conn, isEvent(EventError)); msg.Message != orchestrator.ErrSessionInactive.Error() {
		t.Errorf("Expected inactive session error, got %+v", msg)
	}

	sendEvent(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, isEvent(EventMessage))
	readUntil(t, conn, idle)

	sendEvent(t, conn, ClientMessage{Event: EventStart})
	if msg := readUntil(t, conn, isEvent(EventError)); msg.Message != orchestrator.ErrSessionActive.Error() {
		t.Errorf("Expected session active error, got %+v", msg)
	}

	sendEvent(t, conn, ClientMessage{Event: EventMic})
	if msg := readUntil(t, conn, isEvent(EventError)); msg.Message != orchestrator.ErrRecognitionUnavailable.Error() {
		t.Errorf("Expected recognition unavailable error, got %+v", msg)
	}
}

func TestSession_Microphone(t *testing.T) {
	engine := &fakeEngine{stream: &fakeStream{}, opened: make(chan stt.Callbacks, 1)}
	mgr := NewManager(testConfig(), testServices(engine))
	conn, _ := dial(t, mgr, "")

	state := readUntil(t, conn, func(m ServerMessage) bool { return m.Event == EventState || m.Event == EventNotice })
	if state.Event == EventNotice {
		t.Fatalf("Expected no notice with a recognizer, got %+v", state)
	}

	sendEvent(t, conn, ClientMessage{Event: EventStart})
	readUntil(t, conn, isEvent(EventMessage))
	readUntil(t, conn, idle)

	sendEvent(t, conn, ClientMessage{Event: EventMic})
	recording := readUntil(t, conn, func(m ServerMessage) bool { return m.Event == EventState && m.State.IsRecording })
	if recording.State.IsThinking {
		t.Error("Expected recording and thinking to be exclusive")
	}

	var cb stt.Callbacks
	select {
	case cb = <-engine.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Recognizer was never opened")
	}

	frame := base64.StdEncoding.EncodeToString(make([]byte, 640))
	sendEvent(t, conn, ClientMessage{Event: EventMedia, Payload: frame})

	deadline := time.Now().Add(2 * time.Second)
	for engine.stream.bytes() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if engine.stream.bytes() != 640 {
		t.Errorf("Expected 640 bytes forwarded to the recognizer, got %d", engine.stream.bytes())
	}

	cb.OnTranscript("teach me", true)

	user := readUntil(t, conn, isEvent(EventMessage))
	if user.Role != string(lesson.RoleUser) || user.Text != "teach me" {
		t.Errorf("Expected recognized utterance, got %+v", user)
	}
	readUntil(t, conn, isEvent(EventLearnedWord))
}

func TestManager_TracksSessions(t *testing.T) {
	mgr := NewManager(testConfig(), testServices(nil))
	conn, _ := dial(t, mgr, "")
	readUntil(t, conn, isEvent(EventState))

	if mgr.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", mgr.Count())
	}

	mgr.CloseAll()
	deadline := time.Now().Add(2 * time.Second)
	for mgr.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mgr.Count() != 0 {
		t.Errorf("Expected sessions to be removed after CloseAll, got %d", mgr.Count())
	}
}

func TestEncodeMessage_InvalidUTF8(t *testing.T) {
	data, err := encodeMessage(ServerMessage{Event: EventMessage, Role: "tutor", Text: "\xff\xfe bad"})
	if err != nil {
		t.Fatalf("encodeMessage failed: %v", err)
	}
	if !utf8.Valid(data) {
		t.Fatalf("Expected valid UTF-8 frame, got %q", data)
	}

	var msg ServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if !strings.HasPrefix(msg.Text, "\uFFFD") || !strings.HasSuffix(msg.Text, " bad") {
		t.Errorf("Expected replacement character in text, got %q", msg.Text)
	}
}
