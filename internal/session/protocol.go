package session

import (
	"github.com/lexiqai/voice-tutor/internal/orchestrator"
)

// Client events
const (
	EventStart     = "start"
	EventMic       = "mic"
	EventMedia     = "media"
	EventUtterance = "utterance"
	EventClipDone  = "clip_done"
)

// Server events
const (
	EventNotice      = "notice"
	EventState       = "state"
	EventMessage     = "message"
	EventLearnedWord = "learned_word"
	EventClip        = "clip"
	EventError       = "error"
)

// Notices shown to the learner.
const (
	NoticeRecognitionUnavailable = "Speech recognition is not available on this server. You can still type your messages."
	NoticeAudioUnavailable       = "Audio output could not be initialized, so the tutor cannot speak in this session."
)

// ClientMessage is a message from the browser.
type ClientMessage struct {
	Event   string `json:"event"`
	Payload string `json:"payload,omitempty"` // media: base64 audio
	Text    string `json:"text,omitempty"`    // utterance
	ClipID  string `json:"clipId,omitempty"`  // clip_done
}

// ServerMessage is a message to the browser. Only the fields of its event
// are set.
type ServerMessage struct {
	Event string `json:"event"`

	// notice, error
	Message  string `json:"message,omitempty"`
	Blocking bool   `json:"blocking,omitempty"`

	// state
	State *orchestrator.SessionState `json:"state,omitempty"`

	// message
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// learned_word
	Target        string `json:"target,omitempty"`
	Gloss         string `json:"gloss,omitempty"`
	Pronunciation string `json:"pronunciation,omitempty"`
	ImageRef      string `json:"imageRef,omitempty"`

	// clip
	ClipID     string `json:"clipId,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Payload    string `json:"payload,omitempty"`
}
