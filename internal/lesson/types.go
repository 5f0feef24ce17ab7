// Package lesson holds the tutoring data model and the contract with the
// conversational model: the tutor directive, the reply schema and the parser
// that turns raw model output into a TurnResult.
package lesson

import (
	"github.com/google/uuid"
)

// Role identifies who authored a ChatMessage.
type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
)

// ChatMessage is one immutable entry in the session transcript.
type ChatMessage struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewMessage creates a message with a time-ordered ID.
func NewMessage(role Role, text string) ChatMessage {
	return ChatMessage{ID: newMessageID(), Role: role, Text: text}
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// VocabularyCandidate is a word the tutor introduced in one turn.
type VocabularyCandidate struct {
	Target        string `json:"target"`        // word in the language being taught
	Gloss         string `json:"gloss"`         // translation in the learner's language
	Pronunciation string `json:"pronunciation"` // phonetic spelling
}

// LearnedWord is a vocabulary item that has an illustration.
type LearnedWord struct {
	VocabularyCandidate
	ImageRef string `json:"imageRef"` // data URI
}

// TurnResult is the parsed outcome of one exchange with the model.
type TurnResult struct {
	ReplyText string
	NewWord   *VocabularyCandidate
}

// Canned tutor replies.
const (
	// FallbackText replaces a reply the parser could not decode.
	FallbackText = "I'm sorry, I had a little trouble thinking. Could you please try again?"
	// ApologyText is spoken when the model could not be reached at all.
	ApologyText = "I'm sorry, I encountered an error. Please try again."
)

// FallbackResult is returned by Parse for any malformed reply.
func FallbackResult() TurnResult {
	return TurnResult{ReplyText: FallbackText}
}
