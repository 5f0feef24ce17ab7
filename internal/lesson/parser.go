package lesson

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrMalformedReply wraps every reason a model reply could not be decoded.
var ErrMalformedReply = errors.New("malformed model reply")

// Reply is the wire shape the model is instructed to produce.
type Reply struct {
	Response string    `json:"response" jsonschema:"description=Text spoken to the learner"`
	NewWord  *WordWire `json:"newWord" jsonschema:"nullable,description=The word introduced in this reply or null"`
}

// WordWire is the wire shape of a vocabulary item.
type WordWire struct {
	Target        string `json:"target" jsonschema:"description=The word in its native script"`
	Gloss         string `json:"gloss" jsonschema:"description=Translation in the learner's language"`
	Pronunciation string `json:"pronunciation" jsonschema:"description=Phonetic pronunciation"`
}

var (
	openingFence = regexp.MustCompile("^```[A-Za-z0-9_-]*\\s*")
	closingFence = regexp.MustCompile("\\s*```$")
)

// Parse converts raw model output into a TurnResult. It never fails: any
// reply that cannot be decoded yields FallbackResult.
func Parse(raw string) TurnResult {
	result, err := ParseStrict(raw)
	if err != nil {
		return FallbackResult()
	}
	return result
}

// ParseStrict is Parse with the decode error exposed. The error wraps
// ErrMalformedReply.
func ParseStrict(raw string) (TurnResult, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return TurnResult{}, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return TurnResult{}, fmt.Errorf("%w: not a JSON object", ErrMalformedReply)
	}

	var reply Reply
	if err := sonic.UnmarshalString(text, &reply); err != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if strings.TrimSpace(reply.Response) == "" {
		return TurnResult{}, fmt.Errorf("%w: missing response", ErrMalformedReply)
	}

	return TurnResult{
		ReplyText: clean(reply.Response),
		NewWord:   reply.NewWord.candidate(),
	}, nil
}

// An incomplete word is dropped rather than failing the whole reply.
func (w *WordWire) candidate() *VocabularyCandidate {
	if w == nil {
		return nil
	}
	target := clean(strings.TrimSpace(w.Target))
	gloss := clean(strings.TrimSpace(w.Gloss))
	if target == "" || gloss == "" {
		return nil
	}
	return &VocabularyCandidate{
		Target:        target,
		Gloss:         gloss,
		Pronunciation: clean(strings.TrimSpace(w.Pronunciation)),
	}
}

// clean replaces invalid UTF-8 so reply text can be sent in text frames.
func clean(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = openingFence.ReplaceAllString(text, "")
	text = closingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
