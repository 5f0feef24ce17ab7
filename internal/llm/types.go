// Package llm talks to the conversational model that plays the tutor.
package llm

import (
	"context"
	"errors"

	"github.com/invopop/jsonschema"
)

// ErrModelRequest wraps every failure to obtain a reply from the model.
var ErrModelRequest = errors.New("model request failed")

// Exchange is one completed utterance/reply pair.
type Exchange struct {
	Utterance string
	Reply     string
}

// Request is everything a provider needs to produce the next reply.
type Request struct {
	Instruction string
	History     []Exchange
	Utterance   string
	Schema      *jsonschema.Schema // structured output contract, optional
	SchemaName  string
}

// Model produces the raw text of the next tutor reply.
type Model interface {
	Respond(ctx context.Context, req Request) (string, error)
	Name() string
}
