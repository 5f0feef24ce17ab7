package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-tutor/internal/resilience"
)

// Chat is one conversation with the model. It keeps the exchange history so
// every request carries the full prior context. A Chat is created per
// session and is safe for concurrent use, though callers normally send one
// utterance at a time.
type Chat struct {
	model       Model
	instruction string
	schema      *jsonschema.Schema
	schemaName  string
	breaker     *resilience.CircuitBreaker
	retry       *resilience.RetryConfig
	timeout     time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	history []Exchange
}

// ChatOption configures a Chat.
type ChatOption func(*Chat)

// WithSchema attaches a structured output contract to every request.
func WithSchema(name string, schema *jsonschema.Schema) ChatOption {
	return func(c *Chat) {
		c.schemaName = name
		c.schema = schema
	}
}

// WithBreaker guards model calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) ChatOption {
	return func(c *Chat) { c.breaker = cb }
}

// WithRetry retries transient failures.
func WithRetry(cfg *resilience.RetryConfig) ChatOption {
	return func(c *Chat) { c.retry = cfg }
}

// WithTimeout bounds each Send, retries included.
func WithTimeout(d time.Duration) ChatOption {
	return func(c *Chat) { c.timeout = d }
}

// WithLogger sets the chat logger.
func WithLogger(logger zerolog.Logger) ChatOption {
	return func(c *Chat) { c.logger = logger }
}

// NewChat starts a conversation under the given system instruction.
func NewChat(model Model, instruction string, opts ...ChatOption) *Chat {
	c := &Chat{
		model:       model,
		instruction: instruction,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send asks the model to reply to utterance. On success the exchange is
// appended to the history; failures leave the history untouched and wrap
// ErrModelRequest.
func (c *Chat) Send(ctx context.Context, utterance string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := Request{
		Instruction: c.instruction,
		History:     c.History(),
		Utterance:   utterance,
		Schema:      c.schema,
		SchemaName:  c.schemaName,
	}

	var reply string
	attempt := 0
	call := func() error {
		attempt++
		var err error
		reply, err = c.model.Respond(ctx, req)
		if err == nil && strings.TrimSpace(reply) == "" {
			err = fmt.Errorf("%s returned an empty reply", c.model.Name())
		}
		if err != nil && attempt > 1 {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("Model retry failed")
		}
		return err
	}

	guarded := call
	if c.breaker != nil {
		guarded = func() error { return c.breaker.Call(call) }
	}

	var err error
	if c.retry != nil {
		err = resilience.Retry(ctx, guarded, c.retry, resilience.IsRetryableNetworkError)
	} else {
		err = guarded()
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrModelRequest, c.model.Name(), err)
	}

	c.mu.Lock()
	c.history = append(c.history, Exchange{Utterance: utterance, Reply: reply})
	c.mu.Unlock()

	return reply, nil
}

// History returns a copy of the completed exchanges.
func (c *Chat) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.history))
	copy(out, c.history)
	return out
}
