package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// Default phase timeouts used when a context leaves them unset.
const (
	DefaultIdentificationTimeout = 10 * time.Second
	DefaultOperationTimeout      = 5 * time.Minute
)

// Sender hands a message to the message bus. Delivery is at most once.
// Conversations call Send without holding their lock, so an implementation
// may deliver responses back to the conversation before Send returns.
type Sender interface {
	Send(ctx context.Context, msg *model.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *model.Message) error

// Send calls f(ctx, msg).
func (f SenderFunc) Send(ctx context.Context, msg *model.Message) error {
	return f(ctx, msg)
}

// Context is the configuration snapshot of one conversation. New copies it,
// so later changes by the caller have no effect on a running conversation.
type Context struct {
	// Identity
	ConversationID string
	CollectionID   string
	Operation      model.OperationType
	Contributors   []string

	// Routing
	ClientID              string
	ReplyTo               string
	CollectionDestination string

	// Request data
	FileID                string
	AuditTrailInformation string
	Payload               json.RawMessage

	// ContributorPayloads overrides Payload on the operation request to
	// individual contributors.
	ContributorPayloads map[string]json.RawMessage

	IdentificationTimeout time.Duration
	OperationTimeout      time.Duration

	// Strategy defaults to StrategyFor(Operation).
	Strategy Strategy

	Handler model.EventHandler
	Sender  Sender
}

// validated returns a defaulted deep copy of c.
func (c Context) validated() (Context, error) {
	if c.CollectionID == "" {
		return Context{}, fmt.Errorf("%w: missing collection id", ErrInvalidContext)
	}
	if c.Sender == nil {
		return Context{}, fmt.Errorf("%w: missing sender", ErrInvalidContext)
	}
	if c.CollectionDestination == "" {
		return Context{}, fmt.Errorf("%w: missing collection destination", ErrInvalidContext)
	}
	if c.ReplyTo == "" {
		return Context{}, fmt.Errorf("%w: missing reply destination", ErrInvalidContext)
	}

	if c.Strategy.Operation == "" {
		s, err := StrategyFor(c.Operation)
		if err != nil {
			return Context{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
		}
		c.Strategy = s
	} else if c.Strategy.Operation != c.Operation {
		return Context{}, fmt.Errorf("%w: strategy for %s used for %s", ErrInvalidContext, c.Strategy.Operation, c.Operation)
	}

	contributors := make([]string, 0, len(c.Contributors))
	seen := make(map[string]struct{}, len(c.Contributors))
	for _, id := range c.Contributors {
		if id == "" {
			return Context{}, fmt.Errorf("%w: empty contributor id", ErrInvalidContext)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		contributors = append(contributors, id)
	}
	if len(contributors) == 0 {
		return Context{}, fmt.Errorf("%w: no contributors", ErrInvalidContext)
	}
	c.Contributors = contributors

	if c.ConversationID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Context{}, fmt.Errorf("failed to generate conversation id: %w", err)
		}
		c.ConversationID = id.String()
	}
	if c.IdentificationTimeout <= 0 {
		c.IdentificationTimeout = DefaultIdentificationTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}

	c.Payload = append(json.RawMessage(nil), c.Payload...)
	if c.ContributorPayloads != nil {
		payloads := make(map[string]json.RawMessage, len(c.ContributorPayloads))
		for id, p := range c.ContributorPayloads {
			payloads[id] = append(json.RawMessage(nil), p...)
		}
		c.ContributorPayloads = payloads
	}
	c.Strategy.AbsentCodes = append([]model.ResponseCode(nil), c.Strategy.AbsentCodes...)

	return c, nil
}

func (c Context) payloadFor(contributorID string) json.RawMessage {
	if p, ok := c.ContributorPayloads[contributorID]; ok {
		return p
	}
	return c.Payload
}
