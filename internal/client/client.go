// Package client starts repository operations as conversations and waits
// for their outcome.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/bus"
	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/mediator"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

var (
	// ErrUnknownCollection is returned for a collection missing from the settings.
	ErrUnknownCollection = config.ErrUnknownCollection

	// ErrUnknownContributor is returned when a request names a contributor
	// that is not part of the collection.
	ErrUnknownContributor = errors.New("unknown contributor")
)

// Config identifies the client on the bus.
type Config struct {
	// ClientID is put in the From field of every request.
	ClientID string
	// ReplyTo is the destination contributors answer to.
	ReplyTo string
}

// Client starts operations against the collections of a repository.
type Client struct {
	cfg      Config
	settings *config.Settings
	sender   conversation.Sender
	mediator *mediator.Mediator
	log      *logger.Logger
	convOpts []conversation.Option
}

// Option configures a Client.
type Option func(*Client)

// WithConversationOptions passes opts to every conversation the client creates.
func WithConversationOptions(opts ...conversation.Option) Option {
	return func(c *Client) {
		c.convOpts = append(c.convOpts, opts...)
	}
}

// New creates a client sending through sender and routing responses through m.
func New(cfg Config, settings *config.Settings, sender conversation.Sender, m *mediator.Mediator, log *logger.Logger, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.ReplyTo == "" {
		return nil, errors.New("reply destination is required")
	}
	if settings == nil || sender == nil || m == nil {
		return nil, errors.New("settings, sender and mediator are required")
	}
	if log == nil {
		log = logger.Global()
	}

	c := &Client{
		cfg:      cfg,
		settings: settings,
		sender:   sender,
		mediator: m,
		log:      log.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Listen subscribes the mediator to the client's reply destination.
func (c *Client) Listen(t bus.Transport) (bus.Subscription, error) {
	sub, err := t.Subscribe(c.cfg.ReplyTo, c.mediator.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", c.cfg.ReplyTo, err)
	}
	return sub, nil
}

// Settings returns the repository settings the client was created with.
func (c *Client) Settings() *config.Settings {
	return c.settings
}

// StartRequest describes one operation.
type StartRequest struct {
	CollectionID string
	Operation    model.OperationType
	FileID       string

	// Contributors restricts the operation to a subset of the collection.
	// Empty means every contributor of the collection.
	Contributors []string

	AuditTrailInformation string
	Payload               json.RawMessage
	ContributorPayloads   map[string]json.RawMessage
}

// Start creates a conversation for req and starts it. It returns once the
// identify request was sent; events are delivered to handler. Cancelling
// ctx fails the conversation.
func (c *Client) Start(ctx context.Context, req StartRequest, handler model.EventHandler) (string, error) {
	cctx, err := c.newContext(req, handler)
	if err != nil {
		return "", err
	}

	opts := append([]conversation.Option{conversation.WithLogger(c.log)}, c.convOpts...)
	conv, err := conversation.New(cctx, opts...)
	if err != nil {
		return "", err
	}

	if err := c.mediator.AddConversation(ctx, conv); err != nil {
		return "", err
	}
	c.log.Debug("operation started",
		zap.String("conversation_id", conv.ID()),
		zap.String("operation", string(req.Operation)),
		zap.String("collection_id", req.CollectionID),
	)
	return conv.ID(), nil
}

// Run starts req and blocks until it ends or ctx is done. A failed operation
// is returned as an *OperationFailedError together with the partial result.
// delegate, if not nil, sees every event as it happens.
func (c *Client) Run(ctx context.Context, req StartRequest, delegate model.EventHandler) (*Result, error) {
	h := conversation.NewBlockingEventHandler(delegate)
	id, err := c.Start(ctx, req, h)
	if err != nil {
		return nil, err
	}

	final, err := h.AwaitFinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for conversation %s: %w", id, err)
	}

	result := &Result{
		ConversationID: id,
		CollectionID:   req.CollectionID,
		Operation:      req.Operation,
		Final:          final,
		Completed:      h.Results(),
		Failed:         h.Failures(),
	}
	if final.Type == model.EventFailed {
		return result, &OperationFailedError{
			ConversationID: id,
			Operation:      req.Operation,
			Cause:          final.Err,
			Info:           final.Info,
		}
	}
	return result, nil
}

func (c *Client) newContext(req StartRequest, handler model.EventHandler) (conversation.Context, error) {
	collection, err := c.settings.Collection(req.CollectionID)
	if err != nil {
		return conversation.Context{}, err
	}

	contributors := collection.Contributors
	if len(req.Contributors) > 0 {
		members := make(map[string]struct{}, len(collection.Contributors))
		for _, id := range collection.Contributors {
			members[id] = struct{}{}
		}
		for _, id := range req.Contributors {
			if _, ok := members[id]; !ok {
				return conversation.Context{}, fmt.Errorf("%w: %s is not part of collection %s",
					ErrUnknownContributor, id, req.CollectionID)
			}
		}
		contributors = req.Contributors
	}

	strategy, err := c.settings.Strategy(req.Operation)
	if err != nil {
		return conversation.Context{}, err
	}
	identification, operation := c.settings.Timeouts(req.Operation)

	return conversation.Context{
		CollectionID:          req.CollectionID,
		Operation:             req.Operation,
		Contributors:          contributors,
		ClientID:              c.cfg.ClientID,
		ReplyTo:               c.cfg.ReplyTo,
		CollectionDestination: collection.Destination,
		FileID:                req.FileID,
		AuditTrailInformation: req.AuditTrailInformation,
		Payload:               req.Payload,
		ContributorPayloads:   req.ContributorPayloads,
		IdentificationTimeout: identification,
		OperationTimeout:      operation,
		Strategy:              strategy,
		Handler:               handler,
		Sender:                c.sender,
	}, nil
}
