// Package mediator routes inbound messages to the conversation they belong to.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/metrics"
)

var (
	// ErrDuplicateConversation is returned when a conversation id is already registered.
	ErrDuplicateConversation = errors.New("conversation already registered")

	// ErrClosed is returned by AddConversation after Shutdown.
	ErrClosed = errors.New("mediator is shut down")
)

// Conversation is the part of a conversation the mediator drives.
type Conversation interface {
	ID() string
	Operation() model.OperationType
	Start(ctx context.Context, onEnd func(conversationID string)) error
	HandleMessage(msg *model.Message)
	HasEnded() bool
	StartedAt() time.Time
	State() string
	Fail(err error)
	Stop()
}

// Config holds the mediator's timing settings.
type Config struct {
	// CleanupInterval is how often ended and stale conversations are swept.
	CleanupInterval time.Duration
	// ConversationTimeout fails conversations running for longer than this.
	// Zero disables it.
	ConversationTimeout time.Duration
}

// Mediator owns the registry of running conversations.
type Mediator struct {
	cfg    Config
	clock  conversation.Clock
	log    *logger.Logger
	mu     sync.RWMutex
	active map[string]Conversation
	closed bool
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithClock replaces the clock used to age conversations.
func WithClock(clock conversation.Clock) Option {
	return func(m *Mediator) {
		m.clock = clock
	}
}

// New creates a Mediator.
func New(cfg Config, log *logger.Logger, opts ...Option) *Mediator {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if log == nil {
		log = logger.Global()
	}
	m := &Mediator{
		cfg:    cfg,
		clock:  conversation.SystemClock{},
		log:    log.Named("mediator"),
		active: make(map[string]Conversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddConversation registers c and starts it. The conversation deregisters
// itself when it ends.
func (m *Mediator) AddConversation(ctx context.Context, c Conversation) error {
	id := c.ID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, exists := m.active[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateConversation, id)
	}
	m.active[id] = c
	m.mu.Unlock()

	metrics.RecordConversationStarted(string(c.Operation()))
	m.log.Debug("conversation registered",
		zap.String("conversation_id", id),
		zap.String("operation", string(c.Operation())),
	)

	if err := c.Start(ctx, m.remove); err != nil {
		m.remove(id)
		return fmt.Errorf("failed to start conversation %s: %w", id, err)
	}
	return nil
}

// Dispatch delivers msg to the conversation named by its correlation id.
// Messages for unknown or ended conversations are dropped.
func (m *Mediator) Dispatch(msg *model.Message) {
	if msg == nil {
		return
	}

	m.mu.RLock()
	c, ok := m.active[msg.CorrelationID]
	m.mu.RUnlock()

	if !ok {
		metrics.BusMessagesDropped.WithLabelValues("unknown_conversation").Inc()
		m.log.Debug("dropping message for unknown conversation",
			zap.String("correlation_id", msg.CorrelationID),
			zap.String("contributor_id", msg.ContributorID),
			zap.String("kind", string(msg.Kind)),
		)
		return
	}
	c.HandleMessage(msg)
}

// Len returns the number of registered conversations.
func (m *Mediator) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Get returns a registered conversation.
func (m *Mediator) Get(id string) (Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.active[id]
	return c, ok
}

// Run sweeps the registry every CleanupInterval until ctx is done.
func (m *Mediator) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Cleanup removes ended conversations and fails those that ran past
// ConversationTimeout.
func (m *Mediator) Cleanup() {
	m.mu.RLock()
	snapshot := make([]Conversation, 0, len(m.active))
	for _, c := range m.active {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	now := m.clock.Now()
	for _, c := range snapshot {
		if c.HasEnded() {
			m.remove(c.ID())
			continue
		}
		if m.cfg.ConversationTimeout > 0 && now.Sub(c.StartedAt()) > m.cfg.ConversationTimeout {
			m.log.Warn("failing stale conversation",
				zap.String("conversation_id", c.ID()),
				zap.Duration("age", now.Sub(c.StartedAt())),
			)
			c.Fail(fmt.Errorf("%w: conversation exceeded %s", conversation.ErrOperationTimedOut, m.cfg.ConversationTimeout))
			m.remove(c.ID())
		}
	}
}

// Shutdown deregisters and stops every conversation without emitting events.
func (m *Mediator) Shutdown() {
	m.mu.Lock()
	m.closed = true
	conversations := make([]Conversation, 0, len(m.active))
	for id, c := range m.active {
		conversations = append(conversations, c)
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, c := range conversations {
		c.Stop()
		m.recordFinished(c)
	}
	if len(conversations) > 0 {
		m.log.Info("mediator shut down", zap.Int("stopped", len(conversations)))
	}
}

func (m *Mediator) remove(id string) {
	m.mu.Lock()
	c, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()

	if ok {
		m.recordFinished(c)
		m.log.Debug("conversation deregistered",
			zap.String("conversation_id", id),
			zap.String("state", c.State()),
		)
	}
}

func (m *Mediator) recordFinished(c Conversation) {
	metrics.RecordConversationFinished(string(c.Operation()), c.State(),
		m.clock.Now().Sub(c.StartedAt()).Seconds())
}
