// Package conversation implements the protocol state machine behind every
// operation: identify the contributors of a collection, select the ones that
// will take part, send them the operation request and aggregate their answers
// into one outcome.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

const tracerName = "github.com/bitrepository/reference-sub015/internal/conversation"

type state int

const (
	stateCreated state = iota
	stateIdentifying
	statePerforming
	stateComplete
	stateFailed
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateIdentifying:
		return "identifying"
	case statePerforming:
		return "performing"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	case stateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s state) terminal() bool {
	return s == stateComplete || s == stateFailed || s == stateStopped
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithClock replaces the wall clock and timers.
func WithClock(clock Clock, scheduler Scheduler) Option {
	return func(c *Conversation) {
		c.clock = clock
		c.scheduler = scheduler
	}
}

// WithLogger sets the logger. The conversation identity is added to it.
func WithLogger(log *logger.Logger) Option {
	return func(c *Conversation) {
		c.log = log
	}
}

// WithTracer sets the tracer used for the conversation span.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Conversation) {
		c.tracer = tracer
	}
}

// Conversation is one operation attempt. It is driven by Start, by inbound
// messages and by its phase timers; all of them serialise on one mutex and
// events are delivered while it is held, so handlers must not call back into
// the same conversation. Requests are sent after the mutex is released, so a
// Sender may deliver responses inline.
type Conversation struct {
	cctx      Context
	clock     Clock
	scheduler Scheduler
	log       *logger.Logger
	tracer    trace.Tracer

	mu         sync.Mutex
	state      state
	generation uint64
	timer      Timer
	stopCancel func() bool
	onEnd      func(conversationID string)
	endPending bool
	outbox     []*model.Message

	ctx       context.Context
	span      trace.Span
	startedAt time.Time
	cause     error

	monitor   *EventMonitor
	selector  *Selector
	active    *ResponseStatus
	selected  []SelectedContributor
	completed int
	failed    int
	firstErr  error
}

// New validates cctx and creates a conversation that has not been started.
func New(cctx Context, opts ...Option) (*Conversation, error) {
	valid, err := cctx.validated()
	if err != nil {
		return nil, err
	}

	c := &Conversation{
		cctx:      valid,
		clock:     SystemClock{},
		scheduler: SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.log = c.log.ForConversation(valid.ConversationID, string(valid.Operation), valid.CollectionID)
	c.monitor = NewEventMonitor(valid, c.clock, c.log)
	c.selector = NewSelector(valid.Contributors, valid.Strategy, c.log)
	c.startedAt = c.clock.Now()

	return c, nil
}

// ID returns the conversation id, which is also the correlation id of every
// message the conversation sends.
func (c *Conversation) ID() string {
	return c.cctx.ConversationID
}

// Operation returns the operation type.
func (c *Conversation) Operation() model.OperationType {
	return c.cctx.Operation
}

// StartedAt returns when the conversation was created or started.
func (c *Conversation) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// State returns the name of the current state.
func (c *Conversation) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// HasEnded reports whether the conversation reached a terminal state.
func (c *Conversation) HasEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.terminal()
}

// Err returns the cause of a failed conversation.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Start sends the identify request and arms the identification timeout.
// Cancelling ctx fails the conversation with ErrCancelled. onEnd is called
// once, outside the conversation lock, when a terminal state is reached.
func (c *Conversation) Start(ctx context.Context, onEnd func(conversationID string)) error {
	c.mu.Lock()
	if c.state != stateCreated {
		c.mu.Unlock()
		return fmt.Errorf("conversation %s already started", c.cctx.ConversationID)
	}
	c.onEnd = onEnd
	c.startedAt = c.clock.Now()

	spanCtx, span := c.tracer.Start(ctx, "conversation."+string(c.cctx.Operation),
		trace.WithAttributes(
			attribute.String("conversation.id", c.cctx.ConversationID),
			attribute.String("collection.id", c.cctx.CollectionID),
			attribute.StringSlice("contributors", c.cctx.Contributors),
		),
	)
	c.span = span
	c.ctx = context.WithoutCancel(spanCtx)

	c.state = stateIdentifying
	gen := c.nextGeneration()
	c.timer = c.scheduler.AfterFunc(c.cctx.IdentificationTimeout, func() { c.identificationTimedOut(gen) })
	c.stopCancel = context.AfterFunc(ctx, func() {
		c.Fail(fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)))
	})

	msg := c.newMessage(model.KindIdentifyRequest, c.cctx.CollectionDestination)
	msg.Payload = c.cctx.Payload
	c.outbox = append(c.outbox, msg)
	c.monitor.IdentifyRequestSent(fmt.Sprintf("identify request sent to %s, expecting %d contributors",
		c.cctx.CollectionDestination, len(c.cctx.Contributors)))
	return c.unlockAndSend()
}

// HandleMessage feeds one inbound message to the conversation.
func (c *Conversation) HandleMessage(msg *model.Message) {
	c.mu.Lock()
	defer c.unlock()

	switch c.state {
	case stateIdentifying:
		if msg.Kind != model.KindIdentifyResponse {
			c.log.Debug("dropping operation response during identification",
				zap.String("contributor_id", msg.ContributorID),
				zap.String("kind", string(msg.Kind)),
			)
			return
		}
		c.handleIdentifyResponse(msg)
	case statePerforming:
		switch {
		case msg.Kind == model.KindProgressResponse,
			msg.Kind == model.KindFinalResponse && msg.ResponseCode().IsProgress():
			c.handleProgress(msg)
		case msg.Kind == model.KindFinalResponse:
			c.handleFinalResponse(msg)
		default:
			c.log.Debug("dropping late message",
				zap.String("contributor_id", msg.ContributorID),
				zap.String("kind", string(msg.Kind)),
			)
		}
	default:
		c.log.Debug("dropping message for inactive conversation",
			zap.String("state", c.state.String()),
			zap.String("contributor_id", msg.ContributorID),
			zap.String("kind", string(msg.Kind)),
		)
	}
}

// Fail ends a running conversation with err. It is a no-op once the
// conversation has ended.
func (c *Conversation) Fail(err error) {
	c.mu.Lock()
	defer c.unlock()

	if c.state == stateCreated || c.state.terminal() {
		return
	}
	if err == nil {
		err = ErrCancelled
	}
	c.fail(err)
}

// Stop ends the conversation without emitting events or calling onEnd.
func (c *Conversation) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.terminal() {
		return
	}
	c.log.Debug("stopping conversation", zap.String("state", c.state.String()))
	c.state = stateStopped
	c.release()
	if c.span != nil {
		c.span.SetStatus(codes.Error, "stopped")
		c.span.End()
	}
}

func (c *Conversation) handleIdentifyResponse(msg *model.Message) {
	id := msg.ContributorID
	outcome, err := c.selector.ProcessResponse(msg)
	switch {
	case err != nil:
		var negative *NegativeResponseError
		switch {
		case errors.As(err, &negative):
			c.monitor.ComponentFailed(id, "negative identify response: "+negative.Info.String(), negative.Info.Code, err)
		case c.selector.Answered(id):
			c.monitor.ComponentFailed(id, "malformed identify response", msg.ResponseCode(), err)
		default:
			c.monitor.Warning(id, "ignoring identify response", err)
		}
	case outcome == OutcomeSelected:
		c.monitor.ComponentIdentified(id, "identified, replies to "+msg.ReplyTo, msg.ResponseCode())
	case outcome == OutcomeAbsent:
		c.monitor.ComponentIdentified(id, "has nothing to do: "+msg.ResponseInfo.String(), msg.ResponseCode())
	case outcome == OutcomeConflict:
		c.monitor.Warning(id, "conflicting identify response ignored", nil)
	}

	if c.selector.IsFinished() {
		c.leaveIdentification(false)
	}
}

func (c *Conversation) identificationTimedOut(gen uint64) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.generation || c.state != stateIdentifying {
		return
	}
	c.leaveIdentification(true)
}

func (c *Conversation) leaveIdentification(timedOut bool) {
	c.stopTimer()

	if timedOut {
		silent := c.selector.Outstanding()
		c.monitor.IdentifyTimeout(fmt.Sprintf("identification timed out after %s, %d of %d contributors did not respond",
			c.cctx.IdentificationTimeout, len(silent), len(c.cctx.Contributors)))
		for _, id := range silent {
			c.monitor.ComponentFailed(id, "no identify response before the deadline", "", ErrOperationTimedOut)
		}
		if len(silent) > 0 && c.cctx.Strategy.IdentifyTimeout == FailOnPartial {
			c.fail(fmt.Errorf("%w: identification incomplete, no response from %s",
				ErrOperationTimedOut, strings.Join(silent, ", ")))
			return
		}
	}

	selected := c.selector.SelectedContributors()
	if len(selected) == 0 {
		if c.selector.AllAbsent() {
			c.complete("no contributor has anything to do")
			return
		}
		c.fail(ErrNoContributorsAvailable)
		return
	}

	ids := make([]string, 0, len(selected))
	for _, s := range selected {
		ids = append(ids, s.ContributorID)
	}
	c.monitor.IdentificationComplete(fmt.Sprintf("%d contributors selected", len(ids)), ids)
	c.perform(selected)
}

func (c *Conversation) perform(selected []SelectedContributor) {
	c.state = statePerforming
	c.selected = selected
	c.active = NewResponseStatusForComponents(selected)
	gen := c.nextGeneration()
	c.timer = c.scheduler.AfterFunc(c.cctx.OperationTimeout, func() { c.operationTimedOut(gen) })
	if c.span != nil {
		c.span.AddEvent("identification complete", trace.WithAttributes(attribute.Int("selected", len(selected))))
	}

	for _, s := range selected {
		msg := c.newMessage(model.KindOperationRequest, s.Destination)
		msg.ContributorID = s.ContributorID
		msg.Payload = c.cctx.payloadFor(s.ContributorID)
		c.outbox = append(c.outbox, msg)
		c.monitor.RequestSent(s.ContributorID, "operation request sent to "+s.Destination)
	}
}

// sendFailed applies a failed send of msg. It returns the error the
// conversation records for it.
func (c *Conversation) sendFailed(msg *model.Message, err error) error {
	c.mu.Lock()
	defer c.unlock()

	switch msg.Kind {
	case model.KindIdentifyRequest:
		err = fmt.Errorf("%w: identify request: %w", ErrSendFailed, err)
		if c.state == stateIdentifying {
			c.fail(err)
		}
	default:
		err = fmt.Errorf("%w: %w", ErrSendFailed, err)
		if c.state != statePerforming || c.active.ResponseReceived(msg.ContributorID) != nil {
			return err
		}
		c.recordFailure(msg.ContributorID, "failed to send operation request", "", err)
		if c.active.IsFinished() {
			c.finishPerforming()
		}
	}
	return err
}

func (c *Conversation) handleProgress(msg *model.Message) {
	id := msg.ContributorID
	if !c.active.IsOutstanding(id) {
		c.monitor.Warning(id, "ignoring progress response", unexpected(id, "contributor is not performing the operation"))
		return
	}
	info := "progress"
	if msg.ResponseInfo != nil {
		info = msg.ResponseInfo.String()
	}
	c.monitor.Progress(id, info)
}

func (c *Conversation) handleFinalResponse(msg *model.Message) {
	id := msg.ContributorID
	if err := c.active.ResponseReceived(id); err != nil {
		c.monitor.Warning(id, "ignoring final response", err)
		return
	}

	switch {
	case msg.ResponseInfo == nil:
		c.recordFailure(id, "malformed final response", "", unexpected(id, "missing response info"))
	case msg.ResponseInfo.Code == model.ResponseOperationCompleted:
		c.completed++
		c.monitor.ComponentComplete(id, msg.ResponseInfo.String(), msg.Payload)
	default:
		c.recordFailure(id, msg.ResponseInfo.String(), msg.ResponseInfo.Code,
			&NegativeResponseError{ContributorID: id, Info: *msg.ResponseInfo})
	}

	if c.active.IsFinished() {
		c.finishPerforming()
	}
}

func (c *Conversation) operationTimedOut(gen uint64) {
	c.mu.Lock()
	defer c.unlock()

	if gen != c.generation || c.state != statePerforming {
		return
	}

	remaining := c.active.Outstanding()
	for _, id := range remaining {
		_ = c.active.ResponseReceived(id)
		c.recordFailure(id, "no final response before the deadline", "", ErrOperationTimedOut)
	}

	if c.cctx.Strategy.PartialSuccessOnTimeout && c.completed > 0 {
		c.complete(fmt.Sprintf("operation timed out, %d of %d contributors completed",
			c.completed, len(c.selected)))
		return
	}
	c.fail(fmt.Errorf("%w: no final response from %s", ErrOperationTimedOut, strings.Join(remaining, ", ")))
}

func (c *Conversation) finishPerforming() {
	switch {
	case c.completed == 0:
		c.fail(fmt.Errorf("%w: %w", ErrAllContributorsFailed, c.firstErr))
	case c.failed > 0 && c.cctx.Strategy.FailOnComponentFailure:
		c.fail(fmt.Errorf("%w: %d of %d contributors failed: %w",
			ErrContributorFailed, c.failed, len(c.selected), c.firstErr))
	default:
		c.complete(fmt.Sprintf("%d of %d contributors completed", c.completed, len(c.selected)))
	}
}

func (c *Conversation) recordFailure(contributorID, info string, code model.ResponseCode, err error) {
	c.failed++
	if c.firstErr == nil {
		c.firstErr = err
	}
	c.monitor.ComponentFailed(contributorID, info, code, err)
}

func (c *Conversation) complete(info string) {
	if c.state.terminal() {
		return
	}
	c.state = stateComplete
	c.release()
	c.monitor.Complete(info)
	c.endSpan(nil)
	c.endPending = true
}

func (c *Conversation) fail(err error) {
	if c.state.terminal() {
		return
	}
	c.state = stateFailed
	c.cause = err
	c.release()
	c.monitor.Failed(err.Error(), err)
	c.endSpan(err)
	c.endPending = true
}

// release stops the phase timer and the cancellation watcher.
func (c *Conversation) release() {
	c.nextGeneration()
	c.stopTimer()
	if c.stopCancel != nil {
		c.stopCancel()
		c.stopCancel = nil
	}
}

func (c *Conversation) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conversation) nextGeneration() uint64 {
	c.generation++
	return c.generation
}

func (c *Conversation) endSpan(err error) {
	if c.span == nil {
		return
	}
	c.span.SetAttributes(
		attribute.Int("contributors.completed", c.completed),
		attribute.Int("contributors.failed", c.failed),
	)
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
}

// unlock releases the lock, sends the requests queued while it was held and
// then runs the end callback if a terminal transition happened.
func (c *Conversation) unlock() {
	_ = c.unlockAndSend()
}

// unlockAndSend is unlock returning the first send error.
func (c *Conversation) unlockAndSend() error {
	outbox := c.outbox
	c.outbox = nil
	notify := c.endPending
	c.endPending = false
	onEnd := c.onEnd
	ctx := c.ctx
	c.mu.Unlock()

	var firstErr error
	for _, msg := range outbox {
		if err := c.cctx.Sender.Send(ctx, msg); err != nil {
			err = c.sendFailed(msg, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if notify && onEnd != nil {
		onEnd(c.cctx.ConversationID)
	}
	return firstErr
}

func (c *Conversation) newMessage(kind model.MessageKind, to string) *model.Message {
	return &model.Message{
		ID:                    uuid.NewString(),
		Kind:                  kind,
		Operation:             c.cctx.Operation,
		CorrelationID:         c.cctx.ConversationID,
		CollectionID:          c.cctx.CollectionID,
		From:                  c.cctx.ClientID,
		To:                    to,
		ReplyTo:               c.cctx.ReplyTo,
		FileID:                c.cctx.FileID,
		AuditTrailInformation: c.cctx.AuditTrailInformation,
		CreatedAt:             c.clock.Now(),
	}
}
