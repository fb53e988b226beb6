package conversation

import (
	"context"
	"sync"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// BlockingEventHandler collects the events of one operation and lets callers
// wait for its terminal event.
type BlockingEventHandler struct {
	delegate model.EventHandler

	mu       sync.Mutex
	results  []model.OperationEvent
	failures []model.OperationEvent
	final    *model.OperationEvent
	done     chan struct{}
}

// NewBlockingEventHandler forwards every event to delegate, which may be nil.
func NewBlockingEventHandler(delegate model.EventHandler) *BlockingEventHandler {
	return &BlockingEventHandler{
		delegate: delegate,
		done:     make(chan struct{}),
	}
}

// HandleEvent implements model.EventHandler.
func (h *BlockingEventHandler) HandleEvent(ev model.OperationEvent) {
	if h.delegate != nil {
		h.delegate.HandleEvent(ev)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case model.EventComponentComplete:
		h.results = append(h.results, ev)
	case model.EventComponentFailed:
		h.failures = append(h.failures, ev)
	case model.EventComplete, model.EventFailed:
		if h.final == nil {
			h.final = &ev
			close(h.done)
		}
	}
}

// AwaitFinished blocks until the operation completes or fails, or ctx is done.
// Once the terminal event has arrived it returns immediately.
func (h *BlockingEventHandler) AwaitFinished(ctx context.Context) (model.OperationEvent, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return *h.final, nil
	case <-ctx.Done():
		return model.OperationEvent{}, ctx.Err()
	}
}

// Done is closed when the terminal event arrives.
func (h *BlockingEventHandler) Done() <-chan struct{} {
	return h.done
}

// Final returns the terminal event, if it arrived.
func (h *BlockingEventHandler) Final() (model.OperationEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.final == nil {
		return model.OperationEvent{}, false
	}
	return *h.final, true
}

// Results returns the COMPONENT_COMPLETE events received so far.
func (h *BlockingEventHandler) Results() []model.OperationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.OperationEvent(nil), h.results...)
}

// Failures returns the COMPONENT_FAILED events received so far.
func (h *BlockingEventHandler) Failures() []model.OperationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.OperationEvent(nil), h.failures...)
}
