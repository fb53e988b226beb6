package testutil

import (
	"context"
	"sync"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// RecordingSender records every message it is asked to send.
type RecordingSender struct {
	mu       sync.Mutex
	messages []*model.Message
	err      error
	failFor  map[string]error
	onSend   func(*model.Message)
}

// NewRecordingSender returns a sender that accepts everything.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{failFor: make(map[string]error)}
}

// Send records msg and returns the configured error, if any. The hook set
// with OnSend runs after recording, without the sender's lock held.
func (s *RecordingSender) Send(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	err := s.err
	if e, ok := s.failFor[msg.To]; ok {
		err = e
	}
	if err == nil {
		s.messages = append(s.messages, msg)
	}
	hook := s.onSend
	s.mu.Unlock()

	if err == nil && hook != nil {
		hook(msg)
	}
	return err
}

// SetError makes every following Send fail with err.
func (s *RecordingSender) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FailDestination makes sends to destination fail with err.
func (s *RecordingSender) FailDestination(destination string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[destination] = err
}

// OnSend installs a hook called for every accepted message.
func (s *RecordingSender) OnSend(hook func(*model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSend = hook
}

// Messages returns the accepted messages in send order.
func (s *RecordingSender) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Message(nil), s.messages...)
}

// ByKind returns the accepted messages of one kind.
func (s *RecordingSender) ByKind(kind model.MessageKind) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, m := range s.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// EventRecorder is an event handler that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []model.OperationEvent
}

// HandleEvent implements model.EventHandler.
func (r *EventRecorder) HandleEvent(ev model.OperationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns the recorded events in order.
func (r *EventRecorder) Events() []model.OperationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OperationEvent(nil), r.events...)
}

// Types returns the types of the recorded events in order.
func (r *EventRecorder) Types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

// OfType returns the recorded events of type t.
func (r *EventRecorder) OfType(t model.EventType) []model.OperationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OperationEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Terminal returns the terminal events recorded so far.
func (r *EventRecorder) Terminal() []model.OperationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.OperationEvent
	for _, ev := range r.events {
		if ev.Type.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}
