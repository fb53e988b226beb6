package model

import (
	"encoding/json"
	"time"
)

// EventType represents the type of operation event.
type EventType string

const (
	EventIdentifyRequestSent    EventType = "IDENTIFY_REQUEST_SENT"
	EventComponentIdentified    EventType = "COMPONENT_IDENTIFIED"
	EventIdentifyTimeout        EventType = "IDENTIFY_TIMEOUT"
	EventIdentificationComplete EventType = "IDENTIFICATION_COMPLETE"
	EventRequestSent            EventType = "REQUEST_SENT"
	EventProgress               EventType = "PROGRESS"
	EventWarning                EventType = "WARNING"
	EventComponentComplete      EventType = "COMPONENT_COMPLETE"
	EventComponentFailed        EventType = "COMPONENT_FAILED"
	EventComplete               EventType = "COMPLETE"
	EventFailed                 EventType = "FAILED"
)

// IsTerminal reports whether the event ends an operation.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventFailed
}

// OperationEvent reports progress or the result of an operation.
type OperationEvent struct {
	Type           EventType     `json:"type"`
	Info           string        `json:"info,omitempty"`
	ContributorID  string        `json:"contributor_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	CollectionID   string        `json:"collection_id,omitempty"`
	Operation      OperationType `json:"operation,omitempty"`

	// ResponseCode is set on contributor failures caused by a response.
	ResponseCode ResponseCode `json:"response_code,omitempty"`

	// Result is the contributor's final response payload on COMPONENT_COMPLETE.
	Result json.RawMessage `json:"result,omitempty"`

	// Contributors lists the selected contributors on IDENTIFICATION_COMPLETE.
	Contributors []string `json:"contributors,omitempty"`

	// Cause describes why a contributor or the operation failed.
	Cause string `json:"cause,omitempty"`
	Err   error  `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// EventHandler receives operation events.
type EventHandler interface {
	HandleEvent(event OperationEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(event OperationEvent)

// HandleEvent calls f(event).
func (f EventHandlerFunc) HandleEvent(event OperationEvent) {
	f(event)
}
