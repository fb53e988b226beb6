package model

import (
	"encoding/json"
	"time"
)

// OperationStatus is the coarse state of an operation record.
type OperationStatus string

const (
	StatusRunning  OperationStatus = "running"
	StatusComplete OperationStatus = "complete"
	StatusFailed   OperationStatus = "failed"
)

// OperationRecord summarises one conversation for API consumers.
type OperationRecord struct {
	ConversationID string                     `json:"conversation_id"`
	CollectionID   string                     `json:"collection_id"`
	Operation      OperationType              `json:"operation"`
	FileID         string                     `json:"file_id,omitempty"`
	ClientID       string                     `json:"client_id,omitempty"`
	Status         OperationStatus            `json:"status"`
	Contributors   []string                   `json:"contributors"`
	Completed      []string                   `json:"completed,omitempty"`
	Failed         map[string]string          `json:"failed,omitempty"`
	Results        map[string]json.RawMessage `json:"results,omitempty"`
	Cause          string                     `json:"cause,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	FinishedAt     *time.Time                 `json:"finished_at,omitempty"`
	EventCount     int                        `json:"event_count"`
}

// StartOperationRequest is the HTTP request to start an operation.
type StartOperationRequest struct {
	FileID                string          `json:"file_id,omitempty"`
	Contributors          []string        `json:"contributors,omitempty"`
	AuditTrailInformation string          `json:"audit_trail_information,omitempty"`
	Payload               json.RawMessage `json:"payload,omitempty"`
}

// StartOperationResponse is returned when an operation was started asynchronously.
type StartOperationResponse struct {
	ConversationID string `json:"conversation_id"`
	StreamURL      string `json:"stream_url,omitempty"`
}

// ListOperationsResponse is the response for listing operations.
type ListOperationsResponse struct {
	Operations []OperationRecord `json:"operations"`
	Total      int               `json:"total"`
	HasMore    bool              `json:"has_more"`
}

// ErrorEvent represents an error event on an event stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
