package model

import "time"

// Alarm is raised when an operation fails.
type Alarm struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	CollectionID   string        `json:"collection_id"`
	Operation      OperationType `json:"operation"`
	FileID         string        `json:"file_id,omitempty"`
	Cause          string        `json:"cause"`
	RaisedAt       time.Time     `json:"raised_at"`

	// JetStream Metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}
