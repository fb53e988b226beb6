package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind distinguishes the protocol step a message belongs to.
type MessageKind string

const (
	KindIdentifyRequest  MessageKind = "identify_request"
	KindIdentifyResponse MessageKind = "identify_response"
	KindOperationRequest MessageKind = "operation_request"
	KindProgressResponse MessageKind = "progress_response"
	KindFinalResponse    MessageKind = "final_response"
)

// IsResponse reports whether the kind travels from a contributor to a client.
func (k MessageKind) IsResponse() bool {
	return k == KindIdentifyResponse || k == KindProgressResponse || k == KindFinalResponse
}

// Message is the decoded envelope of everything sent on the bus.
type Message struct {
	// Identity
	ID            string        `json:"id"`
	Kind          MessageKind   `json:"kind"`
	Operation     OperationType `json:"operation"`
	CorrelationID string        `json:"correlation_id"`
	CollectionID  string        `json:"collection_id"`

	// Routing
	From    string `json:"from"`
	To      string `json:"to"`
	ReplyTo string `json:"reply_to,omitempty"`

	// ContributorID names the responding contributor on responses and the
	// target contributor on operation requests.
	ContributorID string `json:"contributor_id,omitempty"`

	// Content
	FileID                string          `json:"file_id,omitempty"`
	AuditTrailInformation string          `json:"audit_trail_information,omitempty"`
	ResponseInfo          *ResponseInfo   `json:"response_info,omitempty"`
	TimeToDeliver         *time.Duration  `json:"time_to_deliver,omitempty"`
	Payload               json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ResponseCode returns the code of the response info, or "" when absent.
func (m *Message) ResponseCode() ResponseCode {
	if m.ResponseInfo == nil {
		return ""
	}
	return m.ResponseInfo.Code
}

// DecodePayload unmarshals the opaque payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.ID)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of message %s: %w", m.ID, err)
	}
	return nil
}

// EncodePayload marshals v into a raw payload.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}
