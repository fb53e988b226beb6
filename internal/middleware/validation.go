package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateCollectionID validates a collection ID.
func ValidateCollectionID(id string) error {
	if len(id) == 0 {
		return errors.New("collection ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("collection ID exceeds maximum length")
	}
	if strings.ContainsAny(id, " \t*>.") {
		return errors.New("collection ID contains invalid characters")
	}
	return nil
}

// ValidateFileID validates a file ID.
func ValidateFileID(id string) error {
	if len(id) > 1024 {
		return errors.New("file ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("file ID must be valid UTF-8")
	}
	return nil
}

// ValidateStartRequest validates the body of a start operation request.
func ValidateStartRequest(op model.OperationType, req *model.StartOperationRequest) error {
	if err := ValidateFileID(req.FileID); err != nil {
		return err
	}
	switch op {
	case model.OperationGetFile, model.OperationPutFile, model.OperationDeleteFile, model.OperationReplaceFile:
		if req.FileID == "" {
			return fmt.Errorf("%s requires a file ID", op)
		}
	}
	if len(req.AuditTrailInformation) > 4096 {
		return errors.New("audit trail information exceeds maximum length")
	}
	if !utf8.ValidString(req.AuditTrailInformation) {
		return errors.New("audit trail information must be valid UTF-8")
	}
	for _, id := range req.Contributors {
		if strings.TrimSpace(id) == "" {
			return errors.New("contributor IDs cannot be empty")
		}
	}
	return nil
}
