// Package model defines data structures exchanged between clients and contributors.
package model

import (
	"fmt"
	"strings"
)

// OperationType identifies the kind of operation a conversation performs.
type OperationType string

const (
	OperationGetFile        OperationType = "GetFile"
	OperationGetFileIDs     OperationType = "GetFileIDs"
	OperationGetChecksums   OperationType = "GetChecksums"
	OperationGetStatus      OperationType = "GetStatus"
	OperationGetAuditTrails OperationType = "GetAuditTrails"
	OperationPutFile        OperationType = "PutFile"
	OperationDeleteFile     OperationType = "DeleteFile"
	OperationReplaceFile    OperationType = "ReplaceFile"
)

// OperationTypes lists every known operation in a stable order.
var OperationTypes = []OperationType{
	OperationGetFile,
	OperationGetFileIDs,
	OperationGetChecksums,
	OperationGetStatus,
	OperationGetAuditTrails,
	OperationPutFile,
	OperationDeleteFile,
	OperationReplaceFile,
}

// IsModifying reports whether the operation changes the content of a collection.
func (o OperationType) IsModifying() bool {
	switch o {
	case OperationPutFile, OperationDeleteFile, OperationReplaceFile:
		return true
	}
	return false
}

// Key returns the snake_case form used in settings files and URLs.
func (o OperationType) Key() string {
	var b strings.Builder
	prevLower := false
	for _, r := range string(o) {
		if r >= 'A' && r <= 'Z' {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevLower = false
		} else {
			prevLower = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseOperationType accepts either the canonical name ("GetChecksums") or
// its key form ("get_checksums", "get-checksums").
func ParseOperationType(s string) (OperationType, error) {
	norm := strings.ReplaceAll(strings.ToLower(s), "-", "_")
	for _, op := range OperationTypes {
		if strings.ToLower(string(op)) == norm || op.Key() == norm {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}
