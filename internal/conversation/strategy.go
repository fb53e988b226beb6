package conversation

import (
	"fmt"
	"strings"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// SelectionPolicy decides which positive responders perform the operation.
type SelectionPolicy string

const (
	// SelectAll selects every contributor that identified positively.
	SelectAll SelectionPolicy = "all"
	// SelectFastest selects the single contributor with the smallest time to deliver.
	SelectFastest SelectionPolicy = "fastest"
)

// IdentifyTimeoutPolicy decides what an identification timeout does when some
// contributors never answered.
type IdentifyTimeoutPolicy string

const (
	// ProceedWithPartial continues with whoever was selected before the deadline.
	ProceedWithPartial IdentifyTimeoutPolicy = "proceed"
	// FailOnPartial fails the conversation if any contributor stayed silent.
	FailOnPartial IdentifyTimeoutPolicy = "fail"
)

// Strategy holds the per-operation behaviour of the generic conversation.
type Strategy struct {
	Operation       model.OperationType
	Selection       SelectionPolicy
	IdentifyTimeout IdentifyTimeoutPolicy

	// PartialSuccessOnTimeout completes an operation whose deadline passed
	// if at least one contributor finished.
	PartialSuccessOnTimeout bool

	// FailOnComponentFailure turns a finished operation with any failed
	// contributor into a failure.
	FailOnComponentFailure bool

	// AbsentCodes are identification codes meaning the contributor has
	// nothing to do, e.g. a delete of a file it does not hold.
	AbsentCodes []model.ResponseCode
}

var strategies = map[model.OperationType]Strategy{
	model.OperationGetFile: {
		Selection:       SelectFastest,
		IdentifyTimeout: ProceedWithPartial,
	},
	model.OperationGetFileIDs: {
		Selection:               SelectAll,
		IdentifyTimeout:         ProceedWithPartial,
		PartialSuccessOnTimeout: true,
	},
	model.OperationGetChecksums: {
		Selection:               SelectAll,
		IdentifyTimeout:         ProceedWithPartial,
		PartialSuccessOnTimeout: true,
	},
	model.OperationGetStatus: {
		Selection:               SelectAll,
		IdentifyTimeout:         ProceedWithPartial,
		PartialSuccessOnTimeout: true,
	},
	model.OperationGetAuditTrails: {
		Selection:               SelectAll,
		IdentifyTimeout:         ProceedWithPartial,
		PartialSuccessOnTimeout: true,
	},
	model.OperationPutFile: {
		Selection:       SelectAll,
		IdentifyTimeout: FailOnPartial,
	},
	model.OperationReplaceFile: {
		Selection:       SelectAll,
		IdentifyTimeout: FailOnPartial,
	},
	model.OperationDeleteFile: {
		Selection:       SelectAll,
		IdentifyTimeout: FailOnPartial,
		AbsentCodes:     []model.ResponseCode{model.ResponseFileNotFoundFailure},
	},
}

// StrategyFor returns the default strategy of op.
func StrategyFor(op model.OperationType) (Strategy, error) {
	s, ok := strategies[op]
	if !ok {
		return Strategy{}, fmt.Errorf("no strategy for operation %q", op)
	}
	s.Operation = op
	s.AbsentCodes = append([]model.ResponseCode(nil), s.AbsentCodes...)
	return s, nil
}

// IsAbsent reports whether code means the contributor has nothing to do.
func (s Strategy) IsAbsent(code model.ResponseCode) bool {
	for _, c := range s.AbsentCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ParseSelectionPolicy parses a configuration value.
func ParseSelectionPolicy(s string) (SelectionPolicy, error) {
	switch p := SelectionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SelectAll, SelectFastest:
		return p, nil
	}
	return "", fmt.Errorf("unknown selection policy %q", s)
}

// ParseIdentifyTimeoutPolicy parses a configuration value.
func ParseIdentifyTimeoutPolicy(s string) (IdentifyTimeoutPolicy, error) {
	switch p := IdentifyTimeoutPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ProceedWithPartial, FailOnPartial:
		return p, nil
	}
	return "", fmt.Errorf("unknown identify timeout policy %q", s)
}
