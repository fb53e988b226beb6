package client

import (
	"fmt"

	"github.com/bitrepository/reference-sub015/internal/model"
)

// Result is the outcome of a finished operation.
type Result struct {
	ConversationID string
	CollectionID   string
	Operation      model.OperationType

	// Final is the COMPLETE or FAILED event.
	Final model.OperationEvent

	// Completed and Failed hold the COMPONENT_COMPLETE and COMPONENT_FAILED
	// events in arrival order.
	Completed []model.OperationEvent
	Failed    []model.OperationEvent
}

// CompletedContributors returns the ids of the contributors that completed.
func (r *Result) CompletedContributors() []string {
	ids := make([]string, 0, len(r.Completed))
	for _, ev := range r.Completed {
		ids = append(ids, ev.ContributorID)
	}
	return ids
}

// FailedContributors maps each failed contributor to its failure cause.
func (r *Result) FailedContributors() map[string]string {
	failed := make(map[string]string, len(r.Failed))
	for _, ev := range r.Failed {
		failed[ev.ContributorID] = ev.Cause
	}
	return failed
}

// DecodeResults decodes the result payload of every completed contributor.
// Contributors that completed without a payload are left out.
func DecodeResults[T any](r *Result) (map[string]T, error) {
	out := make(map[string]T, len(r.Completed))
	for _, ev := range r.Completed {
		if len(ev.Result) == 0 {
			continue
		}
		msg := model.Message{ID: ev.ContributorID, Payload: ev.Result}
		var v T
		if err := msg.DecodePayload(&v); err != nil {
			return nil, fmt.Errorf("result of %s: %w", ev.ContributorID, err)
		}
		out[ev.ContributorID] = v
	}
	return out, nil
}

// OperationFailedError is returned by Run when an operation ends with FAILED.
type OperationFailedError struct {
	ConversationID string
	Operation      model.OperationType
	Info           string
	Cause          error
}

func (e *OperationFailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s operation %s failed: %s", e.Operation, e.ConversationID, e.Info)
	}
	return fmt.Sprintf("%s operation %s failed: %v", e.Operation, e.ConversationID, e.Cause)
}

func (e *OperationFailedError) Unwrap() error {
	return e.Cause
}
