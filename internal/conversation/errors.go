package conversation

import (
	"errors"
	"fmt"

	"github.com/bitrepository/reference-sub015/internal/model"
)

var (
	// ErrUnexpectedResponse marks a malformed, duplicate or unsolicited response.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrNegativeResponse marks a contributor declining or failing a request.
	ErrNegativeResponse = errors.New("negative response")

	// ErrOperationTimedOut marks a phase deadline passing with contributors outstanding.
	ErrOperationTimedOut = errors.New("operation timed out")

	// ErrNoContributorsAvailable marks an identification that selected nobody.
	ErrNoContributorsAvailable = errors.New("no contributors available")

	// ErrAllContributorsFailed marks an operation where no selected contributor succeeded.
	ErrAllContributorsFailed = errors.New("all contributors failed")

	// ErrCancelled marks a conversation cancelled by its caller.
	ErrCancelled = errors.New("operation cancelled")

	// ErrContributorFailed marks an operation failed because a contributor failed.
	ErrContributorFailed = errors.New("contributor failed")

	// ErrSendFailed marks a request the transport refused.
	ErrSendFailed = errors.New("failed to send request")

	// ErrInvalidContext marks a conversation context that cannot be started.
	ErrInvalidContext = errors.New("invalid conversation context")
)

// UnexpectedResponseError describes why a response was not accepted.
type UnexpectedResponseError struct {
	ContributorID string
	Reason        string
}

func (e *UnexpectedResponseError) Error() string {
	if e.ContributorID == "" {
		return fmt.Sprintf("unexpected response: %s", e.Reason)
	}
	return fmt.Sprintf("unexpected response from %q: %s", e.ContributorID, e.Reason)
}

// Is matches ErrUnexpectedResponse.
func (e *UnexpectedResponseError) Is(target error) bool {
	return target == ErrUnexpectedResponse
}

// NegativeResponseError carries the response code a contributor answered with.
type NegativeResponseError struct {
	ContributorID string
	Info          model.ResponseInfo
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response from %q: %s", e.ContributorID, e.Info)
}

// Is matches ErrNegativeResponse.
func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrNegativeResponse
}

func unexpected(contributorID, format string, args ...any) error {
	return &UnexpectedResponseError{ContributorID: contributorID, Reason: fmt.Sprintf(format, args...)}
}
