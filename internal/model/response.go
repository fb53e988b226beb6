package model

import "fmt"

// ResponseCode is the status a contributor attaches to every response.
type ResponseCode string

const (
	ResponseIdentificationPositive      ResponseCode = "IDENTIFICATION_POSITIVE"
	ResponseIdentificationNegative      ResponseCode = "IDENTIFICATION_NEGATIVE"
	ResponseOperationAcceptedProgress   ResponseCode = "OPERATION_ACCEPTED_PROGRESS"
	ResponseOperationProgress           ResponseCode = "OPERATION_PROGRESS"
	ResponseOperationCompleted          ResponseCode = "OPERATION_COMPLETED"
	ResponseFailure                     ResponseCode = "FAILURE"
	ResponseFileNotFoundFailure         ResponseCode = "FILE_NOT_FOUND_FAILURE"
	ResponseDuplicateFileFailure        ResponseCode = "DUPLICATE_FILE_FAILURE"
	ResponseExistingFileChecksumFailure ResponseCode = "EXISTING_FILE_CHECKSUM_FAILURE"
	ResponseNewFileChecksumFailure      ResponseCode = "NEW_FILE_CHECKSUM_FAILURE"
	ResponseFileTransferFailure         ResponseCode = "FILE_TRANSFER_FAILURE"
	ResponseRequestNotUnderstood        ResponseCode = "REQUEST_NOT_UNDERSTOOD_FAILURE"
	ResponseRequestNotSupported         ResponseCode = "REQUEST_NOT_SUPPORTED"
)

// IsProgress reports whether the code marks an intermediate, non-final response.
func (c ResponseCode) IsProgress() bool {
	return c == ResponseOperationAcceptedProgress || c == ResponseOperationProgress
}

// ResponseInfo carries the response code and a human readable explanation.
type ResponseInfo struct {
	Code ResponseCode `json:"code"`
	Text string       `json:"text,omitempty"`
}

func (r ResponseInfo) String() string {
	if r.Text == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Text)
}
