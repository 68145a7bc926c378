package ledger

import (
	"errors"
	"fmt"
)

// TransientNetworkError means the node could not be reached or answered with
// a retryable status. Callers retry on their next cycle.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %s", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError means the account, resource, table item or event handle
// does not exist (yet).
type NotFoundError struct {
	Op      string
	Code    string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found (%s): %s", e.Op, e.Code, e.Message)
}

// SubmissionRejectedError means the ledger refused the transaction, either at
// submission or when executing it.
type SubmissionRejectedError struct {
	Hash     TxHash
	VMStatus string
	Message  string
}

func (e *SubmissionRejectedError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("transaction %s rejected: %s", e.Hash, e.VMStatus)
	}
	return fmt.Sprintf("transaction rejected: %s", e.Message)
}

// APIError is any other non-2xx response
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d %s: %s", e.Op, e.Status, e.Code, e.Message)
}

var (
	ErrLeaseReleased  = errors.New("lease already released")
	ErrConfirmTimeout = errors.New("timed out waiting for transaction confirmation")
)

func IsTransient(err error) bool {
	var e *TransientNetworkError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsRejected(err error) bool {
	var e *SubmissionRejectedError
	return errors.As(err, &e)
}
