package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups engine errors by the subsystem that produced them.
type ErrorKind string

const (
	ErrorKindNonceStore ErrorKind = "nonce_db"
	ErrorKindAccount    ErrorKind = "account"
	ErrorKindRPC        ErrorKind = "rpc"
	ErrorKindQueue      ErrorKind = "queueing"
	ErrorKindValidation ErrorKind = "validation"
)

const (
	CodeUnknownStoreError    = "unknown-store-error"
	CodeCorruptValue         = "corruption"
	CodeTooManyMissing       = "too-many-missing-nonces"
	CodeAccountNotFound      = "not-found"
	CodeAccountKindMismatch  = "kind-mismatch"
	CodeAccountAmbiguous     = "could-not-disambiguate"
	CodeSendFailed           = "send-failed"
	CodeReceiptFetchFailed   = "receipt-fetch-failed"
	CodeEnqueueConfirmFailed = "enqueue-confirm-failed"
	CodeEnqueueSendFailed    = "enqueue-send-failed"
	CodeInvalidChain         = "invalid-chain"
	CodeInvalidCalls         = "invalid-calls"
	CodeMalformedAttempt     = "malformed-attempt-payload"
)

// Error is the categorized error every subsystem boundary maps into before
// returning. Raw store or RPC errors never cross a boundary uncategorized.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// IsKind reports whether err is a categorized engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind == kind
	}
	return false
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code == code
	}
	return false
}

// Recoverable conditions are signals, not failures. Workers translate them
// into retry or delayed re-delivery instead of surfacing them.
var (
	// ErrReceiptNotReady means the operation has no receipt yet.
	ErrReceiptNotReady = errors.New("receipt not yet available")
	// ErrDeployInProgress means another in-flight job claimed first-time
	// deployment of the target smart account.
	ErrDeployInProgress = errors.New("account deployment in progress")
)

// FatalError marks a job failure that must not be retried, e.g. a confirm
// enqueue that failed after the operation was already broadcast. Retrying
// would double-submit.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func Fatal(err error) *FatalError {
	return &FatalError{Err: err}
}

// IsFatal reports whether the job that produced err must not be re-delivered.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
