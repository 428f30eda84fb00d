package voting

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures for callers and transports.
type ErrorKind string

const (
	// KindNotFound means the post or comment does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidInput means the request was rejected before touching the store.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindConflict means a concurrent cast won the unique index; the ledger retries it.
	KindConflict ErrorKind = "conflict"
	// KindInternal means the store failed or the conflict retry was exhausted.
	KindInternal ErrorKind = "internal"
)

const (
	messageInvalidValue      = "value must be 1 or -1"
	messageMissingVoter      = "voter identity is required"
	messageAmbiguousVoter    = "voter identity is ambiguous"
	messageInvalidVoter      = "voter identity is invalid"
	messageMissingTarget     = "target is required"
	messageInvalidTargetType = "target type must be post or comment"
	messageInternal          = "internal error"
)

// ServiceError carries an operation-scoped code, a kind and a stable user-facing message.
type ServiceError struct {
	code    string
	kind    ErrorKind
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns "<operation>.<reason>".
func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Message returns text safe to show to clients; internal failures never carry driver details.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(operation, reason string, kind ErrorKind, message string, cause error) error {
	if message == "" {
		message = messageInternal
	}
	return &ServiceError{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		kind:    kind,
		message: message,
		err:     cause,
	}
}

func newInvalidInputError(operation, reason, message string) error {
	return newServiceError(operation, reason, KindInvalidInput, message, nil)
}

// KindOf returns the kind of a ServiceError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.kind
	}
	return KindInternal
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

func IsInvalidInput(err error) bool {
	return err != nil && KindOf(err) == KindInvalidInput
}
