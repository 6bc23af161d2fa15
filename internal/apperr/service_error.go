package apperr

import "fmt"

// ServiceError wraps an unexpected storage or infrastructure failure with an
// operation.reason code such as "questions.vote.ledger_update_failed".
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// Wrap builds a ServiceError for operation and reason.
func Wrap(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
