package payment

import "fmt"

// ValidationError reports malformed input on payment creation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown payment id or reference.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("payment %q not found", e.ID)
}

// InvalidStateError reports an operation not permitted from the
// payment's current status.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s payment in status %s", e.Op, e.Status)
}

// RetryExhaustedError reports that the retry cap has been reached.
type RetryExhaustedError struct {
	ID  string
	Max int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("payment %s reached the maximum of %d retries", e.ID, e.Max)
}
