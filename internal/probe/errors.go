package probe

import "fmt"

// TransportError wraps a failure reported by a backend. The core treats it as
// fatal for the current operation and never retries.
type TransportError struct {
	// Op is the Connection operation that failed
	Op string
	// Err is the backend-specific failure
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("probe %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped in a *TransportError for op, or nil when err is
// nil. Errors that already are transport errors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TransportError); ok {
		return te
	}
	return &TransportError{Op: op, Err: err}
}
