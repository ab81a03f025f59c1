package reminder

import "fmt"

// ValidationError rejects user input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError wraps an event store backend failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// DispatchError wraps a failed outbound send.
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// CaptureError wraps a failed snapshot capture.
type CaptureError struct {
	Path string
	Err  error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture %s: %v", e.Path, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }
