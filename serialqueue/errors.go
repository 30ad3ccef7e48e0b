package serialqueue

import (
	"errors"
	"fmt"
)

// ErrQueueClosed is returned when work is submitted to a queue that no longer accepts it.
var ErrQueueClosed = errors.New("serialqueue: queue is closed")

// ErrGoexit is the value of the PanicError returned when a work item called runtime.Goexit.
var ErrGoexit = errors.New("serialqueue: work item called runtime.Goexit")

// PanicError is returned to the caller of Do or DoFailable when its work item panicked.
type PanicError struct {
	// Value passed to panic
	Value any
	// Stack trace of the goroutine at the time of the panic
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("serialqueue: work item panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
