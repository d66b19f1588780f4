package assistant

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when an operation requires a signed-in
// user and none is present.
var ErrUnauthenticated = errors.New("authentication required")

// ErrBusy is returned when a send is attempted while another is in flight.
// Overlapping sends on one session are caller-enforced, not arbitrated.
var ErrBusy = errors.New("a message is already being sent")

// TransportError reports a failed or non-success completions request.
// Message prefers the server-supplied error text.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store read or write. Critical is set
// for writes whose failure must be surfaced to the user.
type PersistenceError struct {
	Op       string
	Critical bool
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
