package dispatch

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed or missing required field. The message
// is already user-facing.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError marks a directory lookup miss for a named client.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Client '%s' not found", e.Name)
}

// ErrConnectivity marks an unreachable backing service, as opposed to a
// data-absence result.
var ErrConnectivity = errors.New("backing service unreachable")
