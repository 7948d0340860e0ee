package chat

import (
	"errors"
	"fmt"
)

// ErrDuplicateConnection is returned by Store.AddUser when the connection ID
// is already registered. A correctly behaving transport never reuses a live
// connection ID, but the store guards against it anyway.
var ErrDuplicateConnection = errors.New("connection already registered")

// ValidationError reports malformed or missing input, an unknown room, or a
// business-rule violation. It is recoverable: the transport layer converts it
// into a private error event for the originating connection.
type ValidationError struct {
	// Field is the offending input field ("room", "name", "text").
	Field string
	// Reason is the human-readable message delivered to the client.
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotFoundError reports an operation referencing a connection with no user
// record, or a room with no current membership.
type NotFoundError struct {
	// Kind names what was looked up ("user", "room").
	Kind string
	// ID is the identifier that missed.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsRecoverable reports whether err belongs to the workflow error taxonomy,
// i.e. it should be replied to the originating connection rather than
// terminating it.
func IsRecoverable(err error) bool {
	var ve *ValidationError
	var nfe *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &nfe) || errors.Is(err, ErrDuplicateConnection)
}
