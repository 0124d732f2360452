package model

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when a send carries no text.
var ErrEmptyMessage = errors.New("message content cannot be empty")

// ConfigurationError reports a character that cannot be used for sending.
type ConfigurationError struct {
	Character string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Character == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for %q: %s", e.Character, e.Reason)
}

// TransportError wraps a completion backend failure.
type TransportError struct {
	Handle string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("completion request %s failed: %v", e.Handle, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an operation on a session that does not exist or has
// already been torn down.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
