package clientconfig

import (
	"errors"
	"fmt"
)

// UnreadableError indicates a client config file exists but cannot be parsed
// against that client's schema. A missing file is not an error; it reads as
// an empty config.
type UnreadableError struct {
	Client string
	Path   string
	Err    error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("clientconfig: %s config %s unreadable: %v", e.Client, e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error {
	return e.Err
}

// IsUnreadable reports whether err carries an UnreadableError.
func IsUnreadable(err error) bool {
	var unreadableErr *UnreadableError
	return errors.As(err, &unreadableErr)
}

// WriteError indicates a client config file could not be replaced. The
// original file is left untouched.
type WriteError struct {
	Client string
	Path   string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("clientconfig: write %s config %s: %v", e.Client, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteFailed reports whether err carries a WriteError.
func IsWriteFailed(err error) bool {
	var writeErr *WriteError
	return errors.As(err, &writeErr)
}
