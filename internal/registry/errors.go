package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName indicates a definition with the same name already exists.
	ErrDuplicateName = errors.New("registry: server name already exists")
	// ErrProcessStillRunning indicates a delete was refused because the
	// supervisor still holds a live handle for the server.
	ErrProcessStillRunning = errors.New("registry: server process still running")
)

// NotFoundError indicates a requested definition does not exist.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	if e.Name == "" {
		return "registry: server not found"
	}
	return fmt.Sprintf("registry: server %s not found", e.Name)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// InvalidDefinitionError indicates a definition failed validation.
type InvalidDefinitionError struct {
	Field  string
	Reason string
}

func (e InvalidDefinitionError) Error() string {
	return fmt.Sprintf("registry: invalid definition: %s %s", e.Field, e.Reason)
}

// IsInvalidDefinition returns true when err is (or wraps) an InvalidDefinitionError.
func IsInvalidDefinition(err error) bool {
	var target InvalidDefinitionError
	return errors.As(err, &target)
}
