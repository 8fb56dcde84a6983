package importer

import (
	"errors"
	"fmt"
)

// NameCollisionError indicates the derived (or requested) name is already
// registered. The caller must supply an explicit name to import anyway.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("importer: name %q already registered", e.Name)
}

// IsNameCollision reports whether err carries a NameCollisionError.
func IsNameCollision(err error) bool {
	var collisionErr *NameCollisionError
	return errors.As(err, &collisionErr)
}

// InvalidArtifactError indicates the source path is not a recognizable
// unit-server artifact.
type InvalidArtifactError struct {
	Path   string
	Reason string
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("importer: %s: %s", e.Path, e.Reason)
}

// IsInvalidArtifact reports whether err carries an InvalidArtifactError.
func IsInvalidArtifact(err error) bool {
	var artifactErr *InvalidArtifactError
	return errors.As(err, &artifactErr)
}
