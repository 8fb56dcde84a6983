// Package registry persists the canonical mapping from server name to launch
// definition. It is a pure data layer: it knows nothing about processes or
// client configuration files.
package registry

import "context"

// Store is the registry contract. Implementations must make every mutating
// operation atomic with respect to persisted state: a crash between
// validation and persistence leaves the prior state intact.
type Store interface {
	// List returns all definitions ordered by name.
	List(ctx context.Context) ([]ServerDefinition, error)
	// Get returns the definition for name or a NotFoundError.
	Get(ctx context.Context, name string) (ServerDefinition, error)
	// Create persists a new definition. Fails with ErrDuplicateName or an
	// InvalidDefinitionError.
	Create(ctx context.Context, def ServerDefinition) (ServerDefinition, error)
	// Update applies a patch to an existing definition. The name itself is
	// immutable; rename is modelled as delete + create.
	Update(ctx context.Context, name string, patch Patch) (ServerDefinition, error)
	// Delete removes a definition. Fails with a NotFoundError.
	Delete(ctx context.Context, name string) error
	// Close releases any resources held by the store.
	Close() error
}
