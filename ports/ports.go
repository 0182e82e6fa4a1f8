// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/ and core/storage.
package ports

import (
	"context"
	"time"

	"golang.org/x/text/language"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides password hashing.
type Hasher = types.Hasher

// Translator resolves message keys for a locale.
type Translator interface {
	Translate(locale language.Tag, key string, args ...string) string
}

// -----------------------------------------------------------------------------
// Persistence Ports
// -----------------------------------------------------------------------------

// Gateway persists rows of any registered definition.
//
// Rows carry canonical slot values in column layout order. Implementations
// set CreatedAt and UpdatedAt; callers never do.
type Gateway interface {
	// FetchByID returns the row or model.ErrNotFound.
	FetchByID(ctx context.Context, def *model.DataDefinition, id string) (*model.Row, error)

	// Query returns the rows matching c in c's order. Paging applies after
	// ordering.
	Query(ctx context.Context, def *model.DataDefinition, c *model.Criteria) ([]*model.Row, error)

	// Count returns the number of rows matching c, ignoring paging.
	Count(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (int, error)

	// Persist inserts a row with an empty ID, assigning one, or updates an
	// existing row. It returns the stored row.
	Persist(ctx context.Context, def *model.DataDefinition, row *model.Row) (*model.Row, error)

	// Remove deletes a row. Removing a missing row returns model.ErrNotFound.
	Remove(ctx context.Context, def *model.DataDefinition, row *model.Row) error

	// InTx runs fn in a transaction. fn's gateway sees its own writes; they
	// are committed when fn returns nil and discarded otherwise. Nested
	// calls join the outer transaction.
	InTx(ctx context.Context, fn func(tx Gateway) error) error
}

// Resolver finds definitions by ref. Gateways use it to follow aliases.
type Resolver interface {
	Lookup(ref types.Ref) (*model.DataDefinition, bool)
}

// SchemaManager creates storage for definitions.
type SchemaManager interface {
	// EnsureSchema creates the table of def when missing.
	EnsureSchema(ctx context.Context, def *model.DataDefinition) error
}

// ScopeLocker is implemented by gateways whose transactions do not
// serialize writers themselves. LockScope blocks until the calling
// transaction holds key exclusively; the lock is released at commit or
// rollback.
type ScopeLocker interface {
	LockScope(ctx context.Context, key string) error
}

// Store is a gateway that manages its own schema and connection.
type Store interface {
	Gateway
	SchemaManager
	Close() error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Recorder records operation outcomes.
type Recorder interface {
	// Operation records one mapping operation on a definition. result is
	// "ok", "invalid", "aborted" or "error".
	Operation(definition, op, result string, d time.Duration)
}
