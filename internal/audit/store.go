package audit

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyChainKey is returned when a chained append is attempted
// without a complete (module, object_type, object_id) key.
var ErrEmptyChainKey = errors.New("audit: chained append requires module, object type and object id")

// ObjectKey identifies one audited entity.
type ObjectKey struct {
	ObjectType string
	ObjectID   string
}

// Store is the append-only persistence layer for audit entries.
//
// Implementations must serialize concurrent AppendChained calls for the
// same (module, object_type, object_id) key: the compute callback runs
// while the key is held, so two concurrent writers can never observe the
// same chain tip and fork the chain. Appends for different keys proceed
// independently.
type Store interface {
	// Append inserts an unchained entry and returns it with its
	// assigned ID.
	Append(ctx context.Context, e *Entry) (*Entry, error)

	// AppendChained inserts a chained entry. compute is invoked with the
	// current tip hash of the entry's chain (empty at the start of a
	// chain) and must populate the entry's CreatedAt before returning
	// the link to persist.
	AppendChained(ctx context.Context, e *Entry, compute func(prevHash string) (ChainLink, error)) (*Entry, error)

	// EntriesForObject returns all entries for one (module, object)
	// pair ordered by (created_at, id) ascending.
	EntriesForObject(ctx context.Context, module, objectType, objectID string) ([]*Entry, error)

	// ActionsForObject returns the action names recorded for one
	// (module, object) pair in creation order.
	ActionsForObject(ctx context.Context, module, objectType, objectID string) ([]string, error)

	// ObjectsInWindow returns the distinct objects with at least one
	// entry in the given modules since the given time, most recently
	// active first, capped at limit. An empty objectType matches all
	// object types.
	ObjectsInWindow(ctx context.Context, modules []string, since time.Time, objectType string, limit int) ([]ObjectKey, error)
}
