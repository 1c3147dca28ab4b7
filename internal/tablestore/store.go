// Package tablestore defines the boundary to the remote persistent store:
// named collections of rows, addressed by simple filters. The rest of
// cloudcore depends on this interface only; concrete backends live in the
// sqlstore and memstore subpackages.
package tablestore

import "context"

// Collection names used by cloudcore. The wire names match the remote
// schema, which predates this implementation.
const (
	Users             = "users"
	Sessions          = "sessions"
	VerificationCodes = "verification_codes"
	Memoria           = "memoria"
	Gustos            = "gustos"
	Comandos          = "comandos"
	ChatsMensajes     = "chats_mensajes"
	Skills            = "skills"
)

// Row is a single record: field name to scalar/blob value. Supported value
// types are string, bool, int, int64, float64, []byte and time.Time.
type Row map[string]any

// Store is the keyed remote store consumed by cloudcore services.
//
// Implementations convert backend faults into the sentinel errors of
// internal/common: reads that cannot reach the backend return
// ErrUnavailable, rejected writes return ErrPersistenceFailed. A Select
// matching no rows returns an empty slice with a nil error.
type Store interface {
	// Insert adds a new row to the collection.
	Insert(ctx context.Context, collection string, row Row) error

	// Upsert inserts the row or, when a row with the same values for the
	// conflict keys exists, overwrites its remaining fields.
	Upsert(ctx context.Context, collection string, row Row, conflictKeys ...string) error

	// Select returns the rows matching the filter.
	Select(ctx context.Context, collection string, f Filter) ([]Row, error)

	// Update applies the patch to every row matching the filter.
	Update(ctx context.Context, collection string, f Filter, patch Row) error

	// Delete removes every row matching the filter. Deleting zero rows is
	// not an error.
	Delete(ctx context.Context, collection string, f Filter) error
}

// Transactor is implemented by stores that can scope a group of operations
// to a single transaction. Callers that need read-modify-write atomicity
// probe for it; stores without transactions simply run the function.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Atomically runs fn inside a transaction when the store supports one, and
// directly against the store otherwise.
func Atomically(ctx context.Context, s Store, fn func(Store) error) error {
	if tr, ok := s.(Transactor); ok {
		return tr.InTx(ctx, fn)
	}
	return fn(s)
}
