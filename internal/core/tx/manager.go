// Package tx defines the transaction boundary used by domain services.
// Domain code depends on Manager; the pgx-backed implementation lives in
// infrastructure/storage/postgres.
package tx

import (
	"context"
)

// Manager runs a unit of work atomically.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// The transaction is committed when fn returns nil and rolled back otherwise.
	// Nested calls reuse the transaction carried by ctx.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
