/*
store.go - Persistence interface for balances

PURPOSE:
  Defines the interface between the balance ledger and the database.
  Different implementations can use SQLite or in-memory storage.

COMPARE-AND-APPLY CONTRACT:
  - InsertBalance fails with ErrConflict if a balance already exists for the
    key (uniqueness is enforced before insert, not repaired after).
  - UpdateBalance writes only if the stored version still equals
    expectedVersion, and fails with ErrConflict otherwise. A write therefore
    never lands on top of a commit the caller did not read.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (UPDATE ... WHERE version = ?)
  - store/memory/memory.go: In-memory for tests and development

SEE ALSO:
  - ledger.go: Uses BalanceStore
*/
package generic

import "context"

// BalanceStore persists balances. Implementations are usually scoped to a
// transaction (see timeoff.Tx).
type BalanceStore interface {
	// GetBalance returns the balance for key, or (nil, nil) if none exists.
	GetBalance(ctx context.Context, key BalanceKey) (*Balance, error)

	// InsertBalance creates the balance. ErrConflict if the key exists.
	InsertBalance(ctx context.Context, b Balance) error

	// UpdateBalance replaces the balance if its stored version equals
	// expectedVersion. ErrConflict otherwise.
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) error
}
