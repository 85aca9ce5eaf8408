/*
ledger.go - Compare-and-apply balance ledger

PURPOSE:
  The Ledger is the only code that writes balances. Every operation:
    1. loads the balance for the key (or lazily creates it)
    2. validates the stored counters (CheckConsistency)
    3. applies one pure Balance operation
    4. writes the result only if the stored version is unchanged

  Step 4 means no operation is applied on top of balance state that
  predates a concurrent commit to the same key: such writes fail with
  ErrConflict and nothing is persisted. Callers additionally serialize
  in-process work per key with a KeyLocker (keylock.go).

TENANCY:
  A balance belongs to exactly one workspace. Loading a key through a
  different workspace reports NotFound, never the other tenant's data.

EXAMPLE FLOW (request lifecycle):
  create   -> Reserve(days)          pending +days
  approve  -> CommitUsed(days)       pending -days, used +days
  reject   -> ReleasePending(days)   pending -days
  cancel   -> ReleasePending(days)   pending -days

  Across any request's life the pending delta sums to zero.

SEE ALSO:
  - balance.go: The pure operations
  - store.go: BalanceStore contract
*/
package generic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store BalanceStore
	Now   func() time.Time
}

func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the stored balance for key within the workspace, or
// (nil, nil) if none exists yet.
func (l *Ledger) Load(ctx context.Context, workspaceID WorkspaceID, key BalanceKey) (*Balance, error) {
	b, err := l.Store.GetBalance(ctx, key)
	if err != nil {
		return nil, Internal(err, "load balance %s", key)
	}
	if b == nil {
		return nil, nil
	}
	if b.WorkspaceID != workspaceID {
		return nil, NotFound("balance %s not found in workspace %s", key, workspaceID)
	}
	return b, nil
}

// LoadOrInit returns the stored balance or a fresh, unsaved one carrying
// the annual quota. The boolean reports whether it was stored.
func (l *Ledger) LoadOrInit(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, annualQuota Days) (Balance, bool, error) {
	b, err := l.Load(ctx, workspaceID, key)
	if err != nil {
		return Balance{}, false, err
	}
	if b == nil {
		return NewBalance(workspaceID, key, annualQuota), false, nil
	}
	return *b, true, nil
}

// Apply runs op against the current balance and persists the result with
// a version check. Nothing is written if op fails.
func (l *Ledger) Apply(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, annualQuota Days, op func(Balance) (Balance, error)) (Balance, error) {
	current, stored, err := l.LoadOrInit(ctx, workspaceID, key, annualQuota)
	if err != nil {
		return Balance{}, err
	}
	return l.write(ctx, current, stored, op)
}

// applyExisting is Apply for operations that require a stored balance.
func (l *Ledger) applyExisting(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, op func(Balance) (Balance, error)) (Balance, error) {
	b, err := l.Load(ctx, workspaceID, key)
	if err != nil {
		return Balance{}, err
	}
	if b == nil {
		return Balance{}, &InvariantError{Key: key, Reason: "no balance holds a reservation for this key"}
	}
	return l.write(ctx, *b, true, op)
}

func (l *Ledger) write(ctx context.Context, current Balance, stored bool, op func(Balance) (Balance, error)) (Balance, error) {
	if stored {
		if err := current.CheckConsistency(); err != nil {
			return Balance{}, err
		}
	}

	next, err := op(current)
	if err != nil {
		return Balance{}, err
	}
	if l.Now != nil {
		next.UpdatedAt = l.Now()
	} else {
		next.UpdatedAt = time.Now().UTC()
	}

	if !stored {
		next.ID = uuid.NewString()
		next.Version = 1
		if err := l.Store.InsertBalance(ctx, next); err != nil {
			return Balance{}, wrapStoreErr(err, "insert balance %s", next.Key)
		}
		return next, nil
	}

	expected := current.Version
	next.Version = expected + 1
	if err := l.Store.UpdateBalance(ctx, next, expected); err != nil {
		return Balance{}, wrapStoreErr(err, "update balance %s", next.Key)
	}
	return next, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Reserve holds days against the key, creating the balance on first use.
func (l *Ledger) Reserve(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, annualQuota Days, days Days) (Balance, error) {
	return l.Apply(ctx, workspaceID, key, annualQuota, func(b Balance) (Balance, error) {
		return b.Reserve(days)
	})
}

// CommitUsed turns a reservation into consumption.
func (l *Ledger) CommitUsed(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, days Days) (Balance, error) {
	return l.applyExisting(ctx, workspaceID, key, func(b Balance) (Balance, error) {
		return b.CommitUsed(days)
	})
}

// ReleasePending gives a reservation back.
func (l *Ledger) ReleasePending(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, days Days) (Balance, error) {
	return l.applyExisting(ctx, workspaceID, key, func(b Balance) (Balance, error) {
		return b.ReleasePending(days)
	})
}

// Recalculate re-derives total quota for an existing balance.
func (l *Ledger) Recalculate(ctx context.Context, workspaceID WorkspaceID, key BalanceKey, annualQuota Days) (Balance, error) {
	b, err := l.Load(ctx, workspaceID, key)
	if err != nil {
		return Balance{}, err
	}
	if b == nil {
		return Balance{}, NotFound("balance %s not found", key)
	}
	return l.write(ctx, *b, true, func(b Balance) (Balance, error) {
		return b.Recalculate(annualQuota)
	})
}

// CarryForwardResult describes one carry-forward application.
type CarryForwardResult struct {
	From    Balance
	To      Balance
	Carried Days
}

// ApplyCarryForward moves unused days from the balance for `from` into the
// following year's balance, capped by maxCarryForward when positive. A
// source year that was never used counts as the full annual quota, unused.
// The target balance is created if it does not exist yet.
func (l *Ledger) ApplyCarryForward(ctx context.Context, workspaceID WorkspaceID, from BalanceKey, annualQuota Days, maxCarryForward Days) (CarryForwardResult, error) {
	source, stored, err := l.LoadOrInit(ctx, workspaceID, from, annualQuota)
	if err != nil {
		return CarryForwardResult{}, err
	}
	if stored {
		if err := source.CheckConsistency(); err != nil {
			return CarryForwardResult{}, err
		}
	}

	carry := CarryForwardAmount(source, maxCarryForward)
	to, err := l.Apply(ctx, workspaceID, from.Next(), annualQuota, func(b Balance) (Balance, error) {
		return b.ApplyCarryForward(annualQuota, carry)
	})
	if err != nil {
		return CarryForwardResult{}, err
	}
	return CarryForwardResult{From: source, To: to, Carried: carry}, nil
}

func wrapStoreErr(err error, format string, args ...any) error {
	if errors.Is(err, ErrConflict) {
		return err
	}
	return Internal(err, format, args...)
}
