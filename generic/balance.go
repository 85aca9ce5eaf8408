/*
balance.go - Balance counters and the ledger operations on them

PURPOSE:
  A Balance records, for one (user, category, year) key, how many days are
  granted, reserved by pending requests, consumed by approved requests and
  carried over from the previous year. It is the consistency-critical
  entity of the engine.

CRITICAL INVARIANTS (checked by Recompute before every write):
  1. Available == TotalQuota - Used - Pending
  2. Used + Pending <= TotalQuota
  3. TotalQuota, Used, Pending, CarriedForward >= 0

OPERATIONS:
  Reserve(days)         pending += days        (fails if available < days)
  CommitUsed(days)      pending -= days, used += days
  ReleasePending(days)  pending -= days
  ApplyCarryForward     carried = min(source available, cap); total = quota + carried
  Recalculate           total = quota + carried

  Every operation is a pure function: it returns a new Balance and leaves
  the receiver untouched, so a rejected mutation never leaves partial
  state behind. Persisting the result is the Ledger's job (ledger.go).

EXAMPLE:
  b := generic.NewBalance("ws-1", key, generic.NewDays(20))
  b, err := b.Reserve(generic.NewDays(5))     // pending 5, available 15
  b, err = b.CommitUsed(generic.NewDays(5))   // used 5, pending 0, available 15

SEE ALSO:
  - ledger.go: Load-or-create, apply, compare-and-write
  - timeoff/request.go: Which request transition calls which operation
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	ID          string
	WorkspaceID WorkspaceID
	Key         BalanceKey

	TotalQuota     Days
	Used           Days
	Pending        Days
	CarriedForward Days

	// Available is derived. It is only ever set by Recompute.
	Available Days

	// Version increments on every persisted write (optimistic concurrency).
	Version   int64
	UpdatedAt time.Time
}

// NewBalance lazily initializes the balance for a key: the full annual
// quota, nothing used, pending or carried.
func NewBalance(workspaceID WorkspaceID, key BalanceKey, annualQuota Days) Balance {
	b := Balance{
		WorkspaceID:    workspaceID,
		Key:            key,
		TotalQuota:     annualQuota,
		Used:           decimal.Zero,
		Pending:        decimal.Zero,
		CarriedForward: decimal.Zero,
	}
	b.Available = b.TotalQuota.Sub(b.Used).Sub(b.Pending)
	return b
}

// Recompute derives Available from the other counters and validates every
// invariant. It is called at the start of every mutation and again on the
// result, so no write can carry a stale or drifting Available.
func (b Balance) Recompute() (Balance, error) {
	switch {
	case b.TotalQuota.IsNegative():
		return b, &InvariantError{Key: b.Key, Reason: "total quota is negative"}
	case b.Used.IsNegative():
		return b, &InvariantError{Key: b.Key, Reason: "used is negative"}
	case b.Pending.IsNegative():
		return b, &InvariantError{Key: b.Key, Reason: "pending is negative"}
	case b.CarriedForward.IsNegative():
		return b, &InvariantError{Key: b.Key, Reason: "carried forward is negative"}
	}
	if b.Used.Add(b.Pending).GreaterThan(b.TotalQuota) {
		return b, &InvariantError{Key: b.Key, Reason: "used + pending exceeds total quota"}
	}
	b.Available = b.TotalQuota.Sub(b.Used).Sub(b.Pending)
	return b, nil
}

// CheckConsistency reports whether a stored balance satisfies the invariants
// including the stored Available value.
func (b Balance) CheckConsistency() error {
	r, err := b.Recompute()
	if err != nil {
		return err
	}
	if !r.Available.Equal(b.Available) {
		return &InvariantError{Key: b.Key, Reason: "available does not equal total - used - pending"}
	}
	return nil
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

// Reserve holds days for a pending request.
func (b Balance) Reserve(days Days) (Balance, error) {
	b, err := b.prepare(days)
	if err != nil {
		return b, err
	}
	if b.Available.LessThan(days) {
		return b, &InsufficientBalanceError{Key: b.Key, Available: b.Available, Requested: days}
	}
	b.Pending = b.Pending.Add(days)
	return b.Recompute()
}

// CommitUsed converts a reservation into consumption. The balance must
// already hold at least days in pending; anything else means the caller's
// request and the ledger disagree and nothing is written.
func (b Balance) CommitUsed(days Days) (Balance, error) {
	b, err := b.prepare(days)
	if err != nil {
		return b, err
	}
	if b.Pending.LessThan(days) {
		return b, &InvariantError{Key: b.Key, Reason: "pending " + b.Pending.String() + " is less than committed " + days.String()}
	}
	b.Pending = b.Pending.Sub(days)
	b.Used = b.Used.Add(days)
	return b.Recompute()
}

// ReleasePending gives back a reservation on rejection or cancellation.
func (b Balance) ReleasePending(days Days) (Balance, error) {
	b, err := b.prepare(days)
	if err != nil {
		return b, err
	}
	if b.Pending.LessThan(days) {
		return b, &InvariantError{Key: b.Key, Reason: "pending " + b.Pending.String() + " is less than released " + days.String()}
	}
	b.Pending = b.Pending.Sub(days)
	return b.Recompute()
}

// ApplyCarryForward sets the carried-over days on a target-year balance and
// recomputes its total quota. Lowering the total below what is already used
// or pending is rejected.
func (b Balance) ApplyCarryForward(annualQuota Days, carry Days) (Balance, error) {
	if _, err := b.Recompute(); err != nil {
		return b, err
	}
	if carry.IsNegative() {
		return b, Validation("carry forward must not be negative")
	}
	b.CarriedForward = carry
	b.TotalQuota = annualQuota.Add(carry)
	return b.Recompute()
}

// Recalculate re-derives the total quota from the category quota and the
// carried-forward days (e.g. after the category's annual quota changed).
func (b Balance) Recalculate(annualQuota Days) (Balance, error) {
	if _, err := b.Recompute(); err != nil {
		return b, err
	}
	b.TotalQuota = annualQuota.Add(b.CarriedForward)
	return b.Recompute()
}

func (b Balance) prepare(days Days) (Balance, error) {
	if !days.IsPositive() {
		return b, Validation("days must be positive, got %s", days)
	}
	return b.Recompute()
}

// CarryForwardAmount computes how many days move from a source-year balance
// into the next year: everything still available, capped by maxCarryForward
// when the cap is positive. Never negative.
func CarryForwardAmount(from Balance, maxCarryForward Days) Days {
	available := from.TotalQuota.Sub(from.Used).Sub(from.Pending)
	if available.IsNegative() {
		return decimal.Zero
	}
	if maxCarryForward.IsPositive() {
		return decimal.Min(available, maxCarryForward)
	}
	return available
}
