/*
Package generic provides the core leave-accounting engine.

PURPOSE:
  This package contains the tenant-agnostic types and algorithms behind
  every leave balance: day amounts, identifiers, the balance ledger with
  its invariants, per-key serialization and the error taxonomy shared by
  all layers above it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: a decimal quantity of leave days (half days are 0.5)
  - Identifiers: type-safe IDs for workspaces, users, categories, requests
  - BalanceKey: the (user, category, year) triple that owns one Balance

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Type Safety: Strong typing prevents mixing user and category IDs
  3. Explicit invariants: derived fields are recomputed by pure functions,
     never by storage hooks

USAGE:
  days := generic.NewDays(2.5)
  key := generic.BalanceKey{UserID: "u-1", CategoryID: "cat-al", Year: 2025}

SEE ALSO:
  - balance.go: Balance counters and ledger operations
  - ledger.go: Compare-and-apply against a BalanceStore
  - errors.go: Error kinds surfaced to callers
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Quantity of leave, always in days
// =============================================================================

// Days is a number of leave days. Fractions are allowed for half days.
type Days = decimal.Decimal

// HalfDay is the amount consumed by a half-day leave.
var HalfDay = decimal.NewFromFloat(0.5)

func NewDays(value float64) Days {
	return decimal.NewFromFloat(value)
}

func NewDaysFromInt(value int) Days {
	return decimal.NewFromInt(int64(value))
}

// MustParseDays parses a decimal string, returning zero on malformed input.
func MustParseDays(s string) Days {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkspaceID string
type UserID string
type CategoryID string
type RequestID string

// BalanceKey uniquely identifies one Balance. Exactly one Balance may exist
// per key; all mutations against a key are serialized.
type BalanceKey struct {
	UserID     UserID
	CategoryID CategoryID
	Year       int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.UserID, k.CategoryID, k.Year)
}

// Next returns the key for the following year.
func (k BalanceKey) Next() BalanceKey {
	return BalanceKey{UserID: k.UserID, CategoryID: k.CategoryID, Year: k.Year + 1}
}
