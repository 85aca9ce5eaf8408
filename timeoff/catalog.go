/*
Package timeoff implements the leave-specific parts of the engine: the
per-workspace leave catalog, the leave request state machine and the
attendance records approved leave produces.

It depends on generic for day amounts, periods and the balance ledger, and
on tenancy for workspace limits. It never writes a balance itself; the hr
package orchestrates ledger writes together with request transitions.
*/
package timeoff

import (
	"context"
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
)

// =============================================================================
// LEAVE CATEGORY
// =============================================================================

// Category is a workspace's definition of one kind of leave.
type Category struct {
	ID                  generic.CategoryID
	WorkspaceID         generic.WorkspaceID
	Name                string
	Code                string // unique within the workspace
	AnnualQuota         generic.Days
	CarryForwardAllowed bool
	MaxCarryForward     generic.Days // 0 = no cap
	Active              bool
	CreatedAt           time.Time
}

// CategoryStore persists categories. GetCategory returns (nil, nil) when
// the category does not exist. InsertCategory returns ErrConflict when the
// code is already taken in the workspace.
type CategoryStore interface {
	CategoryReader
	ListCategories(ctx context.Context, workspaceID generic.WorkspaceID) ([]Category, error)
	InsertCategory(ctx context.Context, c Category) error
}

type CategoryReader interface {
	GetCategory(ctx context.Context, id generic.CategoryID) (*Category, error)
}

// =============================================================================
// CATALOG
// =============================================================================

type Catalog struct {
	Store CategoryStore
}

func NewCatalog(store CategoryStore) *Catalog {
	return &Catalog{Store: store}
}

// GetCategory returns the category only if it belongs to the workspace.
// A category of another workspace is reported exactly like a missing one.
func (c *Catalog) GetCategory(ctx context.Context, workspaceID generic.WorkspaceID, id generic.CategoryID) (Category, error) {
	return LookupCategory(ctx, c.Store, workspaceID, id)
}

// ActiveCategory is GetCategory restricted to categories open for new
// requests.
func (c *Catalog) ActiveCategory(ctx context.Context, workspaceID generic.WorkspaceID, id generic.CategoryID) (Category, error) {
	cat, err := c.GetCategory(ctx, workspaceID, id)
	if err != nil {
		return Category{}, err
	}
	if !cat.Active {
		return Category{}, generic.Validation("leave category %s is inactive", cat.Code)
	}
	return cat, nil
}

func (c *Catalog) List(ctx context.Context, workspaceID generic.WorkspaceID) ([]Category, error) {
	cats, err := c.Store.ListCategories(ctx, workspaceID)
	if err != nil {
		return nil, generic.Internal(err, "list categories for %s", workspaceID)
	}
	return cats, nil
}

// NewCategory describes a category to create.
type NewCategory struct {
	ID                  generic.CategoryID
	Name                string
	Code                string
	AnnualQuota         generic.Days
	CarryForwardAllowed bool
	MaxCarryForward     generic.Days
}

// Create adds a category to the workspace, enforcing code uniqueness and
// the workspace tier's category limit.
func (c *Catalog) Create(ctx context.Context, ws tenancy.Workspace, in NewCategory, now time.Time) (Category, error) {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" || strings.TrimSpace(in.Name) == "" {
		return Category{}, generic.Validation("category name and code are required")
	}
	if in.AnnualQuota.IsNegative() || in.MaxCarryForward.IsNegative() {
		return Category{}, generic.Validation("quota and carry-forward cap must not be negative")
	}

	existing, err := c.List(ctx, ws.ID)
	if err != nil {
		return Category{}, err
	}
	if len(existing) >= ws.Limits.MaxLeaveCategories {
		return Category{}, generic.Validation("workspace %s allows at most %d leave categories", ws.ID, ws.Limits.MaxLeaveCategories)
	}
	for _, e := range existing {
		if e.Code == code {
			return Category{}, generic.Conflict("leave category code %s already exists", code)
		}
	}

	cat := Category{
		ID:                  in.ID,
		WorkspaceID:         ws.ID,
		Name:                strings.TrimSpace(in.Name),
		Code:                code,
		AnnualQuota:         in.AnnualQuota,
		CarryForwardAllowed: in.CarryForwardAllowed,
		MaxCarryForward:     in.MaxCarryForward,
		Active:              true,
		CreatedAt:           now,
	}
	if err := c.Store.InsertCategory(ctx, cat); err != nil {
		if generic.KindOf(err) == generic.KindConflict {
			return Category{}, err
		}
		return Category{}, generic.Internal(err, "insert category %s", code)
	}
	return cat, nil
}

// LookupCategory is GetCategory against any reader, including one bound to
// a transaction.
func LookupCategory(ctx context.Context, store CategoryReader, workspaceID generic.WorkspaceID, id generic.CategoryID) (Category, error) {
	cat, err := store.GetCategory(ctx, id)
	if err != nil {
		return Category{}, generic.Internal(err, "load category %s", id)
	}
	if cat == nil || cat.WorkspaceID != workspaceID {
		return Category{}, generic.NotFound("leave category %s not found in workspace %s", id, workspaceID)
	}
	return *cat, nil
}
