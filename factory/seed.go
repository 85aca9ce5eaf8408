/*
Package factory provides JSON to Go seed conversion.

PURPOSE:
  Converts a JSON seed document into workspaces, users with their
  memberships, employee records and leave categories, and writes them to a
  store. This enables bootstrapping a deployment without code changes -
  operators describe tenants in JSON, and the factory creates the proper Go
  structs.

JSON SCHEMA:
  {
    "workspaces": [
      {"id": "ws-acme", "name": "Acme", "kind": "enterprise"}
    ],
    "users": [
      {
        "id": "u-alice",
        "email": "alice@acme.test",
        "name": "Alice",
        "employment_status": "ACTIVE",
        "memberships": [{"workspace_id": "ws-acme", "role": "hr"}]
      },
      {"id": "u-root", "name": "Root", "system_admin": true}
    ],
    "categories": [
      {
        "id": "cat-al", "workspace_id": "ws-acme", "name": "Annual Leave",
        "code": "AL", "annual_quota": 20,
        "carry_forward_allowed": true, "max_carry_forward": 5
      }
    ]
  }

KEY FEATURES:
  - Validates the document (struct tags) before anything is written
  - Rejects references to workspaces the document does not declare
  - Re-applying a seed is safe: records that already exist are left
    untouched, so runtime changes survive a restart

USAGE:
  f := factory.NewSeedFactory()
  seed, err := f.ParseSeed(data)
  err = f.Apply(ctx, store, seed, time.Now())

SEE ALSO:
  - tenancy/tenancy.go: Workspace, User, Membership
  - timeoff/catalog.go: Category
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type SeedJSON struct {
	Workspaces []WorkspaceJSON `json:"workspaces" validate:"dive"`
	Users      []UserJSON      `json:"users" validate:"dive"`
	Categories []CategoryJSON  `json:"categories" validate:"dive"`
}

type WorkspaceJSON struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"omitempty,oneof=enterprise community"`
}

type UserJSON struct {
	ID               string           `json:"id" validate:"required"`
	Email            string           `json:"email" validate:"omitempty,email"`
	Name             string           `json:"name"`
	SystemAdmin      bool             `json:"system_admin,omitempty"`
	EmploymentStatus string           `json:"employment_status,omitempty" validate:"omitempty,oneof=ACTIVE INACTIVE ON_NOTICE EXITED"`
	Memberships      []MembershipJSON `json:"memberships,omitempty" validate:"dive"`
}

type MembershipJSON struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=employee manager hr admin community_admin"`
}

type CategoryJSON struct {
	ID                  string       `json:"id" validate:"required"`
	WorkspaceID         string       `json:"workspace_id" validate:"required"`
	Name                string       `json:"name" validate:"required"`
	Code                string       `json:"code" validate:"required,alphanum"`
	AnnualQuota         generic.Days `json:"annual_quota"`
	CarryForwardAllowed bool         `json:"carry_forward_allowed,omitempty"`
	MaxCarryForward     generic.Days `json:"max_carry_forward,omitempty"`
	Active              *bool        `json:"active,omitempty"` // default true
}

// =============================================================================
// FACTORY
// =============================================================================

// SeedStore is what Apply writes to.
type SeedStore interface {
	SaveWorkspace(ctx context.Context, w tenancy.Workspace) error
	GetWorkspace(ctx context.Context, id generic.WorkspaceID) (*tenancy.Workspace, error)
	GetUser(ctx context.Context, id generic.UserID) (*tenancy.User, error)
	SaveUser(ctx context.Context, u tenancy.User) error
	GetEmployee(ctx context.Context, userID generic.UserID) (*hr.Employee, error)
	SaveEmployee(ctx context.Context, e hr.Employee) error
	GetCategory(ctx context.Context, id generic.CategoryID) (*timeoff.Category, error)
	InsertCategory(ctx context.Context, c timeoff.Category) error
}

type SeedFactory struct {
	validate *validator.Validate
}

func NewSeedFactory() *SeedFactory {
	return &SeedFactory{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// LoadFile reads and parses a seed document from disk.
func (f *SeedFactory) LoadFile(path string) (*SeedJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return f.ParseSeed(data)
}

// ParseSeed decodes and validates a seed document.
func (f *SeedFactory) ParseSeed(data []byte) (*SeedJSON, error) {
	var seed SeedJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("invalid seed JSON: %w", err)
	}
	if err := f.validate.Struct(seed); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	if err := checkReferences(seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

func checkReferences(seed SeedJSON) error {
	declared := make(map[string]bool, len(seed.Workspaces))
	for _, w := range seed.Workspaces {
		if declared[w.ID] {
			return fmt.Errorf("workspace %s declared twice", w.ID)
		}
		declared[w.ID] = true
	}

	var errs []error
	for _, u := range seed.Users {
		for _, m := range u.Memberships {
			if !declared[m.WorkspaceID] {
				errs = append(errs, fmt.Errorf("user %s: unknown workspace %s", u.ID, m.WorkspaceID))
			}
			if m.Role == string(tenancy.RoleCommunityAdmin) && kindOf(seed, m.WorkspaceID) != tenancy.KindCommunity {
				errs = append(errs, fmt.Errorf("user %s: community_admin in non-community workspace %s", u.ID, m.WorkspaceID))
			}
		}
	}
	for _, c := range seed.Categories {
		if !declared[c.WorkspaceID] {
			errs = append(errs, fmt.Errorf("category %s: unknown workspace %s", c.ID, c.WorkspaceID))
		}
		if c.AnnualQuota.IsNegative() || c.MaxCarryForward.IsNegative() {
			errs = append(errs, fmt.Errorf("category %s: quotas must not be negative", c.ID))
		}
	}
	return errors.Join(errs...)
}

func kindOf(seed SeedJSON, id string) tenancy.WorkspaceKind {
	for _, w := range seed.Workspaces {
		if w.ID == id {
			return parseKind(w.Kind)
		}
	}
	return ""
}

// Apply writes the seed to store.
func (f *SeedFactory) Apply(ctx context.Context, store SeedStore, seed *SeedJSON, now time.Time) error {
	for _, wj := range seed.Workspaces {
		existing, err := store.GetWorkspace(ctx, generic.WorkspaceID(wj.ID))
		if err != nil {
			return fmt.Errorf("load workspace %s: %w", wj.ID, err)
		}
		if existing != nil {
			continue
		}
		ws := tenancy.NewWorkspace(generic.WorkspaceID(wj.ID), wj.Name, parseKind(wj.Kind), now)
		if err := store.SaveWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("save workspace %s: %w", wj.ID, err)
		}
	}

	for _, uj := range seed.Users {
		existing, err := store.GetUser(ctx, generic.UserID(uj.ID))
		if err != nil {
			return fmt.Errorf("load user %s: %w", uj.ID, err)
		}
		u, err := f.buildUser(uj, now)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := store.SaveUser(ctx, u); err != nil {
				return fmt.Errorf("save user %s: %w", uj.ID, err)
			}
		}
		if u.IsSystemAdmin() && uj.EmploymentStatus == "" {
			continue
		}
		if err := f.ensureEmployee(ctx, store, uj, now); err != nil {
			return err
		}
	}

	for _, cj := range seed.Categories {
		existing, err := store.GetCategory(ctx, generic.CategoryID(cj.ID))
		if err != nil {
			return fmt.Errorf("load category %s: %w", cj.ID, err)
		}
		if existing != nil {
			continue
		}
		active := true
		if cj.Active != nil {
			active = *cj.Active
		}
		c := timeoff.Category{
			ID:                  generic.CategoryID(cj.ID),
			WorkspaceID:         generic.WorkspaceID(cj.WorkspaceID),
			Name:                cj.Name,
			Code:                strings.ToUpper(cj.Code),
			AnnualQuota:         cj.AnnualQuota,
			CarryForwardAllowed: cj.CarryForwardAllowed,
			MaxCarryForward:     cj.MaxCarryForward,
			Active:              active,
			CreatedAt:           now,
		}
		if err := store.InsertCategory(ctx, c); err != nil {
			return fmt.Errorf("insert category %s: %w", cj.ID, err)
		}
	}
	return nil
}

func (f *SeedFactory) buildUser(uj UserJSON, now time.Time) (tenancy.User, error) {
	u := tenancy.User{
		ID:    generic.UserID(uj.ID),
		Email: uj.Email,
		Name:  uj.Name,
	}
	if uj.SystemAdmin {
		u.SystemRole = tenancy.RoleSystemAdmin
	}
	for _, m := range uj.Memberships {
		if err := u.AddMembership(generic.WorkspaceID(m.WorkspaceID), tenancy.Role(m.Role), now); err != nil {
			return tenancy.User{}, fmt.Errorf("user %s: %w", uj.ID, err)
		}
	}
	return u, nil
}

func (f *SeedFactory) ensureEmployee(ctx context.Context, store SeedStore, uj UserJSON, now time.Time) error {
	existing, err := store.GetEmployee(ctx, generic.UserID(uj.ID))
	if err != nil {
		return fmt.Errorf("load employee %s: %w", uj.ID, err)
	}
	if existing != nil {
		return nil
	}
	status := hr.EmploymentActive
	if uj.EmploymentStatus != "" {
		status = hr.EmploymentStatus(uj.EmploymentStatus)
	}
	if err := store.SaveEmployee(ctx, hr.Employee{UserID: generic.UserID(uj.ID), Status: status, UpdatedAt: now}); err != nil {
		return fmt.Errorf("save employee %s: %w", uj.ID, err)
	}
	return nil
}

func parseKind(s string) tenancy.WorkspaceKind {
	switch strings.ToLower(s) {
	case "enterprise":
		return tenancy.KindEnterprise
	default:
		return tenancy.KindCommunity
	}
}
