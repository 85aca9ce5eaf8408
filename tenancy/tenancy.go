/*
Package tenancy models workspaces, users and per-workspace roles.

PURPOSE:
  Answers one question for every inbound action: which role does the acting
  user hold in the workspace the action targets? A user may belong to many
  workspaces with a different role in each, so roles are never read from a
  global field.

KEY CONCEPTS:
  Workspace:  tenant boundary; its Kind (enterprise | community) fixes its
              limits and feature set
  Membership: {workspace, role, joinedAt, active} - the authoritative role
  User:       holds the membership set, one "current" workspace, and a
              legacy single-workspace pair kept in sync for old readers
  Resolver:   the single authorization function (resolver.go)

SEE ALSO:
  - resolver.go: RoleFor / AuthorizeHR
  - hr/service.go: Calls the resolver before every HR action
*/
package tenancy

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleEmployee       Role = "employee"
	RoleManager        Role = "manager"
	RoleHR             Role = "hr"
	RoleAdmin          Role = "admin"
	RoleCommunityAdmin Role = "community_admin"

	// RoleSystemAdmin is workspace-independent. It is never stored on a
	// membership, only on User.SystemRole.
	RoleSystemAdmin Role = "system_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin, RoleCommunityAdmin:
		return true
	}
	return false
}

// =============================================================================
// WORKSPACE
// =============================================================================

type WorkspaceKind string

const (
	KindEnterprise WorkspaceKind = "enterprise" // full-featured
	KindCommunity  WorkspaceKind = "community"  // limited-feature tier
)

type Feature string

const (
	FeatureCarryForward       Feature = "carry_forward"
	FeatureAttendanceOverride Feature = "attendance_override"
	FeatureBulkMark           Feature = "bulk_mark"
	FeatureHalfDayLeave       Feature = "half_day_leave"
)

// Limits are derived from the workspace kind, never edited directly.
type Limits struct {
	MaxMembers         int
	MaxLeaveCategories int
	Features           map[Feature]bool
}

// LimitsFor returns the limits of a workspace kind. Unknown kinds get the
// community limits.
func LimitsFor(kind WorkspaceKind) Limits {
	switch kind {
	case KindEnterprise:
		return Limits{
			MaxMembers:         10000,
			MaxLeaveCategories: 50,
			Features: map[Feature]bool{
				FeatureCarryForward:       true,
				FeatureAttendanceOverride: true,
				FeatureBulkMark:           true,
				FeatureHalfDayLeave:       true,
			},
		}
	default:
		return Limits{
			MaxMembers:         25,
			MaxLeaveCategories: 5,
			Features: map[Feature]bool{
				FeatureHalfDayLeave: true,
				FeatureBulkMark:     true,
			},
		}
	}
}

type Workspace struct {
	ID        generic.WorkspaceID
	Name      string
	Kind      WorkspaceKind
	Active    bool
	Limits    Limits
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewWorkspace(id generic.WorkspaceID, name string, kind WorkspaceKind, now time.Time) Workspace {
	return Workspace{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Active:    true,
		Limits:    LimitsFor(kind),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChangeKind switches tier and re-derives limits.
func (w *Workspace) ChangeKind(kind WorkspaceKind, now time.Time) {
	w.Kind = kind
	w.Limits = LimitsFor(kind)
	w.UpdatedAt = now
}

func (w Workspace) HasFeature(f Feature) bool {
	return w.Limits.Features[f]
}

// =============================================================================
// USER & MEMBERSHIP
// =============================================================================

type Membership struct {
	WorkspaceID generic.WorkspaceID
	Role        Role
	JoinedAt    time.Time
	Active      bool
	Current     bool
}

type User struct {
	ID    generic.UserID
	Email string
	Name  string

	// SystemRole is either empty or RoleSystemAdmin.
	SystemRole Role

	Memberships []Membership

	// Legacy single-workspace reference. A flattened cache of the current
	// membership; never consulted for authorization.
	LegacyWorkspaceID generic.WorkspaceID
	LegacyRole        Role

	// Version increments on every persisted write. Zero means never stored.
	Version int64
}

func (u User) IsSystemAdmin() bool {
	return u.SystemRole == RoleSystemAdmin
}

// MembershipFor returns the membership for a workspace, active or not.
func (u User) MembershipFor(workspaceID generic.WorkspaceID) (Membership, bool) {
	for _, m := range u.Memberships {
		if m.WorkspaceID == workspaceID {
			return m, true
		}
	}
	return Membership{}, false
}

// CurrentWorkspace returns the session-default workspace, if any.
func (u User) CurrentWorkspace() (generic.WorkspaceID, bool) {
	for _, m := range u.Memberships {
		if m.Current && m.Active {
			return m.WorkspaceID, true
		}
	}
	return "", false
}

// AddMembership adds or reactivates a membership. The first membership
// becomes current.
func (u *User) AddMembership(workspaceID generic.WorkspaceID, role Role, now time.Time) error {
	if !role.Valid() {
		return generic.Validation("invalid role %q", role)
	}
	for i := range u.Memberships {
		if u.Memberships[i].WorkspaceID == workspaceID {
			u.Memberships[i].Role = role
			u.Memberships[i].Active = true
			u.SyncLegacy()
			return nil
		}
	}
	u.Memberships = append(u.Memberships, Membership{
		WorkspaceID: workspaceID,
		Role:        role,
		JoinedAt:    now,
		Active:      true,
	})
	if _, ok := u.CurrentWorkspace(); !ok {
		u.Memberships[len(u.Memberships)-1].Current = true
	}
	u.SyncLegacy()
	return nil
}

// DeactivateMembership marks a membership inactive. If it was current, the
// next active membership (if any) becomes current.
func (u *User) DeactivateMembership(workspaceID generic.WorkspaceID) error {
	idx := -1
	for i := range u.Memberships {
		if u.Memberships[i].WorkspaceID == workspaceID {
			idx = i
		}
	}
	if idx < 0 {
		return generic.NotFound("user %s has no membership in %s", u.ID, workspaceID)
	}
	wasCurrent := u.Memberships[idx].Current
	u.Memberships[idx].Active = false
	u.Memberships[idx].Current = false
	if wasCurrent {
		for i := range u.Memberships {
			if u.Memberships[i].Active {
				u.Memberships[i].Current = true
				break
			}
		}
	}
	u.SyncLegacy()
	return nil
}

// SwitchWorkspace makes an active membership the current one.
func (u *User) SwitchWorkspace(workspaceID generic.WorkspaceID) error {
	m, ok := u.MembershipFor(workspaceID)
	if !ok || !m.Active {
		return generic.NotMember("user %s is not an active member of %s", u.ID, workspaceID)
	}
	for i := range u.Memberships {
		u.Memberships[i].Current = u.Memberships[i].WorkspaceID == workspaceID
	}
	u.SyncLegacy()
	return nil
}

// SyncLegacy rewrites the legacy pair from the current membership.
func (u *User) SyncLegacy() {
	u.LegacyWorkspaceID = ""
	u.LegacyRole = ""
	for _, m := range u.Memberships {
		if m.Current && m.Active {
			u.LegacyWorkspaceID = m.WorkspaceID
			u.LegacyRole = m.Role
			return
		}
	}
}
