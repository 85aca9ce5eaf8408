package tenancy

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORES
// =============================================================================

// Store reads tenancy records. Implementations return (nil, nil) for
// missing records.
type Store interface {
	GetWorkspace(ctx context.Context, id generic.WorkspaceID) (*Workspace, error)
	GetUser(ctx context.Context, id generic.UserID) (*User, error)
}

// =============================================================================
// RESOLVER - The single authorization function
// =============================================================================

// HRRoles may perform HR-class actions. RoleCommunityAdmin only qualifies
// in community workspaces.
var HRRoles = map[Role]bool{
	RoleHR:             true,
	RoleAdmin:          true,
	RoleCommunityAdmin: true,
	RoleSystemAdmin:    true,
}

type Resolver struct {
	Store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Access is the outcome of a successful resolution.
type Access struct {
	User      User
	Workspace Workspace
	Role      Role
}

// Resolve loads the user and workspace and determines the user's role
// there. System administrators pass without a membership lookup.
func (r *Resolver) Resolve(ctx context.Context, userID generic.UserID, workspaceID generic.WorkspaceID) (Access, error) {
	ws, err := r.Store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Access{}, generic.Internal(err, "load workspace %s", workspaceID)
	}
	if ws == nil || !ws.Active {
		return Access{}, generic.NotFound("workspace %s not found", workspaceID)
	}

	user, err := r.Store.GetUser(ctx, userID)
	if err != nil {
		return Access{}, generic.Internal(err, "load user %s", userID)
	}
	if user == nil {
		return Access{}, generic.NotMember("user %s is not a member of workspace %s", userID, workspaceID)
	}

	if user.IsSystemAdmin() {
		return Access{User: *user, Workspace: *ws, Role: RoleSystemAdmin}, nil
	}

	m, ok := user.MembershipFor(workspaceID)
	if !ok || !m.Active {
		return Access{}, generic.NotMember("user %s is not a member of workspace %s", userID, workspaceID)
	}
	return Access{User: *user, Workspace: *ws, Role: m.Role}, nil
}

// RoleFor returns the acting user's role for the target workspace.
func (r *Resolver) RoleFor(ctx context.Context, userID generic.UserID, workspaceID generic.WorkspaceID) (Role, error) {
	a, err := r.Resolve(ctx, userID, workspaceID)
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

// AuthorizeHR resolves the user's role and requires it to be an HR role.
func (r *Resolver) AuthorizeHR(ctx context.Context, userID generic.UserID, workspaceID generic.WorkspaceID) (Access, error) {
	a, err := r.Resolve(ctx, userID, workspaceID)
	if err != nil {
		return Access{}, err
	}
	if !IsHRRole(a.Role, a.Workspace.Kind) {
		return Access{}, generic.Forbidden("role %s may not perform HR actions in workspace %s", a.Role, workspaceID)
	}
	return a, nil
}

// AuthorizeAdmin requires a workspace administrator: admin, community_admin
// in a community workspace, or a system administrator.
func (r *Resolver) AuthorizeAdmin(ctx context.Context, userID generic.UserID, workspaceID generic.WorkspaceID) (Access, error) {
	a, err := r.Resolve(ctx, userID, workspaceID)
	if err != nil {
		return Access{}, err
	}
	if !IsAdminRole(a.Role, a.Workspace.Kind) {
		return Access{}, generic.Forbidden("role %s may not administer workspace %s", a.Role, workspaceID)
	}
	return a, nil
}

func IsAdminRole(role Role, kind WorkspaceKind) bool {
	switch role {
	case RoleAdmin, RoleSystemAdmin:
		return true
	case RoleCommunityAdmin:
		return kind == KindCommunity
	}
	return false
}

// IsHRRole reports whether role may act as HR in a workspace of kind.
func IsHRRole(role Role, kind WorkspaceKind) bool {
	if role == RoleCommunityAdmin {
		return kind == KindCommunity
	}
	return HRRoles[role]
}
