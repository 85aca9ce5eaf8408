package hr

import (
	"context"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// LEAVE CATALOG
// =============================================================================

// CreateCategory adds a leave category. HR roles only; the workspace tier
// caps how many categories may exist.
func (s *Service) CreateCategory(ctx context.Context, cmd CreateCategoryCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, err := s.resolver.AuthorizeHR(ctx, cmd.ActorID, cmd.WorkspaceID)
	if err != nil {
		return Result{}, err
	}

	cat, err := s.catalog.Create(ctx, access.Workspace, timeoff.NewCategory{
		ID:                  generic.CategoryID(uuid.NewString()),
		Name:                cmd.Name,
		Code:                cmd.Code,
		AnnualQuota:         cmd.AnnualQuota,
		CarryForwardAllowed: cmd.CarryForwardAllowed,
		MaxCarryForward:     cmd.MaxCarryForward,
	}, s.now())
	if err != nil {
		return Result{}, err
	}

	res := Result{Category: &cat}
	res.Event = s.newEvent(EventCategoryCreated, cmd.WorkspaceID, cmd.ActorID, access.User, map[string]any{
		"categoryId":   string(cat.ID),
		"categoryCode": cat.Code,
		"annualQuota":  cat.AnnualQuota.String(),
	})
	s.publish(ctx, res.Event, EntityCategory, string(cat.ID), cmd.SourceIP)
	return res, nil
}

// ListCategories is open to every member of the workspace.
func (s *Service) ListCategories(ctx context.Context, actorID generic.UserID, workspaceID generic.WorkspaceID) ([]timeoff.Category, error) {
	if _, err := s.resolver.Resolve(ctx, actorID, workspaceID); err != nil {
		return nil, err
	}
	return s.catalog.List(ctx, workspaceID)
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

// AddMember grants an existing user a role in the workspace, or changes
// the role of an existing membership. Workspace administrators only.
func (s *Service) AddMember(ctx context.Context, cmd AddMemberCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, err := s.resolver.AuthorizeAdmin(ctx, cmd.ActorID, cmd.WorkspaceID)
	if err != nil {
		return Result{}, err
	}
	if cmd.Role == tenancy.RoleCommunityAdmin && access.Workspace.Kind != tenancy.KindCommunity {
		return Result{}, generic.Validation("community_admin is only available in community workspaces")
	}

	u, err := s.changeUser(ctx, cmd.UserID, func(tx MembershipTx, u *tenancy.User) error {
		if m, ok := u.MembershipFor(cmd.WorkspaceID); !ok || !m.Active {
			count, err := tx.CountMembers(ctx, cmd.WorkspaceID)
			if err != nil {
				return generic.Internal(err, "count members of %s", cmd.WorkspaceID)
			}
			if count >= access.Workspace.Limits.MaxMembers {
				return generic.Validation("workspace %s allows at most %d members", cmd.WorkspaceID, access.Workspace.Limits.MaxMembers)
			}
		}
		return u.AddMembership(cmd.WorkspaceID, cmd.Role, s.now())
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{User: &u}
	res.Event = s.newEvent(EventMemberAdded, cmd.WorkspaceID, cmd.ActorID, u, map[string]any{
		"role":          string(cmd.Role),
		"workspaceName": access.Workspace.Name,
	})
	s.publish(ctx, res.Event, EntityMembership, string(u.ID), cmd.SourceIP)
	return res, nil
}

// DeactivateMember revokes a user's membership in the workspace. The
// membership is kept, inactive, so AddMember can restore it. Workspace
// administrators only, and never on their own membership.
func (s *Service) DeactivateMember(ctx context.Context, cmd DeactivateMemberCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, err := s.resolver.AuthorizeAdmin(ctx, cmd.ActorID, cmd.WorkspaceID)
	if err != nil {
		return Result{}, err
	}
	if cmd.UserID == cmd.ActorID {
		return Result{}, generic.Validation("administrators cannot deactivate their own membership")
	}

	var role tenancy.Role
	u, err := s.changeUser(ctx, cmd.UserID, func(_ MembershipTx, u *tenancy.User) error {
		m, ok := u.MembershipFor(cmd.WorkspaceID)
		if !ok || !m.Active {
			return generic.NotFound("user %s has no active membership in %s", u.ID, cmd.WorkspaceID)
		}
		role = m.Role
		return u.DeactivateMembership(cmd.WorkspaceID)
	})
	if err != nil {
		return Result{}, err
	}

	fields := map[string]any{
		"role":          string(role),
		"workspaceName": access.Workspace.Name,
	}
	if cmd.Reason != "" {
		fields["reason"] = cmd.Reason
	}
	res := Result{User: &u}
	res.Event = s.newEvent(EventMemberDeactivated, cmd.WorkspaceID, cmd.ActorID, u, fields)
	s.publish(ctx, res.Event, EntityMembership, string(u.ID), cmd.SourceIP)
	return res, nil
}

// SwitchWorkspace makes the workspace the actor's current one. Any active
// member may switch for themselves.
func (s *Service) SwitchWorkspace(ctx context.Context, cmd SwitchWorkspaceCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, err := s.resolver.Resolve(ctx, cmd.ActorID, cmd.WorkspaceID)
	if err != nil {
		return Result{}, err
	}

	var previous generic.WorkspaceID
	u, err := s.changeUser(ctx, cmd.ActorID, func(_ MembershipTx, u *tenancy.User) error {
		previous, _ = u.CurrentWorkspace()
		return u.SwitchWorkspace(cmd.WorkspaceID)
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{User: &u}
	res.Event = s.newEvent(EventWorkspaceSwitched, cmd.WorkspaceID, cmd.ActorID, u, map[string]any{
		"previousWorkspaceId": string(previous),
		"role":                string(access.Role),
		"workspaceName":       access.Workspace.Name,
	})
	s.publish(ctx, res.Event, EntityMembership, string(u.ID), cmd.SourceIP)
	return res, nil
}

// changeUser loads a user, applies change and writes the result with a
// version check, all in one membership transaction.
func (s *Service) changeUser(ctx context.Context, id generic.UserID, change func(MembershipTx, *tenancy.User) error) (tenancy.User, error) {
	var saved tenancy.User
	err := s.store.WithMembershipTx(ctx, func(tx MembershipTx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return generic.Internal(err, "load user %s", id)
		}
		if u == nil {
			return generic.NotFound("user %s not found", id)
		}
		if err := change(tx, u); err != nil {
			return err
		}
		expected := u.Version
		u.Version = expected + 1
		if err := tx.UpdateUser(ctx, *u, expected); err != nil {
			return storeErr(err, "save user %s", id)
		}
		saved = *u
		return nil
	})
	return saved, err
}

// =============================================================================
// WORKSPACE TIER
// =============================================================================

// ChangeWorkspaceKind switches a workspace between tiers. System
// administrators only.
func (s *Service) ChangeWorkspaceKind(ctx context.Context, cmd ChangeWorkspaceKindCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, err := s.resolver.Resolve(ctx, cmd.ActorID, cmd.WorkspaceID)
	if err != nil {
		return Result{}, err
	}
	if access.Role != tenancy.RoleSystemAdmin {
		return Result{}, generic.Forbidden("only system administrators may change a workspace's kind")
	}

	ws := access.Workspace
	previous := ws.Kind
	ws.ChangeKind(cmd.Kind, s.now())
	if err := s.store.SaveWorkspace(ctx, ws); err != nil {
		return Result{}, storeErr(err, "save workspace %s", ws.ID)
	}

	res := Result{Workspace: &ws}
	res.Event = s.newEvent(EventWorkspaceKindChanged, ws.ID, cmd.ActorID, access.User, map[string]any{
		"previousKind": string(previous),
		"kind":         string(ws.Kind),
	})
	s.publish(ctx, res.Event, EntityWorkspace, string(ws.ID), cmd.SourceIP)
	return res, nil
}
