package tenancy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeStore struct {
	workspaces map[generic.WorkspaceID]tenancy.Workspace
	users      map[generic.UserID]tenancy.User
}

func (f *fakeStore) GetWorkspace(_ context.Context, id generic.WorkspaceID) (*tenancy.Workspace, error) {
	w, ok := f.workspaces[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *fakeStore) GetUser(_ context.Context, id generic.UserID) (*tenancy.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fakeStore {
	t.Helper()
	acme := tenancy.NewWorkspace("ws-acme", "Acme", tenancy.KindEnterprise, now)
	club := tenancy.NewWorkspace("ws-club", "Club", tenancy.KindCommunity, now)

	alice := tenancy.User{ID: "alice", Email: "alice@example.com", Name: "Alice"}
	require.NoError(t, alice.AddMembership("ws-acme", tenancy.RoleHR, now))
	require.NoError(t, alice.AddMembership("ws-club", tenancy.RoleEmployee, now))

	bob := tenancy.User{ID: "bob", Email: "bob@example.com", Name: "Bob"}
	require.NoError(t, bob.AddMembership("ws-acme", tenancy.RoleCommunityAdmin, now))
	require.NoError(t, bob.AddMembership("ws-club", tenancy.RoleCommunityAdmin, now))

	root := tenancy.User{ID: "root", SystemRole: tenancy.RoleSystemAdmin}

	return &fakeStore{
		workspaces: map[generic.WorkspaceID]tenancy.Workspace{acme.ID: acme, club.ID: club},
		users:      map[generic.UserID]tenancy.User{"alice": alice, "bob": bob, "root": root},
	}
}

// =============================================================================
// RESOLVER
// =============================================================================

func TestRoleFor_ResolvesPerWorkspace(t *testing.T) {
	// GIVEN: Alice is HR in Acme and an employee in Club
	// WHEN: Resolving her role in each
	// THEN: Each workspace reports its own membership role

	r := tenancy.NewResolver(newFixture(t))
	ctx := context.Background()

	role, err := r.RoleFor(ctx, "alice", "ws-acme")
	require.NoError(t, err)
	assert.Equal(t, tenancy.RoleHR, role)

	role, err = r.RoleFor(ctx, "alice", "ws-club")
	require.NoError(t, err)
	assert.Equal(t, tenancy.RoleEmployee, role)
}

func TestRoleFor_IgnoresLegacyField(t *testing.T) {
	store := newFixture(t)
	alice := store.users["alice"]
	alice.LegacyWorkspaceID = "ws-club"
	alice.LegacyRole = tenancy.RoleAdmin
	store.users["alice"] = alice

	_, err := tenancy.NewResolver(store).AuthorizeHR(context.Background(), "alice", "ws-club")
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestRoleFor_NotMember(t *testing.T) {
	store := newFixture(t)
	store.users["carol"] = tenancy.User{ID: "carol"}
	r := tenancy.NewResolver(store)

	_, err := r.RoleFor(context.Background(), "carol", "ws-acme")
	assert.ErrorIs(t, err, generic.ErrNotMember)

	_, err = r.RoleFor(context.Background(), "nobody", "ws-acme")
	assert.ErrorIs(t, err, generic.ErrNotMember)
}

func TestRoleFor_InactiveMembership(t *testing.T) {
	store := newFixture(t)
	alice := store.users["alice"]
	require.NoError(t, alice.DeactivateMembership("ws-acme"))
	store.users["alice"] = alice

	_, err := tenancy.NewResolver(store).RoleFor(context.Background(), "alice", "ws-acme")
	assert.ErrorIs(t, err, generic.ErrNotMember)
}

func TestRoleFor_UnknownWorkspace(t *testing.T) {
	_, err := tenancy.NewResolver(newFixture(t)).RoleFor(context.Background(), "alice", "ws-missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAuthorizeHR_SystemAdminBypassesMembership(t *testing.T) {
	a, err := tenancy.NewResolver(newFixture(t)).AuthorizeHR(context.Background(), "root", "ws-acme")
	require.NoError(t, err)
	assert.Equal(t, tenancy.RoleSystemAdmin, a.Role)
}

func TestAuthorizeHR_CommunityAdminOnlyInCommunityTier(t *testing.T) {
	r := tenancy.NewResolver(newFixture(t))
	ctx := context.Background()

	_, err := r.AuthorizeHR(ctx, "bob", "ws-club")
	assert.NoError(t, err)

	_, err = r.AuthorizeHR(ctx, "bob", "ws-acme")
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestAuthorizeHR_EmployeeForbidden(t *testing.T) {
	_, err := tenancy.NewResolver(newFixture(t)).AuthorizeHR(context.Background(), "alice", "ws-club")
	assert.ErrorIs(t, err, generic.ErrForbidden)
	assert.Equal(t, generic.KindForbidden, generic.KindOf(err))
}

// =============================================================================
// MEMBERSHIP & LEGACY SYNC
// =============================================================================

func TestUser_FirstMembershipBecomesCurrent(t *testing.T) {
	u := tenancy.User{ID: "u"}
	require.NoError(t, u.AddMembership("ws-1", tenancy.RoleEmployee, now))
	require.NoError(t, u.AddMembership("ws-2", tenancy.RoleHR, now))

	current, ok := u.CurrentWorkspace()
	require.True(t, ok)
	assert.Equal(t, generic.WorkspaceID("ws-1"), current)
	assert.Equal(t, generic.WorkspaceID("ws-1"), u.LegacyWorkspaceID)
	assert.Equal(t, tenancy.RoleEmployee, u.LegacyRole)
}

func TestUser_SwitchWorkspace_SyncsLegacy(t *testing.T) {
	u := tenancy.User{ID: "u"}
	require.NoError(t, u.AddMembership("ws-1", tenancy.RoleEmployee, now))
	require.NoError(t, u.AddMembership("ws-2", tenancy.RoleHR, now))

	require.NoError(t, u.SwitchWorkspace("ws-2"))
	assert.Equal(t, generic.WorkspaceID("ws-2"), u.LegacyWorkspaceID)
	assert.Equal(t, tenancy.RoleHR, u.LegacyRole)

	currents := 0
	for _, m := range u.Memberships {
		if m.Current {
			currents++
		}
	}
	assert.Equal(t, 1, currents)

	assert.ErrorIs(t, u.SwitchWorkspace("ws-3"), generic.ErrNotMember)
}

func TestUser_DeactivateCurrent_MovesCurrent(t *testing.T) {
	u := tenancy.User{ID: "u"}
	require.NoError(t, u.AddMembership("ws-1", tenancy.RoleEmployee, now))
	require.NoError(t, u.AddMembership("ws-2", tenancy.RoleHR, now))

	require.NoError(t, u.DeactivateMembership("ws-1"))
	current, ok := u.CurrentWorkspace()
	require.True(t, ok)
	assert.Equal(t, generic.WorkspaceID("ws-2"), current)
	assert.Equal(t, tenancy.RoleHR, u.LegacyRole)

	require.NoError(t, u.DeactivateMembership("ws-2"))
	_, ok = u.CurrentWorkspace()
	assert.False(t, ok)
	assert.Empty(t, u.LegacyWorkspaceID)
}

func TestUser_AddMembership_InvalidRole(t *testing.T) {
	u := tenancy.User{ID: "u"}
	assert.ErrorIs(t, u.AddMembership("ws-1", tenancy.RoleSystemAdmin, now), generic.ErrValidation)
}

// =============================================================================
// WORKSPACE LIMITS
// =============================================================================

func TestWorkspace_ChangeKind_RederivesLimits(t *testing.T) {
	w := tenancy.NewWorkspace("ws", "W", tenancy.KindCommunity, now)
	assert.False(t, w.HasFeature(tenancy.FeatureCarryForward))
	assert.Equal(t, 5, w.Limits.MaxLeaveCategories)

	w.ChangeKind(tenancy.KindEnterprise, now.Add(time.Hour))
	assert.True(t, w.HasFeature(tenancy.FeatureCarryForward))
	assert.Equal(t, tenancy.LimitsFor(tenancy.KindEnterprise).MaxMembers, w.Limits.MaxMembers)
	assert.Equal(t, now.Add(time.Hour), w.UpdatedAt)
}

func TestAuthorizeAdmin(t *testing.T) {
	r := tenancy.NewResolver(newFixture(t))
	ctx := context.Background()

	_, err := r.AuthorizeAdmin(ctx, "alice", "ws-acme")
	assert.ErrorIs(t, err, generic.ErrForbidden, "hr is not an administrator")

	_, err = r.AuthorizeAdmin(ctx, "bob", "ws-club")
	assert.NoError(t, err)

	_, err = r.AuthorizeAdmin(ctx, "root", "ws-club")
	assert.NoError(t, err)
}
