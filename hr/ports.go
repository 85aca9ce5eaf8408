package hr

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// EMPLOYMENT
// =============================================================================

type EmploymentStatus string

const (
	EmploymentActive   EmploymentStatus = "ACTIVE"
	EmploymentInactive EmploymentStatus = "INACTIVE"
	EmploymentOnNotice EmploymentStatus = "ON_NOTICE"
	EmploymentExited   EmploymentStatus = "EXITED"
)

func (s EmploymentStatus) Valid() bool {
	switch s {
	case EmploymentActive, EmploymentInactive, EmploymentOnNotice, EmploymentExited:
		return true
	}
	return false
}

type Employee struct {
	UserID    generic.UserID
	Status    EmploymentStatus
	Version   int64
	UpdatedAt time.Time
}

// EmployeeStore persists employment records. GetEmployee returns (nil, nil)
// for unknown users. UpdateEmployee writes only if the stored version
// equals expectedVersion, and fails with ErrConflict otherwise.
type EmployeeStore interface {
	GetEmployee(ctx context.Context, userID generic.UserID) (*Employee, error)
	UpdateEmployee(ctx context.Context, e Employee, expectedVersion int64) error
}

// EmploymentDirectory answers "is this person currently employed?".
type EmploymentDirectory interface {
	GetEmploymentStatus(ctx context.Context, userID generic.UserID) (EmploymentStatus, error)
}

// StoreDirectory serves the directory from an EmployeeStore.
type StoreDirectory struct {
	Store EmployeeStore
}

func (d StoreDirectory) GetEmploymentStatus(ctx context.Context, userID generic.UserID) (EmploymentStatus, error) {
	e, err := d.Store.GetEmployee(ctx, userID)
	if err != nil {
		return "", generic.Internal(err, "load employee %s", userID)
	}
	if e == nil {
		return "", generic.NotFound("employee %s not found", userID)
	}
	return e.Status, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditEntry struct {
	ID          string
	ActorID     generic.UserID
	WorkspaceID generic.WorkspaceID
	Action      string
	EntityType  string
	EntityID    string
	Details     map[string]any
	SourceIP    string
	CreatedAt   time.Time
}

// AuditLog is append-only and write-only from the service's point of view.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

const (
	EntityLeaveRequest = "leave_request"
	EntityEmployee     = "employee"
	EntityAttendance   = "attendance"
	EntityBalance      = "leave_balance"
	EntityCategory     = "leave_category"
	EntityMembership   = "membership"
	EntityWorkspace    = "workspace"
)

// =============================================================================
// STORE
// =============================================================================

// MembershipTx is the view handed to WithMembershipTx: a user row and the
// workspace head count, read and written in one transaction. UpdateUser
// fails with ErrConflict if the stored version differs from
// expectedVersion.
type MembershipTx interface {
	GetUser(ctx context.Context, id generic.UserID) (*tenancy.User, error)
	CountMembers(ctx context.Context, workspaceID generic.WorkspaceID) (int, error)
	UpdateUser(ctx context.Context, u tenancy.User, expectedVersion int64) error
}

// Store is everything the service persists through.
type Store interface {
	timeoff.Store
	tenancy.Store
	EmployeeStore

	SaveWorkspace(ctx context.Context, w tenancy.Workspace) error

	// WithMembershipTx executes fn within a transaction that serializes
	// with every other membership change.
	WithMembershipTx(ctx context.Context, fn func(MembershipTx) error) error
}
