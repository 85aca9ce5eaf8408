package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORE - Persistence for requests and attendance
// =============================================================================

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	WorkspaceID generic.WorkspaceID
	UserID      generic.UserID
	Status      RequestStatus
}

// Tx is the set of writes that must commit together: a balance change, the
// request transition that caused it, and the attendance rows it implies.
//
// Get* methods return (nil, nil) when the record does not exist.
// UpdateRequest returns ErrConflict if the stored version differs from
// expectedVersion.
type Tx interface {
	generic.BalanceStore
	CategoryReader

	GetRequest(ctx context.Context, id generic.RequestID) (*LeaveRequest, error)
	InsertRequest(ctx context.Context, r LeaveRequest) error
	UpdateRequest(ctx context.Context, r LeaveRequest, expectedVersion int64) error

	GetAttendance(ctx context.Context, userID generic.UserID, date generic.TimePoint) (*AttendanceRecord, error)
	UpsertAttendance(ctx context.Context, rec AttendanceRecord) error
}

// Store is the non-transactional view plus a way to open a transaction.
type Store interface {
	Tx
	CategoryStore

	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
	ListAttendance(ctx context.Context, userID generic.UserID, period generic.Period) ([]AttendanceRecord, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
