package hr_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var clock = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	wsAcme  generic.WorkspaceID = "ws-acme"
	wsOther generic.WorkspaceID = "ws-other"
	catAL   generic.CategoryID  = "cat-al"
	catOth  generic.CategoryID  = "cat-other"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	kinds  []hr.EventKind
	failed bool
}

func (d *recordingDispatcher) Handle(_ context.Context, kind hr.EventKind, _ hr.Payload, _ generic.WorkspaceID) (hr.DeliveryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, kind)
	if d.failed {
		return hr.DeliveryResult{}, errors.New("smtp down")
	}
	return hr.DeliveryResult{Delivered: true, Template: string(kind)}, nil
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, hr.AuditEntry) error { return errors.New("audit db down") }

type fixture struct {
	store      *memory.Memory
	svc        *hr.Service
	dispatcher *recordingDispatcher
}

func seedUser(t *testing.T, store *memory.Memory, id generic.UserID, status hr.EmploymentStatus, memberships map[generic.WorkspaceID]tenancy.Role) {
	t.Helper()
	ctx := context.Background()
	u := tenancy.User{ID: id, Email: string(id) + "@example.com", Name: string(id)}
	for ws, role := range memberships {
		require.NoError(t, u.AddMembership(ws, role, clock))
	}
	require.NoError(t, store.SaveUser(ctx, u))
	require.NoError(t, store.SaveEmployee(ctx, hr.Employee{UserID: id, Status: status, UpdatedAt: clock}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.SaveWorkspace(ctx, tenancy.NewWorkspace(wsAcme, "Acme", tenancy.KindEnterprise, clock)))
	require.NoError(t, store.SaveWorkspace(ctx, tenancy.NewWorkspace(wsOther, "Other", tenancy.KindCommunity, clock)))

	require.NoError(t, store.InsertCategory(ctx, timeoff.Category{
		ID: catAL, WorkspaceID: wsAcme, Name: "Annual Leave", Code: "AL",
		AnnualQuota: generic.NewDays(20), CarryForwardAllowed: true, MaxCarryForward: generic.NewDays(5), Active: true,
	}))
	require.NoError(t, store.InsertCategory(ctx, timeoff.Category{
		ID: catOth, WorkspaceID: wsOther, Name: "Annual Leave", Code: "AL",
		AnnualQuota: generic.NewDays(10), Active: true,
	}))

	seedUser(t, store, "emp", hr.EmploymentActive, map[generic.WorkspaceID]tenancy.Role{wsAcme: tenancy.RoleEmployee})
	seedUser(t, store, "hr", hr.EmploymentActive, map[generic.WorkspaceID]tenancy.Role{wsAcme: tenancy.RoleHR, wsOther: tenancy.RoleEmployee})
	seedUser(t, store, "admin", hr.EmploymentActive, map[generic.WorkspaceID]tenancy.Role{wsAcme: tenancy.RoleAdmin})
	seedUser(t, store, "outsider", hr.EmploymentActive, map[generic.WorkspaceID]tenancy.Role{wsOther: tenancy.RoleEmployee})
	seedUser(t, store, "leaver", hr.EmploymentExited, map[generic.WorkspaceID]tenancy.Role{wsAcme: tenancy.RoleEmployee})
	require.NoError(t, store.SaveUser(ctx, tenancy.User{ID: "root", SystemRole: tenancy.RoleSystemAdmin}))

	d := &recordingDispatcher{}
	svc := hr.NewService(hr.Config{
		Store:      store,
		AuditLog:   store,
		Dispatcher: d,
		Now:        func() time.Time { return clock },
	})
	return &fixture{store: store, svc: svc, dispatcher: d}
}

func (f *fixture) create(t *testing.T, user generic.UserID, start, end int) timeoff.LeaveRequest {
	t.Helper()
	res, err := f.svc.CreateLeaveRequest(context.Background(), hr.CreateLeaveCommand{
		ActorID: user, WorkspaceID: wsAcme, CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 4, start), EndDate: generic.NewTimePoint(2025, 4, end),
		Reason: "holiday",
	})
	require.NoError(t, err)
	return *res.Request
}

func (f *fixture) balance(t *testing.T, user generic.UserID) generic.Balance {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), hr.BalanceQuery{
		ActorID: "hr", WorkspaceID: wsAcme, UserID: user, CategoryID: catAL, Year: 2025,
	})
	require.NoError(t, err)
	return b
}

func assertBalance(t *testing.T, b generic.Balance, total, used, pending, available float64) {
	t.Helper()
	assert.True(t, b.TotalQuota.Equal(generic.NewDays(total)), "total: %s", b.TotalQuota)
	assert.True(t, b.Used.Equal(generic.NewDays(used)), "used: %s", b.Used)
	assert.True(t, b.Pending.Equal(generic.NewDays(pending)), "pending: %s", b.Pending)
	assert.True(t, b.Available.Equal(generic.NewDays(available)), "available: %s", b.Available)
}

// =============================================================================
// LIFECYCLE SCENARIOS
// =============================================================================

func TestCreateThenApprove(t *testing.T) {
	// GIVEN: AL quota 20, untouched balance
	// WHEN: emp requests 5 days, HR approves
	// THEN: pending 5 / available 15, then used 5 / pending 0 / available 15

	f := newFixture(t)
	ctx := context.Background()
	assertBalance(t, f.balance(t, "emp"), 20, 0, 0, 20)

	req := f.create(t, "emp", 7, 11)
	assert.True(t, req.Days.Equal(generic.NewDays(5)))
	assertBalance(t, f.balance(t, "emp"), 20, 0, 5, 15)

	res, err := f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, res.Request.Status)
	assert.Equal(t, generic.UserID("hr"), res.Request.ApprovedBy)
	assert.Equal(t, hr.EventLeaveApproved, res.Event.Kind)
	assert.Equal(t, generic.UserID("emp"), res.Event.Payload.SubjectUserID)
	assert.Equal(t, "emp@example.com", res.Event.Payload.SubjectEmail)
	assertBalance(t, f.balance(t, "emp"), 20, 5, 0, 15)

	// Attendance written for each of the five days.
	recs, err := f.svc.ListAttendance(ctx, "emp", wsAcme, "emp", req.Period())
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for _, r := range recs {
		assert.Equal(t, timeoff.AttendanceOnLeave, r.Status)
		assert.Equal(t, timeoff.LeaveMarker(req.ID), r.Marker)
	}
}

func TestCreateThenReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "emp", 7, 11)

	_, err := f.svc.RejectLeave(ctx, hr.RejectCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID, Reason: ""})
	assert.ErrorIs(t, err, generic.ErrValidation)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 5, 15)

	res, err := f.svc.RejectLeave(ctx, hr.RejectCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID, Reason: "policy"})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusRejected, res.Request.Status)
	assert.Equal(t, "policy", res.Request.RejectionReason)
	assert.Equal(t, generic.UserID("hr"), res.Request.ApprovedBy)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 0, 20)
}

func TestCreate_InsufficientBalance_Unchanged(t *testing.T) {
	// GIVEN: 3 days available
	// WHEN: Requesting 5
	// THEN: InsufficientBalance, balance unchanged, no request stored

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.BulkMarkLeave(ctx, hr.BulkMarkCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 2, 1), EndDate: generic.NewTimePoint(2025, 2, 17),
		TargetStatus: timeoff.StatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, res.Request.Status)
	assertBalance(t, f.balance(t, "emp"), 20, 17, 0, 3)

	_, err = f.svc.CreateLeaveRequest(ctx, hr.CreateLeaveCommand{
		ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 11),
	})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assertBalance(t, f.balance(t, "emp"), 20, 17, 0, 3)

	pending, err := f.svc.ListRequests(ctx, hr.ListRequestsQuery{ActorID: "emp", WorkspaceID: wsAcme, Status: timeoff.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCancelApproved_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "emp", 7, 11)
	_, err := f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	require.NoError(t, err)
	before := f.balance(t, "emp")

	_, err = f.svc.CancelLeave(ctx, hr.RequestCommand{ActorID: "emp", WorkspaceID: wsAcme, RequestID: req.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "cannot cancel processed request")

	after := f.balance(t, "emp")
	assert.Equal(t, before.Version, after.Version)
	got, err := f.svc.GetRequest(ctx, "emp", wsAcme, req.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, got.Status)
}

func TestCancelPending_ReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "emp", 7, 8)

	_, err := f.svc.CancelLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrForbidden, "only the requester may cancel")

	res, err := f.svc.CancelLeave(ctx, hr.RequestCommand{ActorID: "emp", WorkspaceID: wsAcme, RequestID: req.ID})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusCancelled, res.Request.Status)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 0, 20)
}

func TestNoDoubleResolution_NoLedgerMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "emp", 7, 8)
	_, err := f.svc.RejectLeave(ctx, hr.RejectCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID, Reason: "no"})
	require.NoError(t, err)
	before := f.balance(t, "emp")

	_, err = f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = f.svc.RejectLeave(ctx, hr.RejectCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID, Reason: "again"})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = f.svc.CancelLeave(ctx, hr.RequestCommand{ActorID: "emp", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	after := f.balance(t, "emp")
	assert.Equal(t, before, after)
}

func TestConservation_PendingReturnsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "emp", 1, 2)
	b := f.create(t, "emp", 7, 9)
	c := f.create(t, "emp", 14, 14)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 6, 14)

	_, err := f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: a.ID})
	require.NoError(t, err)
	_, err = f.svc.RejectLeave(ctx, hr.RejectCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: b.ID, Reason: "busy"})
	require.NoError(t, err)
	_, err = f.svc.CancelLeave(ctx, hr.RequestCommand{ActorID: "emp", WorkspaceID: wsAcme, RequestID: c.ID})
	require.NoError(t, err)

	assertBalance(t, f.balance(t, "emp"), 20, 2, 0, 18)
}

func TestConcurrentCreates_NeverOvercommit(t *testing.T) {
	// GIVEN: 20 days available
	// WHEN: 15-day and 10-day requests race
	// THEN: exactly one succeeds, the other fails InsufficientBalance

	f := newFixture(t)
	ctx := context.Background()

	spans := [][2]int{{1, 15}, {16, 25}}
	errs := make([]error, len(spans))
	var wg sync.WaitGroup
	for i, span := range spans {
		wg.Add(1)
		go func(i int, start, end int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateLeaveRequest(ctx, hr.CreateLeaveCommand{
				ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catAL,
				StartDate: generic.NewTimePoint(2025, 6, start), EndDate: generic.NewTimePoint(2025, 6, end),
			})
		}(i, span[0], span[1])
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, succeeded)

	b := f.balance(t, "emp")
	assert.False(t, b.Available.IsNegative())
	assert.NoError(t, b.CheckConsistency())
}

// =============================================================================
// AUTHORIZATION & TENANCY
// =============================================================================

func TestApprove_RequiresHRRole(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, "emp", 7, 8)

	_, err := f.svc.ApproveLeave(context.Background(), hr.RequestCommand{ActorID: "emp", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.svc.ApproveLeave(context.Background(), hr.RequestCommand{ActorID: "outsider", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrNotMember)

	res, err := f.svc.ApproveLeave(context.Background(), hr.RequestCommand{ActorID: "root", WorkspaceID: wsAcme, RequestID: req.ID})
	require.NoError(t, err, "system administrators need no membership")
	assert.Equal(t, generic.UserID("root"), res.Request.ApprovedBy)
}

func TestRoleIsPerWorkspace(t *testing.T) {
	// hr is HR in Acme but only an employee in Other.
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateLeaveRequest(ctx, hr.CreateLeaveCommand{
		ActorID: "outsider", WorkspaceID: wsOther, CategoryID: catOth,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 7),
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsOther, RequestID: res.Request.ID})
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestCrossTenantCategory_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateLeaveRequest(context.Background(), hr.CreateLeaveCommand{
		ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catOth,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 7),
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCrossTenantRequest_NotFound(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, "emp", 7, 8)

	_, err := f.svc.ApproveLeave(context.Background(), hr.RequestCommand{ActorID: "hr", WorkspaceID: wsOther, RequestID: req.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrNotFound) || errors.Is(err, generic.ErrForbidden))
}

// =============================================================================
// EMPLOYMENT STATUS
// =============================================================================

func TestApprove_NonActiveEmployee_InvalidEmployeeState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "emp", 7, 8)

	_, err := f.svc.DeactivateEmployee(ctx, hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp"})
	require.NoError(t, err)

	_, err = f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.ErrorIs(t, err, generic.ErrInvalidEmployeeState)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 2, 18)

	_, err = f.svc.ActivateEmployee(ctx, hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp"})
	require.NoError(t, err)
	_, err = f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID})
	assert.NoError(t, err)
}

func TestActivate_ExitedEmployee_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ActivateEmployee(context.Background(), hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "leaver"})
	assert.ErrorIs(t, err, generic.ErrInvalidEmployeeState)
}

func TestCreate_ExitedEmployee_Rejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateLeaveRequest(context.Background(), hr.CreateLeaveCommand{
		ActorID: "leaver", WorkspaceID: wsAcme, CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 7),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidEmployeeState)
}

// =============================================================================
// BULK MARK & ATTENDANCE
// =============================================================================

func TestBulkMark_Pending(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.BulkMarkLeave(context.Background(), hr.BulkMarkCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 5, 5), EndDate: generic.NewTimePoint(2025, 5, 5),
		TimePeriod: timeoff.FirstHalf, TargetStatus: timeoff.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, res.Request.Status)
	assert.Equal(t, generic.UserID("emp"), res.Request.UserID)
	assert.Equal(t, generic.UserID("hr"), res.Request.CreatedBy)
	assert.Equal(t, hr.EventLeaveMarked, res.Event.Kind)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 0.5, 19.5)
}

func TestBulkMark_InvalidTargetStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BulkMarkLeave(context.Background(), hr.BulkMarkCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 5, 5), EndDate: generic.NewTimePoint(2025, 5, 5),
		TargetStatus: timeoff.StatusRejected,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestApprove_PreservesCheckInOnExistingAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkIn := clock.Add(-time.Hour)
	day := generic.NewTimePoint(2025, 4, 7)
	require.NoError(t, f.store.UpsertAttendance(ctx, timeoff.AttendanceRecord{
		UserID: "emp", WorkspaceID: wsAcme, Date: day, Status: timeoff.AttendancePresent, CheckIn: &checkIn,
	}))

	res, err := f.svc.CreateLeaveRequest(ctx, hr.CreateLeaveCommand{
		ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catAL, StartDate: day, EndDate: day, TimePeriod: timeoff.SecondHalf,
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveLeave(ctx, hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: res.Request.ID})
	require.NoError(t, err)

	rec, err := f.store.GetAttendance(ctx, "emp", day)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, timeoff.AttendanceHalfDayLeave, rec.Status)
	require.NotNil(t, rec.CheckIn)
	assert.Equal(t, checkIn, *rec.CheckIn)
}

func TestOverrideAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := generic.NewTimePoint(2025, 4, 9)

	res, err := f.svc.OverrideAttendance(ctx, hr.OverrideAttendanceCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", Date: day,
		Status: timeoff.AttendanceWorkFromHome, Notes: "approved remote day",
	})
	require.NoError(t, err)
	require.Len(t, res.Attendance, 1)
	assert.Equal(t, timeoff.MarkerHROverride, res.Attendance[0].Marker)

	_, err = f.svc.OverrideAttendance(ctx, hr.OverrideAttendanceCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "leaver", Date: day, Status: timeoff.AttendancePresent,
	})
	assert.ErrorIs(t, err, generic.ErrInvalidEmployeeState)
}

// =============================================================================
// CARRY FORWARD & RECALCULATION
// =============================================================================

func TestApplyCarryForward_Capped(t *testing.T) {
	// GIVEN: 2025 available 8, cap 5
	// THEN: 2026 carriedForward 5, totalQuota 25

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.BulkMarkLeave(ctx, hr.BulkMarkCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 8, 1), EndDate: generic.NewTimePoint(2025, 8, 12),
		TargetStatus: timeoff.StatusApproved,
	})
	require.NoError(t, err)
	assertBalance(t, f.balance(t, "emp"), 20, 12, 0, 8)

	res, err := f.svc.ApplyCarryForward(ctx, hr.CarryForwardCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL, FromYear: 2025,
	})
	require.NoError(t, err)
	assert.True(t, res.CarryForward.Carried.Equal(generic.NewDays(5)))
	assert.Equal(t, 2026, res.Balance.Key.Year)
	assert.True(t, res.Balance.CarriedForward.Equal(generic.NewDays(5)))
	assert.True(t, res.Balance.TotalQuota.Equal(generic.NewDays(25)))
	assert.Equal(t, hr.EventCarryForwardApplied, res.Event.Kind)
}

func TestApplyCarryForward_NoLeaveTaken(t *testing.T) {
	// GIVEN: emp took no leave in 2025, so no 2025 balance is stored
	// WHEN: HR carries 2025 forward
	// THEN: The cap of 5 moves into 2026 and the 2025 balance still reads 20/20

	f := newFixture(t)
	ctx := context.Background()
	before := f.balance(t, "emp")
	assert.Equal(t, int64(0), before.Version)

	res, err := f.svc.ApplyCarryForward(ctx, hr.CarryForwardCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL, FromYear: 2025,
	})
	require.NoError(t, err)
	assert.True(t, res.CarryForward.Carried.Equal(generic.NewDays(5)))
	assert.Equal(t, 2026, res.Balance.Key.Year)
	assertBalance(t, *res.Balance, 25, 0, 0, 25)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 0, 20)
}

func TestApplyCarryForward_CommunityTierForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ChangeWorkspaceKind(ctx, hr.ChangeWorkspaceKindCommand{ActorID: "root", WorkspaceID: wsAcme, Kind: tenancy.KindCommunity})
	require.NoError(t, err)

	_, err = f.svc.ApplyCarryForward(ctx, hr.CarryForwardCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL, FromYear: 2025,
	})
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestRecalculateBalance_MissingBalance(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecalculateBalance(context.Background(), hr.RecalculateCommand{
		ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp", CategoryID: catAL, Year: 2025,
	})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// AUDIT & DISPATCH
// =============================================================================

func TestAuditAndEventPerAction(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, "emp", 7, 8)
	_, err := f.svc.ApproveLeave(context.Background(), hr.RequestCommand{ActorID: "hr", WorkspaceID: wsAcme, RequestID: req.ID, SourceIP: "10.0.0.1"})
	require.NoError(t, err)

	entries := f.store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, string(hr.EventLeaveRequested), entries[0].Action)
	assert.Equal(t, string(hr.EventLeaveApproved), entries[1].Action)
	assert.Equal(t, generic.UserID("hr"), entries[1].ActorID)
	assert.Equal(t, hr.EntityLeaveRequest, entries[1].EntityType)
	assert.Equal(t, string(req.ID), entries[1].EntityID)
	assert.Equal(t, "10.0.0.1", entries[1].SourceIP)

	assert.Equal(t, []hr.EventKind{hr.EventLeaveRequested, hr.EventLeaveApproved}, f.dispatcher.kinds)
}

func TestAuditAndDispatchFailures_NotFatal(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.failed = true
	svc := hr.NewService(hr.Config{Store: f.store, AuditLog: failingAudit{}, Dispatcher: f.dispatcher})

	res, err := svc.CreateLeaveRequest(context.Background(), hr.CreateLeaveCommand{
		ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 7),
	})
	require.NoError(t, err)
	assert.Equal(t, hr.EventLeaveRequested, res.Event.Kind)
	assertBalance(t, f.balance(t, "emp"), 20, 0, 1, 19)
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

func TestCreateCategory_AndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateCategory(ctx, hr.CreateCategoryCommand{
		ActorID: "hr", WorkspaceID: wsAcme, Name: "Sick Leave", Code: "SL", AnnualQuota: generic.NewDays(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "SL", res.Category.Code)

	_, err = f.svc.CreateCategory(ctx, hr.CreateCategoryCommand{ActorID: "emp", WorkspaceID: wsAcme, Name: "X", Code: "X"})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	cats, err := f.svc.ListCategories(ctx, "emp", wsAcme)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestAddMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddMember(ctx, hr.AddMemberCommand{ActorID: "hr", WorkspaceID: wsAcme, UserID: "outsider", Role: tenancy.RoleEmployee})
	assert.ErrorIs(t, err, generic.ErrForbidden, "hr is not a workspace administrator")

	res, err := f.svc.AddMember(ctx, hr.AddMemberCommand{ActorID: "admin", WorkspaceID: wsAcme, UserID: "outsider", Role: tenancy.RoleManager})
	require.NoError(t, err)
	m, ok := res.User.MembershipFor(wsAcme)
	require.True(t, ok)
	assert.Equal(t, tenancy.RoleManager, m.Role)
	assert.Equal(t, wsOther, res.User.LegacyWorkspaceID, "current workspace unchanged")
}

func TestAddMember_ConcurrentWorkspacesKeepBothMemberships(t *testing.T) {
	// GIVEN: A user with no memberships
	// WHEN: Two administrators add them to different workspaces at once
	// THEN: Both memberships are stored

	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f.store, "newbie", hr.EmploymentActive, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ws := range []generic.WorkspaceID{wsAcme, wsOther} {
		wg.Add(1)
		go func(i int, ws generic.WorkspaceID) {
			defer wg.Done()
			_, errs[i] = f.svc.AddMember(ctx, hr.AddMemberCommand{ActorID: "root", WorkspaceID: ws, UserID: "newbie", Role: tenancy.RoleEmployee})
		}(i, ws)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	u, err := f.store.GetUser(ctx, "newbie")
	require.NoError(t, err)
	for _, ws := range []generic.WorkspaceID{wsAcme, wsOther} {
		m, ok := u.MembershipFor(ws)
		require.True(t, ok, "membership in %s", ws)
		assert.True(t, m.Active)
	}
	assert.Equal(t, int64(3), u.Version)
}

func TestAddMember_MemberCapUnderConcurrency(t *testing.T) {
	// GIVEN: A community workspace one seat below its 25-member cap
	// WHEN: Five different users are added concurrently
	// THEN: Exactly one is admitted and the rest fail validation

	f := newFixture(t)
	ctx := context.Background()
	n, err := f.store.CountMembers(ctx, wsOther)
	require.NoError(t, err)
	for i := n; i < 24; i++ {
		seedUser(t, f.store, generic.UserID(fmt.Sprintf("member-%02d", i)), hr.EmploymentActive,
			map[generic.WorkspaceID]tenancy.Role{wsOther: tenancy.RoleEmployee})
	}
	candidates := []generic.UserID{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range candidates {
		seedUser(t, f.store, id, hr.EmploymentActive, nil)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		refused  int
	)
	for _, id := range candidates {
		wg.Add(1)
		go func(id generic.UserID) {
			defer wg.Done()
			_, err := f.svc.AddMember(ctx, hr.AddMemberCommand{ActorID: "root", WorkspaceID: wsOther, UserID: id, Role: tenancy.RoleEmployee})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if errors.Is(err, generic.ErrValidation) {
				refused++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, 4, refused)
	n, err = f.store.CountMembers(ctx, wsOther)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestDeactivateMember(t *testing.T) {
	// GIVEN: emp is an active member of Acme
	// WHEN: The Acme admin deactivates the membership
	// THEN: emp can no longer act in Acme, and the change is audited

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.DeactivateMember(ctx, hr.DeactivateMemberCommand{ActorID: "hr", WorkspaceID: wsAcme, UserID: "emp"})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.svc.DeactivateMember(ctx, hr.DeactivateMemberCommand{ActorID: "admin", WorkspaceID: wsAcme, UserID: "admin"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	res, err := f.svc.DeactivateMember(ctx, hr.DeactivateMemberCommand{
		ActorID: "admin", WorkspaceID: wsAcme, UserID: "emp", Reason: "contract ended", SourceIP: "10.0.0.2",
	})
	require.NoError(t, err)
	assert.Equal(t, hr.EventMemberDeactivated, res.Event.Kind)
	assert.Equal(t, "employee", res.Event.Payload.Fields["role"])
	m, ok := res.User.MembershipFor(wsAcme)
	require.True(t, ok)
	assert.False(t, m.Active)

	stored, err := f.store.GetUser(ctx, "emp")
	require.NoError(t, err)
	_, hasCurrent := stored.CurrentWorkspace()
	assert.False(t, hasCurrent)
	assert.Empty(t, stored.LegacyWorkspaceID)
	assert.Empty(t, stored.LegacyRole)

	_, err = f.svc.CreateLeaveRequest(ctx, hr.CreateLeaveCommand{
		ActorID: "emp", WorkspaceID: wsAcme, CategoryID: catAL,
		StartDate: generic.NewTimePoint(2025, 4, 7), EndDate: generic.NewTimePoint(2025, 4, 7),
	})
	assert.ErrorIs(t, err, generic.ErrNotMember)

	_, err = f.svc.DeactivateMember(ctx, hr.DeactivateMemberCommand{ActorID: "admin", WorkspaceID: wsAcme, UserID: "emp"})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	entries := f.store.AuditEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, string(hr.EventMemberDeactivated), last.Action)
	assert.Equal(t, hr.EntityMembership, last.EntityType)
	assert.Equal(t, "emp", last.EntityID)
	assert.Equal(t, "10.0.0.2", last.SourceIP)
}

func TestSwitchWorkspace_PersistsCurrentAndLegacy(t *testing.T) {
	// GIVEN: outsider belongs to Other (current) and is added to Acme as manager
	// WHEN: outsider switches to Acme, then Acme revokes the membership
	// THEN: The stored current workspace and legacy pair follow each step

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddMember(ctx, hr.AddMemberCommand{ActorID: "admin", WorkspaceID: wsAcme, UserID: "outsider", Role: tenancy.RoleManager})
	require.NoError(t, err)

	res, err := f.svc.SwitchWorkspace(ctx, hr.SwitchWorkspaceCommand{ActorID: "outsider", WorkspaceID: wsAcme})
	require.NoError(t, err)
	assert.Equal(t, hr.EventWorkspaceSwitched, res.Event.Kind)
	assert.Equal(t, string(wsOther), res.Event.Payload.Fields["previousWorkspaceId"])

	stored, err := f.store.GetUser(ctx, "outsider")
	require.NoError(t, err)
	current, ok := stored.CurrentWorkspace()
	require.True(t, ok)
	assert.Equal(t, wsAcme, current)
	assert.Equal(t, wsAcme, stored.LegacyWorkspaceID)
	assert.Equal(t, tenancy.RoleManager, stored.LegacyRole)

	_, err = f.svc.DeactivateMember(ctx, hr.DeactivateMemberCommand{ActorID: "admin", WorkspaceID: wsAcme, UserID: "outsider"})
	require.NoError(t, err)

	stored, err = f.store.GetUser(ctx, "outsider")
	require.NoError(t, err)
	current, ok = stored.CurrentWorkspace()
	require.True(t, ok)
	assert.Equal(t, wsOther, current)
	assert.Equal(t, wsOther, stored.LegacyWorkspaceID)
	assert.Equal(t, tenancy.RoleEmployee, stored.LegacyRole)
}

func TestSwitchWorkspace_NotMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SwitchWorkspace(context.Background(), hr.SwitchWorkspaceCommand{ActorID: "emp", WorkspaceID: wsOther})
	assert.ErrorIs(t, err, generic.ErrNotMember)
}

// racingStore lets another writer commit between the service's read of an
// employee and its write.
type racingStore struct {
	*memory.Memory
	interleave func()
}

func (s *racingStore) GetEmployee(ctx context.Context, id generic.UserID) (*hr.Employee, error) {
	e, err := s.Memory.GetEmployee(ctx, id)
	if s.interleave != nil {
		s.interleave()
		s.interleave = nil
	}
	return e, err
}

func TestChangeEmployment_StaleReadConflicts(t *testing.T) {
	// GIVEN: emp is ACTIVE when HR's deactivation reads the record
	// WHEN: Another writer moves emp to ON_NOTICE before the write lands
	// THEN: The deactivation fails with a conflict and ON_NOTICE survives

	f := newFixture(t)
	ctx := context.Background()
	store := &racingStore{Memory: f.store, interleave: func() {
		require.NoError(t, f.store.SaveEmployee(ctx, hr.Employee{UserID: "emp", Status: hr.EmploymentOnNotice, UpdatedAt: clock}))
	}}
	d := &recordingDispatcher{}
	svc := hr.NewService(hr.Config{Store: store, Dispatcher: d, Now: func() time.Time { return clock }})

	_, err := svc.DeactivateEmployee(ctx, hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp"})
	assert.ErrorIs(t, err, generic.ErrConflict)
	assert.Empty(t, d.kinds)

	e, err := f.store.GetEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, hr.EmploymentOnNotice, e.Status)
	assert.Equal(t, int64(2), e.Version)
}

func TestChangeEmployment_BumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.DeactivateEmployee(ctx, hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Employee.Version)

	res, err = f.svc.ActivateEmployee(ctx, hr.EmployeeCommand{ActorID: "hr", WorkspaceID: wsAcme, SubjectUserID: "emp"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Employee.Version)
	assert.Equal(t, "INACTIVE", res.Event.Payload.Fields["previousStatus"])
}

func TestListRequests_EmployeeSeesOwnOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f.store, "emp2", hr.EmploymentActive, map[generic.WorkspaceID]tenancy.Role{wsAcme: tenancy.RoleEmployee})
	f.create(t, "emp", 7, 7)
	f.create(t, "emp2", 8, 8)

	own, err := f.svc.ListRequests(ctx, hr.ListRequestsQuery{ActorID: "emp", WorkspaceID: wsAcme})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, generic.UserID("emp"), own[0].UserID)

	_, err = f.svc.ListRequests(ctx, hr.ListRequestsQuery{ActorID: "emp", WorkspaceID: wsAcme, UserID: "emp2"})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	all, err := f.svc.ListRequests(ctx, hr.ListRequestsQuery{ActorID: "hr", WorkspaceID: wsAcme})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestValidation_MissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateLeaveRequest(context.Background(), hr.CreateLeaveCommand{ActorID: "emp", WorkspaceID: wsAcme})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.Contains(t, err.Error(), "CategoryID")
	assert.Contains(t, err.Error(), "StartDate")
}
