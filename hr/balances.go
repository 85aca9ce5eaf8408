package hr

import (
	"context"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// CARRY FORWARD
// =============================================================================

// ApplyCarryForward moves the subject's unused days for FromYear into the
// next year's balance, capped by the category's MaxCarryForward.
func (s *Service) ApplyCarryForward(ctx context.Context, cmd CarryForwardCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, subject, err := s.authorizeSubject(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.SubjectUserID)
	if err != nil {
		return Result{}, err
	}
	if err := requireFeature(access.Workspace, tenancy.FeatureCarryForward); err != nil {
		return Result{}, err
	}
	cat, err := s.catalog.GetCategory(ctx, cmd.WorkspaceID, cmd.CategoryID)
	if err != nil {
		return Result{}, err
	}
	if !cat.CarryForwardAllowed {
		return Result{}, generic.Validation("leave category %s does not allow carry-forward", cat.Code)
	}

	from := generic.BalanceKey{UserID: cmd.SubjectUserID, CategoryID: cat.ID, Year: cmd.FromYear}
	unlock, err := s.locks.Lock(ctx, from, from.Next())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var cf generic.CarryForwardResult
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		var err error
		cf, err = s.ledger(tx).ApplyCarryForward(ctx, cmd.WorkspaceID, from, cat.AnnualQuota, cat.MaxCarryForward)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Balance: &cf.To, CarryForward: &cf}
	res.Event = s.newEvent(EventCarryForwardApplied, cmd.WorkspaceID, cmd.ActorID, subject, map[string]any{
		"categoryCode": cat.Code,
		"fromYear":     cmd.FromYear,
		"toYear":       cf.To.Key.Year,
		"carried":      cf.Carried.String(),
		"totalQuota":   cf.To.TotalQuota.String(),
	})
	s.publish(ctx, res.Event, EntityBalance, cf.To.ID, cmd.SourceIP)
	return res, nil
}

// =============================================================================
// RECALCULATE
// =============================================================================

// RecalculateBalance re-derives total quota from the category's current
// annual quota plus the balance's carried-forward days.
func (s *Service) RecalculateBalance(ctx context.Context, cmd RecalculateCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	_, subject, err := s.authorizeSubject(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.SubjectUserID)
	if err != nil {
		return Result{}, err
	}
	cat, err := s.catalog.GetCategory(ctx, cmd.WorkspaceID, cmd.CategoryID)
	if err != nil {
		return Result{}, err
	}

	key := generic.BalanceKey{UserID: cmd.SubjectUserID, CategoryID: cat.ID, Year: cmd.Year}
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var bal generic.Balance
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		var err error
		bal, err = s.ledger(tx).Recalculate(ctx, cmd.WorkspaceID, key, cat.AnnualQuota)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Balance: &bal}
	res.Event = s.newEvent(EventBalanceRecalculated, cmd.WorkspaceID, cmd.ActorID, subject, map[string]any{
		"categoryCode": cat.Code,
		"year":         cmd.Year,
		"totalQuota":   bal.TotalQuota.String(),
		"available":    bal.Available.String(),
	})
	s.publish(ctx, res.Event, EntityBalance, bal.ID, cmd.SourceIP)
	return res, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetBalance returns a user's balance. Users may read their own; HR roles
// may read anyone's in the workspace. A key that has never been used is
// reported as a fresh, unsaved balance (Version 0).
func (s *Service) GetBalance(ctx context.Context, q BalanceQuery) (generic.Balance, error) {
	if err := validateCommand(q); err != nil {
		return generic.Balance{}, err
	}
	access, err := s.resolver.Resolve(ctx, q.ActorID, q.WorkspaceID)
	if err != nil {
		return generic.Balance{}, err
	}
	if q.UserID != q.ActorID && !tenancy.IsHRRole(access.Role, access.Workspace.Kind) {
		return generic.Balance{}, generic.Forbidden("role %s may not view other users' balances", access.Role)
	}
	if q.UserID != q.ActorID {
		if _, err := s.subjectOf(ctx, q.WorkspaceID, q.UserID); err != nil {
			return generic.Balance{}, err
		}
	}
	cat, err := s.catalog.GetCategory(ctx, q.WorkspaceID, q.CategoryID)
	if err != nil {
		return generic.Balance{}, err
	}

	key := generic.BalanceKey{UserID: q.UserID, CategoryID: cat.ID, Year: q.Year}
	b, _, err := s.ledger(s.store).LoadOrInit(ctx, q.WorkspaceID, key, cat.AnnualQuota)
	return b, err
}

// ListRequests lists requests in the workspace, newest first.
func (s *Service) ListRequests(ctx context.Context, q ListRequestsQuery) ([]timeoff.LeaveRequest, error) {
	if err := validateCommand(q); err != nil {
		return nil, err
	}
	access, err := s.resolver.Resolve(ctx, q.ActorID, q.WorkspaceID)
	if err != nil {
		return nil, err
	}
	filter := timeoff.RequestFilter{WorkspaceID: q.WorkspaceID, UserID: q.UserID, Status: q.Status}
	if !tenancy.IsHRRole(access.Role, access.Workspace.Kind) {
		if q.UserID != "" && q.UserID != q.ActorID {
			return nil, generic.Forbidden("role %s may only list its own requests", access.Role)
		}
		filter.UserID = q.ActorID
	}
	reqs, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, generic.Internal(err, "list requests")
	}
	return reqs, nil
}

// GetRequest returns one request to its owner or to an HR role.
func (s *Service) GetRequest(ctx context.Context, actorID generic.UserID, workspaceID generic.WorkspaceID, id generic.RequestID) (timeoff.LeaveRequest, error) {
	access, err := s.resolver.Resolve(ctx, actorID, workspaceID)
	if err != nil {
		return timeoff.LeaveRequest{}, err
	}
	req, err := loadRequest(ctx, s.store, workspaceID, id)
	if err != nil {
		return timeoff.LeaveRequest{}, err
	}
	if req.UserID != actorID && !tenancy.IsHRRole(access.Role, access.Workspace.Kind) {
		return timeoff.LeaveRequest{}, generic.NotFound("leave request %s not found", id)
	}
	return req, nil
}

// ListAttendance returns a user's attendance for a period, self or HR.
func (s *Service) ListAttendance(ctx context.Context, actorID generic.UserID, workspaceID generic.WorkspaceID, userID generic.UserID, period generic.Period) ([]timeoff.AttendanceRecord, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	access, err := s.resolver.Resolve(ctx, actorID, workspaceID)
	if err != nil {
		return nil, err
	}
	if userID != actorID && !tenancy.IsHRRole(access.Role, access.Workspace.Kind) {
		return nil, generic.Forbidden("role %s may not view other users' attendance", access.Role)
	}
	recs, err := s.store.ListAttendance(ctx, userID, period)
	if err != nil {
		return nil, generic.Internal(err, "list attendance for %s", userID)
	}
	out := recs[:0]
	for _, r := range recs {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}
