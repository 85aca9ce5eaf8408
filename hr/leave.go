package hr

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// CREATE - employee submits a request
// =============================================================================

// CreateLeaveRequest reserves the requested days and stores a pending
// request. Fails InsufficientBalance when the balance cannot cover it.
func (s *Service) CreateLeaveRequest(ctx context.Context, cmd CreateLeaveCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	var (
		access tenancy.Access
		cat    timeoff.Category
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.resolver.Resolve(gctx, cmd.ActorID, cmd.WorkspaceID)
		access = a
		return err
	})
	g.Go(func() error {
		c, err := s.catalog.ActiveCategory(gctx, cmd.WorkspaceID, cmd.CategoryID)
		cat = c
		return err
	})
	g.Go(func() error {
		return s.requireStatus(gctx, cmd.ActorID, EmploymentActive, EmploymentOnNotice)
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if cmd.TimePeriod.IsHalfDay() {
		if err := requireFeature(access.Workspace, tenancy.FeatureHalfDayLeave); err != nil {
			return Result{}, err
		}
	}

	req, err := timeoff.NewLeaveRequest(generic.RequestID(uuid.NewString()), timeoff.Draft{
		WorkspaceID: cmd.WorkspaceID,
		UserID:      cmd.ActorID,
		CategoryID:  cat.ID,
		StartDate:   cmd.StartDate,
		EndDate:     cmd.EndDate,
		TimePeriod:  cmd.TimePeriod,
		Reason:      cmd.Reason,
		CreatedBy:   cmd.ActorID,
	}, s.now())
	if err != nil {
		return Result{}, err
	}

	res, err := s.submit(ctx, req, cat, timeoff.StatusPending)
	if err != nil {
		return Result{}, err
	}

	res.Event = s.newEvent(EventLeaveRequested, cmd.WorkspaceID, cmd.ActorID, access.User, requestFields(*res.Request, cat))
	s.publish(ctx, res.Event, EntityLeaveRequest, string(req.ID), cmd.SourceIP)
	return res, nil
}

// submit reserves and inserts a new request, optionally approving it in
// the same transaction.
func (s *Service) submit(ctx context.Context, req timeoff.LeaveRequest, cat timeoff.Category, target timeoff.RequestStatus) (Result, error) {
	key := req.BalanceKey()
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		ledger := s.ledger(tx)
		bal, err := ledger.Reserve(ctx, req.WorkspaceID, key, cat.AnnualQuota, req.Days)
		if err != nil {
			return err
		}
		if err := s.insertRequest(ctx, tx, &req); err != nil {
			return err
		}

		if target == timeoff.StatusApproved {
			approved, err := req.Approve(req.CreatedBy, s.now())
			if err != nil {
				return err
			}
			if bal, err = ledger.CommitUsed(ctx, req.WorkspaceID, key, req.Days); err != nil {
				return err
			}
			if err := s.updateRequest(ctx, tx, req, &approved); err != nil {
				return err
			}
			if res.Attendance, err = s.writeLeaveAttendance(ctx, tx, approved, cat.Code); err != nil {
				return err
			}
			req = approved
		}

		res.Request = &req
		res.Balance = &bal
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// =============================================================================
// APPROVE / REJECT - HR resolves a pending request
// =============================================================================

// ApproveLeave converts the request's reservation into used days and marks
// attendance for every day it covers. The subject must be ACTIVE.
func (s *Service) ApproveLeave(ctx context.Context, cmd RequestCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, req, subject, err := s.authorizeOnRequest(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.RequestID, true)
	if err != nil {
		return Result{}, err
	}

	var cat timeoff.Category
	res, err := s.resolve(ctx, req, func(tx timeoff.Tx, current timeoff.LeaveRequest, ledger *generic.Ledger) (timeoff.LeaveRequest, generic.Balance, []timeoff.AttendanceRecord, error) {
		next, err := current.Approve(cmd.ActorID, s.now())
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		if cat, err = timeoff.LookupCategory(ctx, tx, current.WorkspaceID, current.CategoryID); err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		bal, err := ledger.CommitUsed(ctx, current.WorkspaceID, current.BalanceKey(), current.Days)
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		if err := s.updateRequest(ctx, tx, current, &next); err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		att, err := s.writeLeaveAttendance(ctx, tx, next, cat.Code)
		return next, bal, att, err
	})
	if err != nil {
		return Result{}, err
	}

	fields := requestFields(*res.Request, cat)
	fields["approvedBy"] = access.User.Name
	res.Event = s.newEvent(EventLeaveApproved, cmd.WorkspaceID, cmd.ActorID, subject, fields)
	s.publish(ctx, res.Event, EntityLeaveRequest, string(res.Request.ID), cmd.SourceIP)
	return res, nil
}

// RejectLeave releases the request's reservation. A reason is required.
func (s *Service) RejectLeave(ctx context.Context, cmd RejectCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, req, subject, err := s.authorizeOnRequest(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.RequestID, false)
	if err != nil {
		return Result{}, err
	}

	var cat timeoff.Category
	res, err := s.resolve(ctx, req, func(tx timeoff.Tx, current timeoff.LeaveRequest, ledger *generic.Ledger) (timeoff.LeaveRequest, generic.Balance, []timeoff.AttendanceRecord, error) {
		next, err := current.Reject(cmd.ActorID, cmd.Reason, s.now())
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		if cat, err = timeoff.LookupCategory(ctx, tx, current.WorkspaceID, current.CategoryID); err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		bal, err := ledger.ReleasePending(ctx, current.WorkspaceID, current.BalanceKey(), current.Days)
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		err = s.updateRequest(ctx, tx, current, &next)
		return next, bal, nil, err
	})
	if err != nil {
		return Result{}, err
	}

	fields := requestFields(*res.Request, cat)
	fields["rejectionReason"] = res.Request.RejectionReason
	fields["rejectedBy"] = access.User.Name
	res.Event = s.newEvent(EventLeaveRejected, cmd.WorkspaceID, cmd.ActorID, subject, fields)
	s.publish(ctx, res.Event, EntityLeaveRequest, string(res.Request.ID), cmd.SourceIP)
	return res, nil
}

// =============================================================================
// CANCEL - the requester withdraws a pending request
// =============================================================================

func (s *Service) CancelLeave(ctx context.Context, cmd RequestCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	var (
		access tenancy.Access
		req    timeoff.LeaveRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.resolver.Resolve(gctx, cmd.ActorID, cmd.WorkspaceID)
		access = a
		return err
	})
	g.Go(func() error {
		r, err := loadRequest(gctx, s.store, cmd.WorkspaceID, cmd.RequestID)
		req = r
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var cat timeoff.Category
	res, err := s.resolve(ctx, req, func(tx timeoff.Tx, current timeoff.LeaveRequest, ledger *generic.Ledger) (timeoff.LeaveRequest, generic.Balance, []timeoff.AttendanceRecord, error) {
		next, err := current.Cancel(cmd.ActorID, s.now())
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		if cat, err = timeoff.LookupCategory(ctx, tx, current.WorkspaceID, current.CategoryID); err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		bal, err := ledger.ReleasePending(ctx, current.WorkspaceID, current.BalanceKey(), current.Days)
		if err != nil {
			return timeoff.LeaveRequest{}, generic.Balance{}, nil, err
		}
		err = s.updateRequest(ctx, tx, current, &next)
		return next, bal, nil, err
	})
	if err != nil {
		return Result{}, err
	}

	res.Event = s.newEvent(EventLeaveCancelled, cmd.WorkspaceID, cmd.ActorID, access.User, requestFields(*res.Request, cat))
	s.publish(ctx, res.Event, EntityLeaveRequest, string(res.Request.ID), cmd.SourceIP)
	return res, nil
}

// =============================================================================
// BULK MARK - HR records leave on an employee's behalf
// =============================================================================

// BulkMarkLeave creates a request for another employee with the same
// balance check as CreateLeaveRequest, leaving it pending or approving it
// immediately depending on TargetStatus.
func (s *Service) BulkMarkLeave(ctx context.Context, cmd BulkMarkCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	var cat timeoff.Category
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.catalog.ActiveCategory(gctx, cmd.WorkspaceID, cmd.CategoryID)
		cat = c
		return err
	})
	var (
		access  tenancy.Access
		subject tenancy.User
	)
	g.Go(func() error {
		var err error
		access, subject, err = s.authorizeSubject(gctx, cmd.ActorID, cmd.WorkspaceID, cmd.SubjectUserID, EmploymentActive)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := requireFeature(access.Workspace, tenancy.FeatureBulkMark); err != nil {
		return Result{}, err
	}
	if cmd.TimePeriod.IsHalfDay() {
		if err := requireFeature(access.Workspace, tenancy.FeatureHalfDayLeave); err != nil {
			return Result{}, err
		}
	}

	req, err := timeoff.NewLeaveRequest(generic.RequestID(uuid.NewString()), timeoff.Draft{
		WorkspaceID: cmd.WorkspaceID,
		UserID:      cmd.SubjectUserID,
		CategoryID:  cat.ID,
		StartDate:   cmd.StartDate,
		EndDate:     cmd.EndDate,
		TimePeriod:  cmd.TimePeriod,
		Reason:      cmd.Reason,
		CreatedBy:   cmd.ActorID,
	}, s.now())
	if err != nil {
		return Result{}, err
	}

	res, err := s.submit(ctx, req, cat, cmd.TargetStatus)
	if err != nil {
		return Result{}, err
	}

	fields := requestFields(*res.Request, cat)
	fields["markedBy"] = access.User.Name
	res.Event = s.newEvent(EventLeaveMarked, cmd.WorkspaceID, cmd.ActorID, subject, fields)
	s.publish(ctx, res.Event, EntityLeaveRequest, string(req.ID), cmd.SourceIP)
	return res, nil
}

// =============================================================================
// ANNOTATE - HR notes, allowed in every status
// =============================================================================

func (s *Service) AnnotateRequest(ctx context.Context, cmd AnnotateCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	_, req, subject, err := s.authorizeOnRequest(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.RequestID, false)
	if err != nil {
		return Result{}, err
	}

	var next timeoff.LeaveRequest
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		current, err := loadRequest(ctx, tx, cmd.WorkspaceID, req.ID)
		if err != nil {
			return err
		}
		next = current.Annotate(cmd.Notes, s.now())
		return s.updateRequest(ctx, tx, current, &next)
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Request: &next}
	res.Event = s.newEvent(EventRequestAnnotated, cmd.WorkspaceID, cmd.ActorID, subject, map[string]any{
		"requestId": string(next.ID),
		"status":    string(next.Status),
		"hrNotes":   next.HRNotes,
	})
	s.publish(ctx, res.Event, EntityLeaveRequest, string(next.ID), cmd.SourceIP)
	return res, nil
}

// =============================================================================
// SHARED RESOLUTION FLOW
// =============================================================================

// authorizeOnRequest authorizes an HR actor, loads the request and its
// subject, and optionally requires the subject to be ACTIVE.
func (s *Service) authorizeOnRequest(ctx context.Context, actorID generic.UserID, workspaceID generic.WorkspaceID, id generic.RequestID, requireActive bool) (tenancy.Access, timeoff.LeaveRequest, tenancy.User, error) {
	var (
		access tenancy.Access
		req    timeoff.LeaveRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.resolver.AuthorizeHR(gctx, actorID, workspaceID)
		access = a
		return err
	})
	g.Go(func() error {
		r, err := loadRequest(gctx, s.store, workspaceID, id)
		req = r
		return err
	})
	if err := g.Wait(); err != nil {
		return tenancy.Access{}, timeoff.LeaveRequest{}, tenancy.User{}, err
	}

	var subject tenancy.User
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.store.GetUser(gctx, req.UserID)
		if err != nil {
			return generic.Internal(err, "load user %s", req.UserID)
		}
		if u == nil {
			return generic.NotFound("employee %s not found", req.UserID)
		}
		subject = *u
		return nil
	})
	if requireActive {
		g.Go(func() error {
			return s.requireStatus(gctx, req.UserID, EmploymentActive)
		})
	}
	if err := g.Wait(); err != nil {
		return tenancy.Access{}, timeoff.LeaveRequest{}, tenancy.User{}, err
	}
	return access, req, subject, nil
}

type transition func(tx timeoff.Tx, current timeoff.LeaveRequest, ledger *generic.Ledger) (timeoff.LeaveRequest, generic.Balance, []timeoff.AttendanceRecord, error)

// resolve locks the request's balance key, re-reads the request inside a
// transaction and applies fn. The re-read guarantees fn sees the latest
// committed status, never the copy loaded during authorization.
func (s *Service) resolve(ctx context.Context, req timeoff.LeaveRequest, fn transition) (Result, error) {
	unlock, err := s.locks.Lock(ctx, req.BalanceKey())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		current, err := loadRequest(ctx, tx, req.WorkspaceID, req.ID)
		if err != nil {
			return err
		}
		next, bal, att, err := fn(tx, current, s.ledger(tx))
		if err != nil {
			return err
		}
		res = Result{Request: &next, Balance: &bal, Attendance: att}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
