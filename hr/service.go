/*
Package hr is the HR action service: the only code allowed to mutate a
leave balance.

PURPOSE:
  Every public operation follows the same five steps:
    1. authorize the actor against the target workspace (tenancy.Resolver)
    2. check the subject's employment status where the action needs it
    3. apply the request transition and ledger operation in ONE store
       transaction (timeoff.Store.WithTx), serialized per balance key
    4. record an audit entry (failures are logged, never returned)
    5. build the typed domain Event, forward it to the Dispatcher
       (best-effort) and return it

  A failure in steps 1-3 returns a typed error (generic.Kind) and leaves
  nothing written. Steps 4-5 run after commit and cannot undo it.

CONCURRENCY:
  Two operations on the same (user, category, year) key are serialized by
  a KeyLocker inside this process. Across processes the store's version
  check turns a lost race into ErrConflict. Employee and user rows are
  versioned the same way, and membership changes read the user and the
  workspace head count in the same transaction that writes them. Nothing
  is retried here; the caller decides.

SEE ALSO:
  - leave.go: request lifecycle operations
  - employees.go: employment and attendance operations
  - balances.go: carry-forward, recalculation and queries
  - workspace.go: catalog and membership administration
*/
package hr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SERVICE
// =============================================================================

type Config struct {
	Store      Store
	Directory  EmploymentDirectory // defaults to StoreDirectory{Store}
	AuditLog   AuditLog            // optional
	Dispatcher Dispatcher          // optional
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	store      Store
	resolver   *tenancy.Resolver
	catalog    *timeoff.Catalog
	directory  EmploymentDirectory
	audit      AuditLog
	dispatcher Dispatcher
	locks      *generic.KeyLocker
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:      cfg.Store,
		resolver:   tenancy.NewResolver(cfg.Store),
		catalog:    timeoff.NewCatalog(cfg.Store),
		directory:  cfg.Directory,
		audit:      cfg.AuditLog,
		dispatcher: cfg.Dispatcher,
		locks:      generic.NewKeyLocker(),
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if s.directory == nil {
		s.directory = StoreDirectory{Store: cfg.Store}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Result is what a successful operation returns. Only the fields relevant
// to the operation are set; Event is always set.
type Result struct {
	Request      *timeoff.LeaveRequest
	Balance      *generic.Balance
	Attendance   []timeoff.AttendanceRecord
	Employee     *Employee
	Category     *timeoff.Category
	User         *tenancy.User
	Workspace    *tenancy.Workspace
	CarryForward *generic.CarryForwardResult
	Event        Event
}

// =============================================================================
// HELPERS - authorization & lookups
// =============================================================================

func (s *Service) ledger(tx generic.BalanceStore) *generic.Ledger {
	return &generic.Ledger{Store: tx, Now: s.now}
}

// requireStatus fails with InvalidEmployeeState unless the user's
// employment status is one of allowed.
func (s *Service) requireStatus(ctx context.Context, userID generic.UserID, allowed ...EmploymentStatus) error {
	status, err := s.directory.GetEmploymentStatus(ctx, userID)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		if status == a {
			return nil
		}
	}
	return generic.InvalidEmployeeState("employee %s is %s", userID, status)
}

// subjectOf loads a user who must be an active member of the workspace.
func (s *Service) subjectOf(ctx context.Context, workspaceID generic.WorkspaceID, userID generic.UserID) (tenancy.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return tenancy.User{}, generic.Internal(err, "load user %s", userID)
	}
	if u == nil {
		return tenancy.User{}, generic.NotFound("employee %s not found", userID)
	}
	m, ok := u.MembershipFor(workspaceID)
	if !ok || !m.Active {
		return tenancy.User{}, generic.NotFound("employee %s not found in workspace %s", userID, workspaceID)
	}
	return *u, nil
}

// authorizeSubject runs HR authorization, the subject lookup and the
// subject's employment check concurrently. Pass no statuses to skip the
// employment check.
func (s *Service) authorizeSubject(ctx context.Context, actorID generic.UserID, workspaceID generic.WorkspaceID, subjectID generic.UserID, statuses ...EmploymentStatus) (tenancy.Access, tenancy.User, error) {
	var (
		access  tenancy.Access
		subject tenancy.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.resolver.AuthorizeHR(gctx, actorID, workspaceID)
		access = a
		return err
	})
	g.Go(func() error {
		u, err := s.subjectOf(gctx, workspaceID, subjectID)
		subject = u
		return err
	})
	if len(statuses) > 0 {
		g.Go(func() error {
			return s.requireStatus(gctx, subjectID, statuses...)
		})
	}
	if err := g.Wait(); err != nil {
		return tenancy.Access{}, tenancy.User{}, err
	}
	return access, subject, nil
}

// loadRequest returns a request only if it belongs to the workspace.
func loadRequest(ctx context.Context, tx timeoff.Tx, workspaceID generic.WorkspaceID, id generic.RequestID) (timeoff.LeaveRequest, error) {
	r, err := tx.GetRequest(ctx, id)
	if err != nil {
		return timeoff.LeaveRequest{}, generic.Internal(err, "load request %s", id)
	}
	if r == nil || r.WorkspaceID != workspaceID {
		return timeoff.LeaveRequest{}, generic.NotFound("leave request %s not found", id)
	}
	return *r, nil
}

func requireFeature(ws tenancy.Workspace, f tenancy.Feature) error {
	if !ws.HasFeature(f) {
		return generic.Forbidden("%s is not available for %s workspaces", f, ws.Kind)
	}
	return nil
}

// =============================================================================
// HELPERS - writes
// =============================================================================

func (s *Service) insertRequest(ctx context.Context, tx timeoff.Tx, r *timeoff.LeaveRequest) error {
	r.Version = 1
	if err := tx.InsertRequest(ctx, *r); err != nil {
		return storeErr(err, "insert request %s", r.ID)
	}
	return nil
}

// updateRequest writes next over current with a version check.
func (s *Service) updateRequest(ctx context.Context, tx timeoff.Tx, current timeoff.LeaveRequest, next *timeoff.LeaveRequest) error {
	next.Version = current.Version + 1
	if err := tx.UpdateRequest(ctx, *next, current.Version); err != nil {
		return storeErr(err, "update request %s", next.ID)
	}
	return nil
}

// writeLeaveAttendance upserts the attendance rows of an approved request.
func (s *Service) writeLeaveAttendance(ctx context.Context, tx timeoff.Tx, r timeoff.LeaveRequest, categoryCode string) ([]timeoff.AttendanceRecord, error) {
	planned := timeoff.PlanLeaveAttendance(r, categoryCode, s.now())
	written := make([]timeoff.AttendanceRecord, 0, len(planned))
	for _, p := range planned {
		rec, err := upsertAttendance(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		written = append(written, rec)
	}
	return written, nil
}

func upsertAttendance(ctx context.Context, tx timeoff.Tx, update timeoff.AttendanceRecord) (timeoff.AttendanceRecord, error) {
	existing, err := tx.GetAttendance(ctx, update.UserID, update.Date)
	if err != nil {
		return timeoff.AttendanceRecord{}, generic.Internal(err, "load attendance %s/%s", update.UserID, update.Date)
	}
	if existing != nil && existing.WorkspaceID != "" && existing.WorkspaceID != update.WorkspaceID {
		return timeoff.AttendanceRecord{}, generic.Conflict("attendance for %s on %s belongs to another workspace", update.UserID, update.Date)
	}
	rec := update.Apply(existing)
	if err := tx.UpsertAttendance(ctx, rec); err != nil {
		return timeoff.AttendanceRecord{}, storeErr(err, "upsert attendance %s/%s", rec.UserID, rec.Date)
	}
	return rec, nil
}

func storeErr(err error, format string, args ...any) error {
	var e *generic.Error
	if errors.As(err, &e) || errors.Is(err, generic.ErrConflict) {
		return err
	}
	return generic.Internal(err, format, args...)
}

// =============================================================================
// HELPERS - after commit
// =============================================================================

func (s *Service) newEvent(kind EventKind, workspaceID generic.WorkspaceID, actorID generic.UserID, subject tenancy.User, fields map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		Payload: Payload{
			SubjectUserID: subject.ID,
			SubjectEmail:  subject.Email,
			SubjectName:   subject.Name,
			Fields:        fields,
		},
		OccurredAt: s.now(),
	}
}

// publish records the audit entry and forwards the event. The primary
// operation has already committed, so failures are only logged.
func (s *Service) publish(ctx context.Context, e Event, entityType, entityID, sourceIP string) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("event", e.Kind, "workspace_id", e.WorkspaceID, "entity_id", entityID)

	if s.audit != nil {
		entry := AuditEntry{
			ID:          uuid.NewString(),
			ActorID:     e.ActorID,
			WorkspaceID: e.WorkspaceID,
			Action:      string(e.Kind),
			EntityType:  entityType,
			EntityID:    entityID,
			Details:     e.Payload.Fields,
			SourceIP:    sourceIP,
			CreatedAt:   e.OccurredAt,
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			log.WarnContext(ctx, "audit write failed", "error", err)
		}
	}

	if s.dispatcher != nil {
		res, err := s.dispatcher.Handle(ctx, e.Kind, e.Payload, e.WorkspaceID)
		if err != nil {
			log.WarnContext(ctx, "event dispatch failed", "error", err)
			return
		}
		log.DebugContext(ctx, "event dispatched", "template", res.Template, "delivered", res.Delivered)
	}
}

func requestFields(r timeoff.LeaveRequest, cat timeoff.Category) map[string]any {
	f := map[string]any{
		"requestId":    string(r.ID),
		"categoryId":   string(r.CategoryID),
		"categoryCode": cat.Code,
		"categoryName": cat.Name,
		"startDate":    r.StartDate.String(),
		"endDate":      r.EndDate.String(),
		"timePeriod":   string(r.TimePeriod),
		"days":         r.Days.String(),
		"status":       string(r.Status),
	}
	if r.Reason != "" {
		f["reason"] = r.Reason
	}
	return f
}
