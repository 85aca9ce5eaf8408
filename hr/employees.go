package hr

import (
	"context"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// EMPLOYMENT LIFECYCLE
// =============================================================================

// ActivateEmployee sets a non-exited employee back to ACTIVE.
func (s *Service) ActivateEmployee(ctx context.Context, cmd EmployeeCommand) (Result, error) {
	return s.changeEmployment(ctx, cmd, EventEmployeeActivated, func(e Employee) (EmploymentStatus, error) {
		switch e.Status {
		case EmploymentExited:
			return "", generic.InvalidEmployeeState("employee %s has exited and cannot be reactivated", e.UserID)
		case EmploymentActive:
			return "", generic.InvalidEmployeeState("employee %s is already active", e.UserID)
		}
		return EmploymentActive, nil
	})
}

// DeactivateEmployee sets an active or on-notice employee to INACTIVE.
func (s *Service) DeactivateEmployee(ctx context.Context, cmd EmployeeCommand) (Result, error) {
	return s.changeEmployment(ctx, cmd, EventEmployeeDeactivated, func(e Employee) (EmploymentStatus, error) {
		switch e.Status {
		case EmploymentActive, EmploymentOnNotice:
			return EmploymentInactive, nil
		}
		return "", generic.InvalidEmployeeState("employee %s is %s and cannot be deactivated", e.UserID, e.Status)
	})
}

func (s *Service) changeEmployment(ctx context.Context, cmd EmployeeCommand, kind EventKind, next func(Employee) (EmploymentStatus, error)) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	_, subject, err := s.authorizeSubject(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.SubjectUserID)
	if err != nil {
		return Result{}, err
	}

	emp, err := s.store.GetEmployee(ctx, cmd.SubjectUserID)
	if err != nil {
		return Result{}, generic.Internal(err, "load employee %s", cmd.SubjectUserID)
	}
	if emp == nil {
		return Result{}, generic.NotFound("employee %s not found", cmd.SubjectUserID)
	}

	status, err := next(*emp)
	if err != nil {
		return Result{}, err
	}
	previous := emp.Status
	expected := emp.Version
	emp.Status = status
	emp.Version = expected + 1
	emp.UpdatedAt = s.now()
	if err := s.store.UpdateEmployee(ctx, *emp, expected); err != nil {
		return Result{}, storeErr(err, "save employee %s", emp.UserID)
	}

	fields := map[string]any{
		"previousStatus": string(previous),
		"status":         string(status),
	}
	if cmd.Reason != "" {
		fields["reason"] = cmd.Reason
	}
	res := Result{Employee: emp}
	res.Event = s.newEvent(kind, cmd.WorkspaceID, cmd.ActorID, subject, fields)
	s.publish(ctx, res.Event, EntityEmployee, string(emp.UserID), cmd.SourceIP)
	return res, nil
}

// =============================================================================
// ATTENDANCE OVERRIDE
// =============================================================================

// OverrideAttendance sets one day's attendance status for an employee who
// has not exited. Check-in and check-out are preserved.
func (s *Service) OverrideAttendance(ctx context.Context, cmd OverrideAttendanceCommand) (Result, error) {
	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}
	access, subject, err := s.authorizeSubject(ctx, cmd.ActorID, cmd.WorkspaceID, cmd.SubjectUserID,
		EmploymentActive, EmploymentOnNotice, EmploymentInactive)
	if err != nil {
		return Result{}, err
	}
	if err := requireFeature(access.Workspace, tenancy.FeatureAttendanceOverride); err != nil {
		return Result{}, err
	}

	update := timeoff.AttendanceRecord{
		UserID:      cmd.SubjectUserID,
		WorkspaceID: cmd.WorkspaceID,
		Date:        cmd.Date,
		Status:      cmd.Status,
		Notes:       cmd.Notes,
		Marker:      timeoff.MarkerHROverride,
		UpdatedAt:   s.now(),
	}
	var rec timeoff.AttendanceRecord
	err = s.store.WithTx(ctx, func(tx timeoff.Tx) error {
		var err error
		rec, err = upsertAttendance(ctx, tx, update)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Attendance: []timeoff.AttendanceRecord{rec}}
	res.Event = s.newEvent(EventAttendanceOverridden, cmd.WorkspaceID, cmd.ActorID, subject, map[string]any{
		"date":   rec.Date.String(),
		"status": string(rec.Status),
		"notes":  rec.Notes,
	})
	s.publish(ctx, res.Event, EntityAttendance, string(rec.UserID)+"/"+rec.Date.String(), cmd.SourceIP)
	return res, nil
}
