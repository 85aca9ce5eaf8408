package timeoff

import (
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent      AttendanceStatus = "present"
	AttendanceAbsent       AttendanceStatus = "absent"
	AttendanceOnLeave      AttendanceStatus = "on_leave"
	AttendanceHalfDayLeave AttendanceStatus = "half_day_leave"
	AttendanceWorkFromHome AttendanceStatus = "work_from_home"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceOnLeave, AttendanceHalfDayLeave, AttendanceWorkFromHome:
		return true
	}
	return false
}

// MarkerHROverride tags records written by an HR attendance override.
const MarkerHROverride = "hr_override"

// LeaveMarker tags records written because a leave request was approved.
func LeaveMarker(id generic.RequestID) string {
	return "leave:" + string(id)
}

// AttendanceRecord is one user's attendance for one day. Check-in and
// check-out belong to the attendance subsystem and are carried through
// untouched.
type AttendanceRecord struct {
	UserID      generic.UserID
	WorkspaceID generic.WorkspaceID
	Date        generic.TimePoint
	Status      AttendanceStatus
	Notes       string
	Marker      string
	CheckIn     *time.Time
	CheckOut    *time.Time
	UpdatedAt   time.Time
}

// Apply overlays the status, notes and marker of update onto an existing
// record (or starts a new one), leaving every other field as it was.
func (update AttendanceRecord) Apply(existing *AttendanceRecord) AttendanceRecord {
	if existing == nil {
		return update
	}
	merged := *existing
	merged.Status = update.Status
	merged.Notes = update.Notes
	merged.Marker = update.Marker
	merged.UpdatedAt = update.UpdatedAt
	return merged
}

// PlanLeaveAttendance returns one record per day covered by an approved
// request, in date order.
func PlanLeaveAttendance(r LeaveRequest, categoryCode string, at time.Time) []AttendanceRecord {
	status := AttendanceOnLeave
	if r.TimePeriod.IsHalfDay() {
		status = AttendanceHalfDayLeave
	}
	notes := fmt.Sprintf("%s leave", categoryCode)
	if r.TimePeriod.IsHalfDay() {
		notes = fmt.Sprintf("%s leave (%s)", categoryCode, r.TimePeriod)
	}

	days := r.Period().Days()
	records := make([]AttendanceRecord, 0, len(days))
	for _, d := range days {
		records = append(records, AttendanceRecord{
			UserID:      r.UserID,
			WorkspaceID: r.WorkspaceID,
			Date:        d,
			Status:      status,
			Notes:       notes,
			Marker:      LeaveMarker(r.ID),
			UpdatedAt:   at,
		})
	}
	return records
}
