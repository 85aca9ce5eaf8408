/*
request.go - Leave request lifecycle

STATES:
  pending ──► approved
     │
     ├──────► rejected
     │
     └──────► cancelled

  pending is the only non-terminal state. Every transition below is a pure
  function from one LeaveRequest value to the next; the caller persists the
  result together with the matching ledger operation.

LEDGER EFFECT PER TRANSITION:
  create   reserve(days)
  approve  commitUsed(days)
  reject   releasePending(days)
  cancel   releasePending(days)

  Days is fixed when the request is built and never recomputed, so the
  release or commit always reverses exactly what creation reserved.

RESOLVER FIELDS:
  ApprovedBy / ApprovedAt record who moved the request out of pending and
  when, for approvals and rejections alike. A cancellation is by definition
  by the owner and leaves them empty.
*/
package timeoff

import (
	"strings"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUS & TIME PERIOD
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// TimePeriod is the part of each day a leave covers.
type TimePeriod string

const (
	FullDay    TimePeriod = "full_day"
	FirstHalf  TimePeriod = "first_half"
	SecondHalf TimePeriod = "second_half"
)

func (tp TimePeriod) Valid() bool {
	switch tp {
	case FullDay, FirstHalf, SecondHalf:
		return true
	}
	return false
}

func (tp TimePeriod) IsHalfDay() bool {
	return tp == FirstHalf || tp == SecondHalf
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID          generic.RequestID
	WorkspaceID generic.WorkspaceID
	UserID      generic.UserID // whose leave this is
	CategoryID  generic.CategoryID
	StartDate   generic.TimePoint
	EndDate     generic.TimePoint
	TimePeriod  TimePeriod
	Days        generic.Days
	Reason      string
	Status      RequestStatus

	CreatedBy       generic.UserID // differs from UserID for HR-marked leave
	ApprovedBy      generic.UserID
	ApprovedAt      *time.Time
	RejectionReason string
	HRNotes         string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r LeaveRequest) Period() generic.Period {
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// BalanceKey is the ledger key this request reserves against.
func (r LeaveRequest) BalanceKey() generic.BalanceKey {
	return generic.BalanceKey{UserID: r.UserID, CategoryID: r.CategoryID, Year: r.StartDate.Year()}
}

// =============================================================================
// CREATION
// =============================================================================

// Draft is the input to NewLeaveRequest.
type Draft struct {
	WorkspaceID generic.WorkspaceID
	UserID      generic.UserID
	CategoryID  generic.CategoryID
	StartDate   generic.TimePoint
	EndDate     generic.TimePoint
	TimePeriod  TimePeriod
	Reason      string
	CreatedBy   generic.UserID
}

// ComputeDays returns the number of leave days a period consumes: every
// calendar day in the inclusive range, or half a day for a single-day
// half-day leave. Periods crossing a year boundary are rejected because
// each year has its own balance.
func ComputeDays(period generic.Period, tp TimePeriod) (generic.Days, error) {
	if err := period.Validate(); err != nil {
		return generic.Days{}, err
	}
	if !period.SingleYear() {
		return generic.Days{}, generic.Validation("leave %s spans two calendar years; submit one request per year", period)
	}
	if tp == "" {
		tp = FullDay
	}
	if !tp.Valid() {
		return generic.Days{}, generic.Validation("invalid time period %q", tp)
	}
	n := period.Length()
	if tp.IsHalfDay() {
		if n != 1 {
			return generic.Days{}, generic.Validation("half-day leave must cover exactly one day")
		}
		return generic.HalfDay, nil
	}
	return generic.NewDaysFromInt(n), nil
}

// NewLeaveRequest builds a pending request with its days fixed.
func NewLeaveRequest(id generic.RequestID, d Draft, now time.Time) (LeaveRequest, error) {
	if d.WorkspaceID == "" || d.UserID == "" || d.CategoryID == "" {
		return LeaveRequest{}, generic.Validation("workspace, user and category are required")
	}
	tp := d.TimePeriod
	if tp == "" {
		tp = FullDay
	}
	days, err := ComputeDays(generic.Period{Start: d.StartDate, End: d.EndDate}, tp)
	if err != nil {
		return LeaveRequest{}, err
	}
	createdBy := d.CreatedBy
	if createdBy == "" {
		createdBy = d.UserID
	}
	return LeaveRequest{
		ID:          id,
		WorkspaceID: d.WorkspaceID,
		UserID:      d.UserID,
		CategoryID:  d.CategoryID,
		StartDate:   d.StartDate,
		EndDate:     d.EndDate,
		TimePeriod:  tp,
		Days:        days,
		Reason:      strings.TrimSpace(d.Reason),
		Status:      StatusPending,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (r LeaveRequest) requirePending(action string) error {
	if r.Status != StatusPending {
		return generic.InvalidTransition("cannot %s request %s in status %s", action, r.ID, r.Status)
	}
	return nil
}

// Approve moves a pending request to approved.
func (r LeaveRequest) Approve(actor generic.UserID, at time.Time) (LeaveRequest, error) {
	if err := r.requirePending("approve"); err != nil {
		return LeaveRequest{}, err
	}
	r.Status = StatusApproved
	r.ApprovedBy = actor
	r.ApprovedAt = &at
	r.UpdatedAt = at
	return r, nil
}

// Reject moves a pending request to rejected. A reason is mandatory.
func (r LeaveRequest) Reject(actor generic.UserID, reason string, at time.Time) (LeaveRequest, error) {
	if err := r.requirePending("reject"); err != nil {
		return LeaveRequest{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return LeaveRequest{}, generic.Validation("a rejection reason is required")
	}
	r.Status = StatusRejected
	r.ApprovedBy = actor
	r.ApprovedAt = &at
	r.RejectionReason = reason
	r.UpdatedAt = at
	return r, nil
}

// Cancel withdraws a pending request. Only the request's owner may cancel.
func (r LeaveRequest) Cancel(actor generic.UserID, at time.Time) (LeaveRequest, error) {
	if actor != r.UserID {
		return LeaveRequest{}, generic.Forbidden("only the requester may cancel request %s", r.ID)
	}
	if r.Status != StatusPending {
		return LeaveRequest{}, generic.InvalidTransition("cannot cancel processed request")
	}
	r.Status = StatusCancelled
	r.UpdatedAt = at
	return r, nil
}

// Annotate sets HR notes. Allowed in every status.
func (r LeaveRequest) Annotate(notes string, at time.Time) LeaveRequest {
	r.HRNotes = strings.TrimSpace(notes)
	r.UpdatedAt = at
	return r
}
