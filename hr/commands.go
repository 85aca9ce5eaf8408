package hr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// COMMANDS
// =============================================================================

type CreateLeaveCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	CategoryID  generic.CategoryID  `validate:"required"`
	StartDate   generic.TimePoint   `validate:"required"`
	EndDate     generic.TimePoint   `validate:"required"`
	TimePeriod  timeoff.TimePeriod  `validate:"omitempty,oneof=full_day first_half second_half"`
	Reason      string              `validate:"max=1000"`
	SourceIP    string
}

// RequestCommand targets one existing request (approve, cancel).
type RequestCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	RequestID   generic.RequestID   `validate:"required"`
	SourceIP    string
}

// RejectCommand carries the reason unvalidated: a rejection of a resolved
// request must fail as a transition error whatever the reason.
type RejectCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	RequestID   generic.RequestID   `validate:"required"`
	Reason      string              `validate:"max=1000"`
	SourceIP    string
}

type BulkMarkCommand struct {
	ActorID       generic.UserID        `validate:"required"`
	WorkspaceID   generic.WorkspaceID   `validate:"required"`
	SubjectUserID generic.UserID        `validate:"required"`
	CategoryID    generic.CategoryID    `validate:"required"`
	StartDate     generic.TimePoint     `validate:"required"`
	EndDate       generic.TimePoint     `validate:"required"`
	TimePeriod    timeoff.TimePeriod    `validate:"omitempty,oneof=full_day first_half second_half"`
	Reason        string                `validate:"max=1000"`
	TargetStatus  timeoff.RequestStatus `validate:"required,oneof=pending approved"`
	SourceIP      string
}

type AnnotateCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	RequestID   generic.RequestID   `validate:"required"`
	Notes       string              `validate:"max=2000"`
	SourceIP    string
}

type EmployeeCommand struct {
	ActorID       generic.UserID      `validate:"required"`
	WorkspaceID   generic.WorkspaceID `validate:"required"`
	SubjectUserID generic.UserID      `validate:"required"`
	Reason        string              `validate:"max=1000"`
	SourceIP      string
}

type OverrideAttendanceCommand struct {
	ActorID       generic.UserID           `validate:"required"`
	WorkspaceID   generic.WorkspaceID      `validate:"required"`
	SubjectUserID generic.UserID           `validate:"required"`
	Date          generic.TimePoint        `validate:"required"`
	Status        timeoff.AttendanceStatus `validate:"required,oneof=present absent on_leave half_day_leave work_from_home"`
	Notes         string                   `validate:"max=500"`
	SourceIP      string
}

type CarryForwardCommand struct {
	ActorID       generic.UserID      `validate:"required"`
	WorkspaceID   generic.WorkspaceID `validate:"required"`
	SubjectUserID generic.UserID      `validate:"required"`
	CategoryID    generic.CategoryID  `validate:"required"`
	FromYear      int                 `validate:"required,gte=1970,lte=9998"`
	SourceIP      string
}

type RecalculateCommand struct {
	ActorID       generic.UserID      `validate:"required"`
	WorkspaceID   generic.WorkspaceID `validate:"required"`
	SubjectUserID generic.UserID      `validate:"required"`
	CategoryID    generic.CategoryID  `validate:"required"`
	Year          int                 `validate:"required,gte=1970,lte=9999"`
	SourceIP      string
}

type CreateCategoryCommand struct {
	ActorID             generic.UserID      `validate:"required"`
	WorkspaceID         generic.WorkspaceID `validate:"required"`
	Name                string              `validate:"required,max=100"`
	Code                string              `validate:"required,alphanum,max=16"`
	AnnualQuota         generic.Days
	CarryForwardAllowed bool
	MaxCarryForward     generic.Days
	SourceIP            string
}

type AddMemberCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	UserID      generic.UserID      `validate:"required"`
	Role        tenancy.Role        `validate:"required,oneof=employee manager hr admin community_admin"`
	SourceIP    string
}

type DeactivateMemberCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	UserID      generic.UserID      `validate:"required"`
	Reason      string              `validate:"max=1000"`
	SourceIP    string
}

// SwitchWorkspaceCommand always acts on the actor's own user.
type SwitchWorkspaceCommand struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	SourceIP    string
}

type ChangeWorkspaceKindCommand struct {
	ActorID     generic.UserID        `validate:"required"`
	WorkspaceID generic.WorkspaceID   `validate:"required"`
	Kind        tenancy.WorkspaceKind `validate:"required,oneof=enterprise community"`
	SourceIP    string
}

// =============================================================================
// QUERIES
// =============================================================================

type BalanceQuery struct {
	ActorID     generic.UserID      `validate:"required"`
	WorkspaceID generic.WorkspaceID `validate:"required"`
	UserID      generic.UserID      `validate:"required"`
	CategoryID  generic.CategoryID  `validate:"required"`
	Year        int                 `validate:"required,gte=1970,lte=9999"`
}

// ListRequestsQuery lists a workspace's requests. Non-HR callers only ever
// see their own.
type ListRequestsQuery struct {
	ActorID     generic.UserID        `validate:"required"`
	WorkspaceID generic.WorkspaceID   `validate:"required"`
	UserID      generic.UserID        // optional filter
	Status      timeoff.RequestStatus `validate:"omitempty,oneof=pending approved rejected cancelled"`
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs the struct tags and reports every offending field
// as one ValidationError.
func validateCommand(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return generic.Validation("%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return generic.Validation("invalid input: %s", strings.Join(fields, ", "))
}
