/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - Dates as plain YYYY-MM-DD strings
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DAY AMOUNTS:
  Day counts are decimals and serialize as JSON strings ("2.5") so half
  days survive every client. Request bodies accept numbers or strings.

VALIDATION:
  DTOs are pure data carriers. Dates are parsed in the handlers; every other
  rule is enforced by the hr command validation.

SEE ALSO:
  - handlers.go: Uses these types
  - hr/commands.go: Commands the request bodies turn into
*/
package api

import (
	"sort"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// CreateLeaveRequest is the body of POST .../requests.
type CreateLeaveRequest struct {
	CategoryID string `json:"category_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	TimePeriod string `json:"time_period,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BulkMarkRequest is the body of POST .../employees/{userID}/leave.
type BulkMarkRequest struct {
	CategoryID string `json:"category_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	TimePeriod string `json:"time_period,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Status     string `json:"status"` // pending | approved
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type AnnotateRequest struct {
	Notes string `json:"notes"`
}

type EmployeeActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type OverrideAttendanceRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type CarryForwardRequest struct {
	FromYear int `json:"from_year"`
}

type RecalculateRequest struct {
	Year int `json:"year"`
}

type CreateCategoryRequest struct {
	Name                string       `json:"name"`
	Code                string       `json:"code"`
	AnnualQuota         generic.Days `json:"annual_quota"`
	CarryForwardAllowed bool         `json:"carry_forward_allowed,omitempty"`
	MaxCarryForward     generic.Days `json:"max_carry_forward,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type ChangeKindRequest struct {
	Kind string `json:"kind"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LeaveRequestDTO represents a leave request in API responses.
type LeaveRequestDTO struct {
	ID              string       `json:"id"`
	WorkspaceID     string       `json:"workspace_id"`
	UserID          string       `json:"user_id"`
	CategoryID      string       `json:"category_id"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	TimePeriod      string       `json:"time_period"`
	Days            generic.Days `json:"days"`
	Reason          string       `json:"reason,omitempty"`
	Status          string       `json:"status"`
	CreatedBy       string       `json:"created_by"`
	ApprovedBy      string       `json:"approved_by,omitempty"`
	ApprovedAt      *string      `json:"approved_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	HRNotes         string       `json:"hr_notes,omitempty"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
}

// BalanceDTO is one (user, category, year) balance.
type BalanceDTO struct {
	UserID         string       `json:"user_id"`
	CategoryID     string       `json:"category_id"`
	Year           int          `json:"year"`
	TotalQuota     generic.Days `json:"total_quota"`
	Used           generic.Days `json:"used"`
	Pending        generic.Days `json:"pending"`
	CarriedForward generic.Days `json:"carried_forward"`
	Available      generic.Days `json:"available"`
	Version        int64        `json:"version"`
}

type AttendanceDTO struct {
	UserID   string  `json:"user_id"`
	Date     string  `json:"date"`
	Status   string  `json:"status"`
	Notes    string  `json:"notes,omitempty"`
	Marker   string  `json:"marker,omitempty"`
	CheckIn  *string `json:"check_in,omitempty"`
	CheckOut *string `json:"check_out,omitempty"`
}

type EmployeeDTO struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

type CategoryDTO struct {
	ID                  string       `json:"id"`
	WorkspaceID         string       `json:"workspace_id"`
	Name                string       `json:"name"`
	Code                string       `json:"code"`
	AnnualQuota         generic.Days `json:"annual_quota"`
	CarryForwardAllowed bool         `json:"carry_forward_allowed"`
	MaxCarryForward     generic.Days `json:"max_carry_forward"`
	Active              bool         `json:"active"`
}

type MembershipDTO struct {
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	Current     bool   `json:"current"`
	JoinedAt    string `json:"joined_at"`
}

type UserDTO struct {
	ID                 string          `json:"id"`
	Email              string          `json:"email,omitempty"`
	Name               string          `json:"name,omitempty"`
	CurrentWorkspaceID string          `json:"current_workspace_id,omitempty"`
	Memberships        []MembershipDTO `json:"memberships"`
}

type WorkspaceDTO struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Kind               string   `json:"kind"`
	Active             bool     `json:"active"`
	MaxMembers         int      `json:"max_members"`
	MaxLeaveCategories int      `json:"max_leave_categories"`
	Features           []string `json:"features"`
}

type CarryForwardDTO struct {
	From    BalanceDTO   `json:"from"`
	To      BalanceDTO   `json:"to"`
	Carried generic.Days `json:"carried"`
}

type EventDTO struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ResultDTO is the response of every state-changing endpoint. Only the
// parts the operation touched are present.
type ResultDTO struct {
	Request      *LeaveRequestDTO `json:"request,omitempty"`
	Balance      *BalanceDTO      `json:"balance,omitempty"`
	Attendance   []AttendanceDTO  `json:"attendance,omitempty"`
	Employee     *EmployeeDTO     `json:"employee,omitempty"`
	Category     *CategoryDTO     `json:"category,omitempty"`
	User         *UserDTO         `json:"user,omitempty"`
	Workspace    *WorkspaceDTO    `json:"workspace,omitempty"`
	CarryForward *CarryForwardDTO `json:"carry_forward,omitempty"`
	Event        EventDTO         `json:"event"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

func toLeaveRequestDTO(r timeoff.LeaveRequest) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:              string(r.ID),
		WorkspaceID:     string(r.WorkspaceID),
		UserID:          string(r.UserID),
		CategoryID:      string(r.CategoryID),
		StartDate:       r.StartDate.String(),
		EndDate:         r.EndDate.String(),
		TimePeriod:      string(r.TimePeriod),
		Days:            r.Days,
		Reason:          r.Reason,
		Status:          string(r.Status),
		CreatedBy:       string(r.CreatedBy),
		ApprovedBy:      string(r.ApprovedBy),
		ApprovedAt:      optionalTimestamp(r.ApprovedAt),
		RejectionReason: r.RejectionReason,
		HRNotes:         r.HRNotes,
		CreatedAt:       formatTimestamp(r.CreatedAt),
		UpdatedAt:       formatTimestamp(r.UpdatedAt),
	}
}

func toLeaveRequestDTOs(rs []timeoff.LeaveRequest) []LeaveRequestDTO {
	dtos := make([]LeaveRequestDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toLeaveRequestDTO(r)
	}
	return dtos
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:         string(b.Key.UserID),
		CategoryID:     string(b.Key.CategoryID),
		Year:           b.Key.Year,
		TotalQuota:     b.TotalQuota,
		Used:           b.Used,
		Pending:        b.Pending,
		CarriedForward: b.CarriedForward,
		Available:      b.Available,
		Version:        b.Version,
	}
}

func toAttendanceDTOs(recs []timeoff.AttendanceRecord) []AttendanceDTO {
	dtos := make([]AttendanceDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = AttendanceDTO{
			UserID:   string(rec.UserID),
			Date:     rec.Date.String(),
			Status:   string(rec.Status),
			Notes:    rec.Notes,
			Marker:   rec.Marker,
			CheckIn:  optionalTimestamp(rec.CheckIn),
			CheckOut: optionalTimestamp(rec.CheckOut),
		}
	}
	return dtos
}

func toCategoryDTO(c timeoff.Category) CategoryDTO {
	return CategoryDTO{
		ID:                  string(c.ID),
		WorkspaceID:         string(c.WorkspaceID),
		Name:                c.Name,
		Code:                c.Code,
		AnnualQuota:         c.AnnualQuota,
		CarryForwardAllowed: c.CarryForwardAllowed,
		MaxCarryForward:     c.MaxCarryForward,
		Active:              c.Active,
	}
}

func toCategoryDTOs(cs []timeoff.Category) []CategoryDTO {
	dtos := make([]CategoryDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCategoryDTO(c)
	}
	return dtos
}

func toUserDTO(u tenancy.User) UserDTO {
	dto := UserDTO{ID: string(u.ID), Email: u.Email, Name: u.Name, Memberships: []MembershipDTO{}}
	if current, ok := u.CurrentWorkspace(); ok {
		dto.CurrentWorkspaceID = string(current)
	}
	for _, m := range u.Memberships {
		dto.Memberships = append(dto.Memberships, MembershipDTO{
			WorkspaceID: string(m.WorkspaceID),
			Role:        string(m.Role),
			Active:      m.Active,
			Current:     m.Current,
			JoinedAt:    formatTimestamp(m.JoinedAt),
		})
	}
	return dto
}

func toWorkspaceDTO(w tenancy.Workspace) WorkspaceDTO {
	features := []string{}
	for f, on := range w.Limits.Features {
		if on {
			features = append(features, string(f))
		}
	}
	sort.Strings(features)
	return WorkspaceDTO{
		ID:                 string(w.ID),
		Name:               w.Name,
		Kind:               string(w.Kind),
		Active:             w.Active,
		MaxMembers:         w.Limits.MaxMembers,
		MaxLeaveCategories: w.Limits.MaxLeaveCategories,
		Features:           features,
	}
}

func toResultDTO(res hr.Result) ResultDTO {
	dto := ResultDTO{Event: EventDTO{ID: res.Event.ID, Kind: string(res.Event.Kind)}}
	if res.Request != nil {
		r := toLeaveRequestDTO(*res.Request)
		dto.Request = &r
	}
	if res.Balance != nil {
		b := toBalanceDTO(*res.Balance)
		dto.Balance = &b
	}
	if len(res.Attendance) > 0 {
		dto.Attendance = toAttendanceDTOs(res.Attendance)
	}
	if res.Employee != nil {
		dto.Employee = &EmployeeDTO{
			UserID:    string(res.Employee.UserID),
			Status:    string(res.Employee.Status),
			UpdatedAt: formatTimestamp(res.Employee.UpdatedAt),
		}
	}
	if res.Category != nil {
		c := toCategoryDTO(*res.Category)
		dto.Category = &c
	}
	if res.User != nil {
		u := toUserDTO(*res.User)
		dto.User = &u
	}
	if res.Workspace != nil {
		w := toWorkspaceDTO(*res.Workspace)
		dto.Workspace = &w
	}
	if res.CarryForward != nil {
		dto.CarryForward = &CarryForwardDTO{
			From:    toBalanceDTO(res.CarryForward.From),
			To:      toBalanceDTO(res.CarryForward.To),
			Carried: res.CarryForward.Carried,
		}
	}
	return dto
}
