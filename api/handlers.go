/*
handlers.go - HTTP API handlers for the HR Action Service

PURPOSE:
  Exposes hr.Service via REST. Handles HTTP request/response and JSON
  serialization, and delegates every decision (authorization, balances,
  state transitions) to the service.

ENDPOINTS (all under /api/v1/workspaces/{workspaceID}):
  Requests:
    GET    /requests                          List requests (?status=&user_id=)
    POST   /requests                          Submit a leave request
    GET    /requests/{requestID}              Get one request
    POST   /requests/{requestID}/approve      Approve (HR)
    POST   /requests/{requestID}/reject       Reject with reason (HR)
    POST   /requests/{requestID}/cancel       Cancel own pending request
    POST   /requests/{requestID}/notes        Annotate (HR)

  Employees:
    POST   /employees/{userID}/leave          Bulk-mark leave (HR)
    POST   /employees/{userID}/activate       Activate employment (HR)
    POST   /employees/{userID}/deactivate     Deactivate employment (HR)
    GET    /employees/{userID}/attendance     Attendance (?from=&to=)
    PUT    /employees/{userID}/attendance/{date}  Override attendance (HR)

  Balances:
    GET    /employees/{userID}/balances/{categoryID}              (?year=)
    POST   /employees/{userID}/balances/{categoryID}/recalculate  (HR)
    POST   /employees/{userID}/balances/{categoryID}/carry-forward (HR)

  Workspace:
    GET    /categories                        List leave categories
    POST   /categories                        Create category (HR)
    POST   /members                           Add member (admin)
    PUT    /kind                              Change tier (system admin)

IDENTITY:
  Authentication happens upstream. The acting user arrives in the
  X-User-ID header; requests without it are rejected with 401.

REQUEST FLOW:
  1. Parse path, query and JSON body
  2. Build the hr command (dates parsed here)
  3. Call the service
  4. Serialize the result, or map the error kind to a status

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error kind to HTTP status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// ActorHeader carries the authenticated user's ID.
const ActorHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *hr.Service
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *hr.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service: svc,
		Logger:  logger,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

type actorKey struct{}

// RequireActor rejects requests without an acting user and stores the
// user on the request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ActorHeader)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing " + ActorHeader + " header", Code: "unauthenticated"})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, generic.UserID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) generic.UserID {
	id, _ := r.Context().Value(actorKey{}).(generic.UserID)
	return id
}

func workspaceFrom(r *http.Request) generic.WorkspaceID {
	return generic.WorkspaceID(chi.URLParam(r, "workspaceID"))
}

// sourceIP strips the port from RemoteAddr (already rewritten by
// middleware.RealIP when behind a proxy).
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.Logger, err)
}

// respond writes a service result, or its error.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, res hr.Result, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, toResultDTO(res))
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LEAVE REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a leave request for the acting user.
// POST /api/v1/workspaces/{workspaceID}/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.CreateLeaveRequest(r.Context(), hr.CreateLeaveCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		CategoryID:  generic.CategoryID(req.CategoryID),
		StartDate:   start,
		EndDate:     end,
		TimePeriod:  timeoff.TimePeriod(req.TimePeriod),
		Reason:      req.Reason,
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusCreated, res, err)
}

// ListRequests lists requests in the workspace, newest first.
// GET /api/v1/workspaces/{workspaceID}/requests?status=pending&user_id=u1
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Service.ListRequests(r.Context(), hr.ListRequestsQuery{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		UserID:      generic.UserID(r.URL.Query().Get("user_id")),
		Status:      timeoff.RequestStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTOs(reqs))
}

// GetRequest returns one request.
// GET /api/v1/workspaces/{workspaceID}/requests/{requestID}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetRequest(r.Context(), actorFrom(r), workspaceFrom(r), requestIDFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(req))
}

// ApproveRequest approves a pending request.
// POST /api/v1/workspaces/{workspaceID}/requests/{requestID}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ApproveLeave(r.Context(), h.requestCommand(r))
	h.respond(w, r, http.StatusOK, res, err)
}

// RejectRequest rejects a pending request with a reason.
// POST /api/v1/workspaces/{workspaceID}/requests/{requestID}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.RejectLeave(r.Context(), hr.RejectCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		RequestID:   requestIDFrom(r),
		Reason:      req.Reason,
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// CancelRequest withdraws the acting user's own pending request.
// POST /api/v1/workspaces/{workspaceID}/requests/{requestID}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CancelLeave(r.Context(), h.requestCommand(r))
	h.respond(w, r, http.StatusOK, res, err)
}

// AnnotateRequest sets HR notes on a request in any status.
// POST /api/v1/workspaces/{workspaceID}/requests/{requestID}/notes
func (h *Handler) AnnotateRequest(w http.ResponseWriter, r *http.Request) {
	var req AnnotateRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.AnnotateRequest(r.Context(), hr.AnnotateCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		RequestID:   requestIDFrom(r),
		Notes:       req.Notes,
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) requestCommand(r *http.Request) hr.RequestCommand {
	return hr.RequestCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		RequestID:   requestIDFrom(r),
		SourceIP:    sourceIP(r),
	}
}

func requestIDFrom(r *http.Request) generic.RequestID {
	return generic.RequestID(chi.URLParam(r, "requestID"))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// BulkMarkLeave records leave on an employee's behalf.
// POST /api/v1/workspaces/{workspaceID}/employees/{userID}/leave
func (h *Handler) BulkMarkLeave(w http.ResponseWriter, r *http.Request) {
	var req BulkMarkRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.BulkMarkLeave(r.Context(), hr.BulkMarkCommand{
		ActorID:       actorFrom(r),
		WorkspaceID:   workspaceFrom(r),
		SubjectUserID: subjectFrom(r),
		CategoryID:    generic.CategoryID(req.CategoryID),
		StartDate:     start,
		EndDate:       end,
		TimePeriod:    timeoff.TimePeriod(req.TimePeriod),
		Reason:        req.Reason,
		TargetStatus:  timeoff.RequestStatus(req.Status),
		SourceIP:      sourceIP(r),
	})
	h.respond(w, r, http.StatusCreated, res, err)
}

// ActivateEmployee sets an employee to ACTIVE.
// POST /api/v1/workspaces/{workspaceID}/employees/{userID}/activate
func (h *Handler) ActivateEmployee(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.employeeCommand(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.ActivateEmployee(r.Context(), cmd)
	h.respond(w, r, http.StatusOK, res, err)
}

// DeactivateEmployee sets an employee to INACTIVE.
// POST /api/v1/workspaces/{workspaceID}/employees/{userID}/deactivate
func (h *Handler) DeactivateEmployee(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.employeeCommand(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.DeactivateEmployee(r.Context(), cmd)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) employeeCommand(r *http.Request) (hr.EmployeeCommand, error) {
	var req EmployeeActionRequest
	if err := decodeBody(r, &req); err != nil {
		return hr.EmployeeCommand{}, err
	}
	return hr.EmployeeCommand{
		ActorID:       actorFrom(r),
		WorkspaceID:   workspaceFrom(r),
		SubjectUserID: subjectFrom(r),
		Reason:        req.Reason,
		SourceIP:      sourceIP(r),
	}, nil
}

// ListAttendance returns attendance records for a date range. Without a
// range the current calendar year is used.
// GET /api/v1/workspaces/{workspaceID}/employees/{userID}/attendance?from=2025-01-01&to=2025-01-31
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period := generic.CalendarYear(h.Now().Year())
	if q.Get("from") != "" || q.Get("to") != "" {
		start, end, err := parseRange(q.Get("from"), q.Get("to"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		period = generic.Period{Start: start, End: end}
	}

	recs, err := h.Service.ListAttendance(r.Context(), actorFrom(r), workspaceFrom(r), subjectFrom(r), period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTOs(recs))
}

// OverrideAttendance sets one day's attendance status.
// PUT /api/v1/workspaces/{workspaceID}/employees/{userID}/attendance/{date}
func (h *Handler) OverrideAttendance(w http.ResponseWriter, r *http.Request) {
	var req OverrideAttendanceRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.OverrideAttendance(r.Context(), hr.OverrideAttendanceCommand{
		ActorID:       actorFrom(r),
		WorkspaceID:   workspaceFrom(r),
		SubjectUserID: subjectFrom(r),
		Date:          date,
		Status:        timeoff.AttendanceStatus(req.Status),
		Notes:         req.Notes,
		SourceIP:      sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

func subjectFrom(r *http.Request) generic.UserID {
	return generic.UserID(chi.URLParam(r, "userID"))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns one balance. ?year defaults to the current year.
// GET /api/v1/workspaces/{workspaceID}/employees/{userID}/balances/{categoryID}?year=2025
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year := h.Now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			h.fail(w, r, generic.Validation("invalid year %q", s))
			return
		}
		year = y
	}

	b, err := h.Service.GetBalance(r.Context(), hr.BalanceQuery{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		UserID:      subjectFrom(r),
		CategoryID:  categoryFrom(r),
		Year:        year,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// RecalculateBalance recomputes a balance's derived availability.
// POST /api/v1/workspaces/{workspaceID}/employees/{userID}/balances/{categoryID}/recalculate
func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.RecalculateBalance(r.Context(), hr.RecalculateCommand{
		ActorID:       actorFrom(r),
		WorkspaceID:   workspaceFrom(r),
		SubjectUserID: subjectFrom(r),
		CategoryID:    categoryFrom(r),
		Year:          req.Year,
		SourceIP:      sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// CarryForward moves unused days from from_year into the next year.
// POST /api/v1/workspaces/{workspaceID}/employees/{userID}/balances/{categoryID}/carry-forward
func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	var req CarryForwardRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.ApplyCarryForward(r.Context(), hr.CarryForwardCommand{
		ActorID:       actorFrom(r),
		WorkspaceID:   workspaceFrom(r),
		SubjectUserID: subjectFrom(r),
		CategoryID:    categoryFrom(r),
		FromYear:      req.FromYear,
		SourceIP:      sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

func categoryFrom(r *http.Request) generic.CategoryID {
	return generic.CategoryID(chi.URLParam(r, "categoryID"))
}

// =============================================================================
// WORKSPACE HANDLERS
// =============================================================================

// ListCategories lists the workspace's leave categories.
// GET /api/v1/workspaces/{workspaceID}/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Service.ListCategories(r.Context(), actorFrom(r), workspaceFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTOs(cats))
}

// CreateCategory adds a leave category.
// POST /api/v1/workspaces/{workspaceID}/categories
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.CreateCategory(r.Context(), hr.CreateCategoryCommand{
		ActorID:             actorFrom(r),
		WorkspaceID:         workspaceFrom(r),
		Name:                req.Name,
		Code:                req.Code,
		AnnualQuota:         req.AnnualQuota,
		CarryForwardAllowed: req.CarryForwardAllowed,
		MaxCarryForward:     req.MaxCarryForward,
		SourceIP:            sourceIP(r),
	})
	h.respond(w, r, http.StatusCreated, res, err)
}

// AddMember grants a user a role in the workspace.
// POST /api/v1/workspaces/{workspaceID}/members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.AddMember(r.Context(), hr.AddMemberCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		UserID:      generic.UserID(req.UserID),
		Role:        tenancy.Role(req.Role),
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// DeactivateMember revokes a user's membership in the workspace.
// POST /api/v1/workspaces/{workspaceID}/members/{userID}/deactivate
func (h *Handler) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	var req EmployeeActionRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.DeactivateMember(r.Context(), hr.DeactivateMemberCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		UserID:      subjectFrom(r),
		Reason:      req.Reason,
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// SwitchWorkspace makes the workspace the caller's current one.
// POST /api/v1/workspaces/{workspaceID}/switch
func (h *Handler) SwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SwitchWorkspace(r.Context(), hr.SwitchWorkspaceCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// ChangeKind moves the workspace to another tier.
// PUT /api/v1/workspaces/{workspaceID}/kind
func (h *Handler) ChangeKind(w http.ResponseWriter, r *http.Request) {
	var req ChangeKindRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Service.ChangeWorkspaceKind(r.Context(), hr.ChangeWorkspaceKindCommand{
		ActorID:     actorFrom(r),
		WorkspaceID: workspaceFrom(r),
		Kind:        tenancy.WorkspaceKind(req.Kind),
		SourceIP:    sourceIP(r),
	})
	h.respond(w, r, http.StatusOK, res, err)
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeBody decodes a JSON body into dst. An empty body leaves dst as is.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return generic.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func parseDate(field, s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, generic.Validation("%s is required", field)
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, generic.Validation("%s must be YYYY-MM-DD, got %q", field, s)
	}
	return tp, nil
}

func parseRange(start, end string) (generic.TimePoint, generic.TimePoint, error) {
	s, err := parseDate("start_date", start)
	if err != nil {
		return generic.TimePoint{}, generic.TimePoint{}, err
	}
	e, err := parseDate("end_date", end)
	if err != nil {
		return generic.TimePoint{}, generic.TimePoint{}, err
	}
	return s, e, nil
}
