package hr

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

// EventKind enumerates every event the service can emit. Dispatchers map
// each kind to a delivery template and must cover all of AllEventKinds.
type EventKind string

const (
	EventLeaveRequested       EventKind = "leave_requested"
	EventLeaveApproved        EventKind = "leave_approved"
	EventLeaveRejected        EventKind = "leave_rejected"
	EventLeaveCancelled       EventKind = "leave_cancelled"
	EventLeaveMarked          EventKind = "leave_marked"
	EventRequestAnnotated     EventKind = "request_annotated"
	EventEmployeeActivated    EventKind = "employee_activated"
	EventEmployeeDeactivated  EventKind = "employee_deactivated"
	EventAttendanceOverridden EventKind = "attendance_overridden"
	EventCarryForwardApplied  EventKind = "carry_forward_applied"
	EventBalanceRecalculated  EventKind = "balance_recalculated"
	EventCategoryCreated      EventKind = "category_created"
	EventMemberAdded          EventKind = "member_added"
	EventMemberDeactivated    EventKind = "member_deactivated"
	EventWorkspaceSwitched    EventKind = "workspace_switched"
	EventWorkspaceKindChanged EventKind = "workspace_kind_changed"
)

// AllEventKinds lists every EventKind, in declaration order.
var AllEventKinds = []EventKind{
	EventLeaveRequested,
	EventLeaveApproved,
	EventLeaveRejected,
	EventLeaveCancelled,
	EventLeaveMarked,
	EventRequestAnnotated,
	EventEmployeeActivated,
	EventEmployeeDeactivated,
	EventAttendanceOverridden,
	EventCarryForwardApplied,
	EventBalanceRecalculated,
	EventCategoryCreated,
	EventMemberAdded,
	EventMemberDeactivated,
	EventWorkspaceSwitched,
	EventWorkspaceKindChanged,
}

func (k EventKind) Valid() bool {
	for _, known := range AllEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Payload has the same shape for every event: who the event is about, plus
// action-specific fields.
type Payload struct {
	SubjectUserID generic.UserID `json:"subjectUserId"`
	SubjectEmail  string         `json:"subjectEmail"`
	SubjectName   string         `json:"subjectName"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type Event struct {
	ID          string              `json:"id"`
	Kind        EventKind           `json:"kind"`
	WorkspaceID generic.WorkspaceID `json:"workspaceId"`
	ActorID     generic.UserID      `json:"actorId"`
	Payload     Payload             `json:"payload"`
	OccurredAt  time.Time           `json:"occurredAt"`
}

// =============================================================================
// DISPATCH
// =============================================================================

type DeliveryResult struct {
	Delivered bool
	Template  string
	Channel   string
}

// Dispatcher delivers events. Delivery is best-effort and never part of
// the transaction that produced the event.
type Dispatcher interface {
	Handle(ctx context.Context, kind EventKind, payload Payload, workspaceID generic.WorkspaceID) (DeliveryResult, error)
}
