/*
Package dispatch delivers HR events to the outside world.

PURPOSE:
  The HR service emits a typed hr.Event after every committed action. This
  package maps each event kind to a delivery template and hands the
  rendered message to a transport: Kafka in production, the structured log
  otherwise.

STARTUP VALIDATION:
  NewRegistry refuses a template set that misses an event kind, names an
  unknown one, or carries a subject that does not parse. A dispatcher can
  therefore never meet an event it has no template for at runtime.

SEE ALSO:
  - hr/events.go: EventKind, Payload, Dispatcher interface
  - publisher.go: Kafka transport
  - log.go: Log-only transport
*/
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"text/template"

	"github.com/warp/leave-engine/hr"
)

// =============================================================================
// TEMPLATES
// =============================================================================

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Template describes how one event kind is delivered. Subject is a
// text/template rendered against hr.Payload.
type Template struct {
	Name    string
	Channel Channel
	Subject string
}

// DefaultTemplates covers every hr.EventKind.
func DefaultTemplates() map[hr.EventKind]Template {
	return map[hr.EventKind]Template{
		hr.EventLeaveRequested:       {Name: "leave-request-submitted", Channel: ChannelEmail, Subject: "Leave request from {{.SubjectName}}"},
		hr.EventLeaveApproved:        {Name: "leave-request-approved", Channel: ChannelEmail, Subject: "Your leave from {{index .Fields \"startDate\"}} was approved"},
		hr.EventLeaveRejected:        {Name: "leave-request-rejected", Channel: ChannelEmail, Subject: "Your leave from {{index .Fields \"startDate\"}} was rejected"},
		hr.EventLeaveCancelled:       {Name: "leave-request-cancelled", Channel: ChannelInApp, Subject: "{{.SubjectName}} cancelled a leave request"},
		hr.EventLeaveMarked:          {Name: "leave-marked-by-hr", Channel: ChannelEmail, Subject: "Leave recorded for you from {{index .Fields \"startDate\"}}"},
		hr.EventRequestAnnotated:     {Name: "leave-request-annotated", Channel: ChannelInApp, Subject: "HR added a note to your leave request"},
		hr.EventEmployeeActivated:    {Name: "employee-activated", Channel: ChannelEmail, Subject: "Your account has been activated"},
		hr.EventEmployeeDeactivated:  {Name: "employee-deactivated", Channel: ChannelEmail, Subject: "Your account has been deactivated"},
		hr.EventAttendanceOverridden: {Name: "attendance-overridden", Channel: ChannelInApp, Subject: "Attendance for {{index .Fields \"date\"}} was updated"},
		hr.EventCarryForwardApplied:  {Name: "carry-forward-applied", Channel: ChannelInApp, Subject: "{{index .Fields \"carried\"}} days carried into {{index .Fields \"toYear\"}}"},
		hr.EventBalanceRecalculated:  {Name: "balance-recalculated", Channel: ChannelInApp, Subject: "Your leave balance was recalculated"},
		hr.EventCategoryCreated:      {Name: "leave-category-created", Channel: ChannelInApp, Subject: "New leave category {{index .Fields \"categoryCode\"}}"},
		hr.EventMemberAdded:          {Name: "workspace-member-added", Channel: ChannelEmail, Subject: "You were added to {{index .Fields \"workspaceName\"}}"},
		hr.EventMemberDeactivated:    {Name: "workspace-member-deactivated", Channel: ChannelEmail, Subject: "Your access to {{index .Fields \"workspaceName\"}} was removed"},
		hr.EventWorkspaceSwitched:    {Name: "workspace-switched", Channel: ChannelInApp, Subject: "Now working in {{index .Fields \"workspaceName\"}}"},
		hr.EventWorkspaceKindChanged: {Name: "workspace-kind-changed", Channel: ChannelInApp, Subject: "Workspace plan changed to {{index .Fields \"kind\"}}"},
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

type compiled struct {
	Template
	subject *template.Template
}

// Registry is a validated, immutable template set.
type Registry struct {
	templates map[hr.EventKind]compiled
}

// NewRegistry validates templates against hr.AllEventKinds.
func NewRegistry(templates map[hr.EventKind]Template) (*Registry, error) {
	var errs []error
	for _, kind := range hr.AllEventKinds {
		if _, ok := templates[kind]; !ok {
			errs = append(errs, fmt.Errorf("no template for event kind %q", kind))
		}
	}

	kinds := make([]string, 0, len(templates))
	for kind := range templates {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	r := &Registry{templates: make(map[hr.EventKind]compiled, len(templates))}
	for _, k := range kinds {
		kind := hr.EventKind(k)
		t := templates[kind]
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("template %q targets unknown event kind %q", t.Name, kind))
			continue
		}
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("template for %q has no name", kind))
			continue
		}
		subject, err := template.New(t.Name).Option("missingkey=zero").Parse(t.Subject)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %q: %w", t.Name, err))
			continue
		}
		r.templates[kind] = compiled{Template: t, subject: subject}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// MustDefaultRegistry panics if DefaultTemplates is out of step with
// hr.AllEventKinds.
func MustDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTemplates())
	if err != nil {
		panic(err)
	}
	return r
}

// Render resolves the template for kind and renders its subject.
func (r *Registry) Render(kind hr.EventKind, payload hr.Payload) (Template, string, error) {
	c, ok := r.templates[kind]
	if !ok {
		return Template{}, "", fmt.Errorf("no template for event kind %q", kind)
	}
	var buf bytes.Buffer
	if err := c.subject.Execute(&buf, payload); err != nil {
		return Template{}, "", fmt.Errorf("render %s: %w", c.Name, err)
	}
	return c.Template, buf.String(), nil
}
