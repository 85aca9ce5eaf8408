package dispatch

import (
	"context"
	"log/slog"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
)

// LogDispatcher renders events and writes them to the structured log. It
// is used when no broker is configured.
type LogDispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

var _ hr.Dispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(registry *Registry, logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{registry: registry, logger: logger}
}

func (d *LogDispatcher) Handle(ctx context.Context, kind hr.EventKind, payload hr.Payload, workspaceID generic.WorkspaceID) (hr.DeliveryResult, error) {
	tmpl, subject, err := d.registry.Render(kind, payload)
	if err != nil {
		return hr.DeliveryResult{}, err
	}
	d.logger.InfoContext(ctx, "event",
		"event", kind,
		"template", tmpl.Name,
		"channel", tmpl.Channel,
		"workspace_id", workspaceID,
		"subject_user_id", payload.SubjectUserID,
		"subject", subject,
	)
	return hr.DeliveryResult{Delivered: true, Template: tmpl.Name, Channel: "log"}, nil
}
