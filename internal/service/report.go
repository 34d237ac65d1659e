package service

import (
	"context"
	"log/slog"

	"github.com/gatewright/gatewright/internal/domain/decision"
	"github.com/gatewright/gatewright/internal/domain/report"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/reviewsurface"
)

// ReportService publishes the final summary and commit status back to the
// review surface. Publishing is best-effort: a surface failure is logged and
// never blocks or rolls back the decision.
type ReportService struct {
	surface reviewsurface.Surface
	logger  *slog.Logger
}

// NewReportService creates a report service.
func NewReportService(surface reviewsurface.Surface, logger *slog.Logger) *ReportService {
	return &ReportService{surface: surface, logger: logger}
}

// Publish posts the rendered summary comment and sets the commit status for
// a decided instance. ticketNote is shown when ticket creation was deferred.
func (s *ReportService) Publish(ctx context.Context, in *workflow.Instance, d decision.Decision, ticketKey, ticketNote string) {
	sum := report.Render(in, string(d))
	sum.TicketKey = ticketKey
	sum.TicketNote = ticketNote

	if err := s.surface.PostSummaryComment(ctx, in.Change, sum.Markdown()); err != nil {
		s.logger.Error("post summary comment failed",
			"instance_id", in.ID, "change", in.Change.Key(), "error", err)
	}
	state, desc := sum.StatusCheck()
	if err := s.surface.SetStatusCheck(ctx, in.Change, state, desc); err != nil {
		s.logger.Error("set status check failed",
			"instance_id", in.ID, "change", in.Change.Key(), "error", err)
	}
}

// PublishPending marks the revision's commit status pending while the
// instance waits for a human decision.
func (s *ReportService) PublishPending(ctx context.Context, in *workflow.Instance) {
	if err := s.surface.SetStatusCheck(ctx, in.Change, "pending", "awaiting human review"); err != nil {
		s.logger.Error("set pending status failed",
			"instance_id", in.ID, "change", in.Change.Key(), "error", err)
	}
}
