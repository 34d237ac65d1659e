package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/gatewright/gatewright/internal/adapter/otel"
	"github.com/gatewright/gatewright/internal/adapter/ws"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/broadcast"
	"github.com/gatewright/gatewright/internal/port/database"
)

// SLA signal names, in escalation order.
const (
	SignalReminder   = "reminder"
	SignalEscalation = "escalation"
	SignalTimeout    = "timeout"
)

// SLAService periodically scans active instances and fires deadline signals:
// a reminder partway through the budget, an escalation near exhaustion, and
// a forced timeout at full exhaustion. Reminder and escalation fire at most
// once per step; the sent flags are persisted with the instance.
type SLAService struct {
	store  database.Store
	coord  *Coordinator
	hub    broadcast.Broadcaster
	cfg    config.SLA
	metric *otelad.Metrics
	logger *slog.Logger
	now    func() time.Time
}

// NewSLAService creates an SLA monitor. metrics may be nil in tests.
func NewSLAService(store database.Store, coord *Coordinator, hub broadcast.Broadcaster, cfg config.SLA, metrics *otelad.Metrics, logger *slog.Logger) *SLAService {
	return &SLAService{
		store:  store,
		coord:  coord,
		hub:    hub,
		cfg:    cfg,
		metric: metrics,
		logger: logger,
		now:    time.Now,
	}
}

// StartMonitor scans on the configured interval until ctx is cancelled.
func (s *SLAService) StartMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	s.logger.Info("sla monitor started", "interval", s.cfg.ScanInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sla monitor stopped")
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("sla scan failed", "error", err)
			}
		}
	}
}

// Scan evaluates every active instance with a running deadline once.
func (s *SLAService) Scan(ctx context.Context) error {
	active, err := s.store.ListActiveInstances(ctx)
	if err != nil {
		return err
	}
	for i := range active {
		s.check(ctx, &active[i])
	}
	return nil
}

func (s *SLAService) check(ctx context.Context, in *workflow.Instance) {
	if in.StepDeadline == nil {
		return
	}
	rec := currentStep(in)
	if rec == nil {
		return
	}

	deadline := *in.StepDeadline
	total := deadline.Sub(rec.StartedAt)
	if total <= 0 {
		return
	}
	elapsed := s.now().Sub(rec.StartedAt)
	frac := float64(elapsed) / float64(total)

	switch {
	case frac >= 1:
		s.logger.Warn("step deadline exhausted, forcing timeout",
			"instance_id", in.ID, "change", in.Change.Key(), "step", rec.Step)
		if err := s.coord.ForceStepTimeout(ctx, in.ID, rec.Step); err != nil {
			s.logger.Error("force timeout failed", "instance_id", in.ID, "error", err)
			return
		}
		s.signal(ctx, in, rec.Step, SignalTimeout)

	case frac >= s.cfg.EscalationFraction && !in.EscalationSent:
		if s.markSent(ctx, in, rec.Step, false) {
			s.logger.Warn("step approaching deadline, escalating",
				"instance_id", in.ID, "change", in.Change.Key(), "step", rec.Step,
				"deadline", deadline)
			s.signal(ctx, in, rec.Step, SignalEscalation)
		}

	case frac >= s.cfg.ReminderFraction && !in.ReminderSent:
		if s.markSent(ctx, in, rec.Step, true) {
			s.logger.Info("step past reminder threshold",
				"instance_id", in.ID, "change", in.Change.Key(), "step", rec.Step,
				"deadline", deadline)
			s.signal(ctx, in, rec.Step, SignalReminder)
		}
	}
}

// markSent persists the single-fire flag for the signal; returns false when
// another scanner won the race and the signal must not fire again.
func (s *SLAService) markSent(ctx context.Context, in *workflow.Instance, stepID workflow.StepID, reminder bool) bool {
	fired := false
	_, err := applyUpdate(ctx, s.store, in, func(cur *workflow.Instance) error {
		rec := cur.Record(stepID)
		if cur.Status.IsTerminal() || cur.StepDeadline == nil || rec == nil || rec.Status.IsTerminal() {
			fired = false
			return errNoChange
		}
		if reminder {
			if cur.ReminderSent {
				fired = false
				return errNoChange
			}
			cur.ReminderSent = true
		} else {
			if cur.EscalationSent {
				fired = false
				return errNoChange
			}
			// Escalating implies the reminder threshold has passed; a
			// late standalone reminder would be noise.
			cur.EscalationSent = true
			cur.ReminderSent = true
		}
		fired = true
		return nil
	})
	if err != nil {
		s.logger.Error("persist sla flag failed", "instance_id", in.ID, "error", err)
		return false
	}
	return fired
}

func (s *SLAService) signal(ctx context.Context, in *workflow.Instance, stepID workflow.StepID, signal string) {
	if s.metric != nil {
		s.metric.SLASignals.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("signal", signal),
				attribute.String("step", string(stepID)),
			))
	}
	s.hub.BroadcastEvent(ctx, ws.EventSLASignal, ws.SLASignalEvent{
		InstanceID: in.ID,
		ChangeKey:  in.Change.Key(),
		Step:       string(stepID),
		Signal:     signal,
	})
}

// currentStep returns the instance's non-terminal step record, or nil.
func currentStep(in *workflow.Instance) *workflow.StepRecord {
	for i := range in.Steps {
		if !in.Steps[i].Status.IsTerminal() {
			return &in.Steps[i]
		}
	}
	return nil
}
