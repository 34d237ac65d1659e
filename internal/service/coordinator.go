package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	otelad "github.com/gatewright/gatewright/internal/adapter/otel"
	"github.com/gatewright/gatewright/internal/adapter/ws"
	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/decision"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/broadcast"
	"github.com/gatewright/gatewright/internal/port/database"
	"github.com/gatewright/gatewright/internal/port/messagequeue"
)

// Coordinator drives workflow instances through the step catalog. All durable
// state lives in the store; the coordinator itself can be restarted at any
// point and resumes from persisted records.
type Coordinator struct {
	store         database.Store
	exec          *Executor
	tickets       *TicketService
	reporter      *ReportService
	hub           broadcast.Broadcaster
	queue         messagequeue.Queue
	metrics       *otelad.Metrics
	logger        *slog.Logger
	sem           *semaphore.Weighted
	humanDeadline time.Duration
	now           func() time.Time
}

// NewCoordinator creates a workflow coordinator. metrics may be nil in tests.
func NewCoordinator(store database.Store, exec *Executor, tickets *TicketService, reporter *ReportService, hub broadcast.Broadcaster, queue messagequeue.Queue, metrics *otelad.Metrics, logger *slog.Logger, maxConcurrent int64, humanDeadline time.Duration) *Coordinator {
	return &Coordinator{
		store:         store,
		exec:          exec,
		tickets:       tickets,
		reporter:      reporter,
		hub:           hub,
		queue:         queue,
		metrics:       metrics,
		logger:        logger,
		sem:           semaphore.NewWeighted(maxConcurrent),
		humanDeadline: humanDeadline,
		now:           time.Now,
	}
}

// HandleChangeEvent registers a new revision of a change. Redelivery of the
// same revision returns the existing active instance unchanged; a newer
// revision cancels the active instance and starts a fresh one. The caller is
// responsible for starting Run on the returned instance when created is true.
func (c *Coordinator) HandleChangeEvent(ctx context.Context, change workflow.ChangeRef) (in *workflow.Instance, created bool, err error) {
	if err := change.Validate(); err != nil {
		return nil, false, err
	}

	active, err := c.store.GetActiveInstanceByChange(ctx, change.Key())
	switch {
	case err == nil:
		if active.Change.Revision == change.Revision {
			return active, false, nil
		}
		if err := c.cancel(ctx, active, "superseded by revision "+change.Revision); err != nil {
			return nil, false, err
		}
	case errors.Is(err, domain.ErrNotFound):
		// First sighting of this change.
	default:
		return nil, false, err
	}

	in = &workflow.Instance{
		ID:        generateID(),
		Change:    change,
		Status:    workflow.StatusInitialized,
		CreatedAt: c.now(),
	}
	if err := c.store.CreateInstance(ctx, in); err != nil {
		return nil, false, fmt.Errorf("create instance: %w", err)
	}

	if c.metrics != nil {
		c.metrics.WorkflowsStarted.Add(ctx, 1)
	}
	c.logger.Info("workflow started",
		"instance_id", in.ID, "change", change.Key(), "revision", change.Revision)
	c.broadcastStatus(ctx, in)
	return in, true, nil
}

// Run advances the instance until it suspends for a human decision or
// reaches a terminal status. Safe to call again on an already-advanced
// instance; it re-reads state and does nothing if there is nothing to do.
func (c *Coordinator) Run(ctx context.Context, instanceID string) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	in, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	ctx, span := otelad.StartWorkflowSpan(ctx, in.ID, in.Change.Key(), in.Change.Revision)
	defer span.End()

	if in.Status == workflow.StatusInitialized {
		in, err = applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
			if cur.Status != workflow.StatusInitialized {
				return errNoChange
			}
			cur.Status = workflow.StatusRunning
			return nil
		})
		if err != nil {
			return err
		}
		c.broadcastStatus(ctx, in)
	}

	for {
		if in.Status != workflow.StatusRunning {
			return nil
		}
		stepID, ok := in.NextStep()
		if !ok {
			return c.finalize(ctx, in)
		}

		if reason := workflow.SkipReason(stepID, in.Steps); reason != "" {
			in, err = c.skip(ctx, in, stepID, reason)
			if errors.Is(err, ErrSuperseded) {
				c.logger.Info("skip discarded, instance superseded",
					"instance_id", in.ID, "step", stepID)
				return nil
			}
			if err != nil {
				return err
			}
			continue
		}

		if stepID == workflow.StepHumanReview {
			return c.suspend(ctx, in)
		}

		rec, err := c.exec.Execute(ctx, in, stepID)
		if errors.Is(err, ErrSuperseded) {
			c.logger.Info("step result discarded, instance superseded",
				"instance_id", in.ID, "step", stepID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("execute %s: %w", stepID, err)
		}
		c.broadcastStep(ctx, in, rec)
	}
}

// skip records a terminal skipped step without invoking anything.
func (c *Coordinator) skip(ctx context.Context, in *workflow.Instance, stepID workflow.StepID, reason string) (*workflow.Instance, error) {
	at := c.now()
	updated, err := applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		if cur.Status != workflow.StatusRunning {
			return ErrSuperseded
		}
		if cur.Record(stepID) != nil {
			return errNoChange
		}
		return cur.AppendStep(workflow.StepRecord{
			ID:         generateID(),
			Step:       stepID,
			Status:     workflow.StepSkipped,
			StartedAt:  at,
			EndedAt:    &at,
			SkipReason: reason,
		})
	})
	if err != nil {
		return in, err
	}
	c.logger.Info("step skipped", "instance_id", in.ID, "step", stepID, "reason", reason)
	c.broadcastStep(ctx, updated, updated.Record(stepID))
	return updated, nil
}

// suspend parks the instance waiting for an external human decision, with
// the human-review SLA clock running.
func (c *Coordinator) suspend(ctx context.Context, in *workflow.Instance) error {
	at := c.now()
	deadline := at.Add(c.humanDeadline)
	updated, err := applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		if cur.Status != workflow.StatusRunning {
			return ErrSuperseded
		}
		if cur.Record(workflow.StepHumanReview) != nil {
			return errNoChange
		}
		if err := cur.AppendStep(workflow.StepRecord{
			ID:        generateID(),
			Step:      workflow.StepHumanReview,
			Status:    workflow.StepPending,
			StartedAt: at,
		}); err != nil {
			return err
		}
		cur.Status = workflow.StatusPendingHumanReview
		cur.StepDeadline = &deadline
		cur.ReminderSent = false
		cur.EscalationSent = false
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	c.logger.Info("workflow suspended for human review",
		"instance_id", updated.ID, "change", updated.Change.Key(), "deadline", deadline)
	c.reporter.PublishPending(ctx, updated)
	c.broadcastStatus(ctx, updated)
	return nil
}

// SubmitHumanDecision applies an approval or rejection to a suspended
// instance. Idempotent: repeated submissions after the step is terminal are
// accepted and ignored. The caller starts Run to continue the pipeline.
func (c *Coordinator) SubmitHumanDecision(ctx context.Context, instanceID, verdict string) error {
	in, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	at := c.now()
	applied := false
	_, err = applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		ok, rerr := cur.ResolveHumanReview(verdict, at)
		if rerr != nil {
			return rerr
		}
		if !ok {
			applied = false
			return errNoChange
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Info("duplicate human decision ignored",
			"instance_id", instanceID, "verdict", verdict)
		return nil
	}
	c.logger.Info("human decision applied",
		"instance_id", instanceID, "verdict", verdict)
	return nil
}

// ForceStepTimeout finalizes an overdue step as timed_out. Called by the SLA
// monitor when a step or human review exhausts its deadline. No-op when the
// step already reached a terminal status.
func (c *Coordinator) ForceStepTimeout(ctx context.Context, instanceID string, stepID workflow.StepID) error {
	in, err := c.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	at := c.now()
	forced := false
	_, err = applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		rec := cur.Record(stepID)
		if rec == nil || rec.Status.IsTerminal() || cur.Status.IsTerminal() {
			forced = false
			return errNoChange
		}
		if err := cur.FinishStep(stepID, workflow.StepTimedOut, at); err != nil {
			return err
		}
		cur.StepDeadline = nil
		if cur.Status == workflow.StatusPendingHumanReview {
			cur.Status = workflow.StatusRunning
		}
		forced = true
		return nil
	})
	if err != nil {
		return err
	}
	if !forced {
		return nil
	}
	c.logger.Warn("step forcibly timed out",
		"instance_id", instanceID, "step", stepID)
	return c.Run(ctx, instanceID)
}

// ResumeActive restarts non-terminal instances after a process restart.
// Suspended instances stay parked; their SLA clocks are already persisted.
func (c *Coordinator) ResumeActive(ctx context.Context, start func(instanceID string)) error {
	active, err := c.store.ListActiveInstances(ctx)
	if err != nil {
		return err
	}
	for i := range active {
		in := &active[i]
		switch in.Status {
		case workflow.StatusInitialized, workflow.StatusRunning:
			c.logger.Info("resuming workflow",
				"instance_id", in.ID, "change", in.Change.Key(), "status", in.Status)
			start(in.ID)
		case workflow.StatusPendingHumanReview:
			c.logger.Info("workflow still awaiting human review",
				"instance_id", in.ID, "change", in.Change.Key())
		}
	}
	return nil
}

// finalize computes and persists the merge decision, then fans out ticket
// resolution and reporting.
func (c *Coordinator) finalize(ctx context.Context, in *workflow.Instance) error {
	d := decision.Decide(in.Steps)
	if d == decision.PendingReview {
		// Human review is still open; nothing to finalize.
		return nil
	}

	status := workflow.StatusCompletedApproved
	if d == decision.Block {
		status = workflow.StatusCompletedBlocked
		if failing := in.FailingStep(); failing != nil && failing.Status == workflow.StepTimedOut {
			status = workflow.StatusTimedOut
		}
	}
	at := c.now()
	updated, err := applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		if cur.Status != workflow.StatusRunning {
			return ErrSuperseded
		}
		cur.Status = status
		cur.Decision = string(d)
		cur.CompletedAt = &at
		cur.StepDeadline = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	}
	in = updated

	if c.metrics != nil {
		c.metrics.WorkflowsDecided.Add(ctx, 1,
			metric.WithAttributes(attribute.String("decision", string(d))))
	}
	c.logger.Info("workflow decided",
		"instance_id", in.ID,
		"change", in.Change.Key(),
		"revision", in.Change.Revision,
		"decision", d,
		"status", in.Status,
	)

	var ticketKey, ticketNote string
	if d == decision.Block {
		ticketKey, ticketNote = c.tickets.Resolve(ctx, in)
	}
	c.reporter.Publish(ctx, in, d, ticketKey, ticketNote)
	c.broadcastStatus(ctx, in)
	return nil
}

// cancel supersedes an active instance. Results still in flight for it are
// discarded when their optimistic writes hit the terminal status.
func (c *Coordinator) cancel(ctx context.Context, in *workflow.Instance, reason string) error {
	at := c.now()
	updated, err := applyUpdate(ctx, c.store, in, func(cur *workflow.Instance) error {
		if cur.Status.IsTerminal() {
			return errNoChange
		}
		cur.Status = workflow.StatusCancelled
		cur.CompletedAt = &at
		cur.StepDeadline = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel instance %s: %w", in.ID, err)
	}
	if c.metrics != nil {
		c.metrics.WorkflowsCancelled.Add(ctx, 1)
	}
	c.logger.Info("workflow cancelled",
		"instance_id", updated.ID, "change", updated.Change.Key(), "reason", reason)
	c.broadcastStatus(ctx, updated)
	return nil
}

func (c *Coordinator) broadcastStatus(ctx context.Context, in *workflow.Instance) {
	c.hub.BroadcastEvent(ctx, ws.EventWorkflowStatus, ws.WorkflowStatusEvent{
		InstanceID: in.ID,
		ChangeKey:  in.Change.Key(),
		Revision:   in.Change.Revision,
		Status:     string(in.Status),
		Decision:   in.Decision,
	})
	c.publishEvent(ctx, messagequeue.WorkflowEventPayload{
		InstanceID: in.ID,
		ChangeKey:  in.Change.Key(),
		Status:     string(in.Status),
		Decision:   in.Decision,
	})
}

func (c *Coordinator) broadcastStep(ctx context.Context, in *workflow.Instance, rec *workflow.StepRecord) {
	if rec == nil {
		return
	}
	c.hub.BroadcastEvent(ctx, ws.EventStepStatus, ws.StepStatusEvent{
		InstanceID: in.ID,
		ChangeKey:  in.Change.Key(),
		Step:       string(rec.Step),
		Status:     string(rec.Status),
		Verdict:    rec.Verdict,
		SkipReason: rec.SkipReason,
	})
	c.publishEvent(ctx, messagequeue.WorkflowEventPayload{
		InstanceID: in.ID,
		ChangeKey:  in.Change.Key(),
		Status:     string(in.Status),
		Step:       string(rec.Step),
		StepStatus: string(rec.Status),
	})
}

// publishEvent emits a workflow event onto the stream for external
// consumers. Failures are logged, never propagated.
func (c *Coordinator) publishEvent(ctx context.Context, p messagequeue.WorkflowEventPayload) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.queue.Publish(ctx, messagequeue.SubjectWorkflowEvent, data); err != nil {
		c.logger.Debug("workflow event publish failed", "error", err)
	}
}
