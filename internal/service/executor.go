package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelad "github.com/gatewright/gatewright/internal/adapter/otel"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/collaborator"
	"github.com/gatewright/gatewright/internal/port/database"
	"github.com/gatewright/gatewright/internal/resilience"
)

// Executor runs one automated step against its collaborator: per-call
// timeout, circuit breaker, and bounded retries with backoff. The resulting
// step record is persisted before Execute returns, so a crash between steps
// never loses a completed result.
type Executor struct {
	store    database.Store
	invokers map[workflow.StepID]collaborator.Invoker
	breakers *resilience.Registry
	retry    resilience.Policy
	steps    config.Steps
	metrics  *otelad.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates a step executor. metrics may be nil in tests.
func NewExecutor(store database.Store, invokers map[workflow.StepID]collaborator.Invoker, breakers *resilience.Registry, retry resilience.Policy, steps config.Steps, metrics *otelad.Metrics, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		invokers: invokers,
		breakers: breakers,
		retry:    retry,
		steps:    steps,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute runs the given automated step for the instance. It appends a
// running record with an SLA deadline, invokes the collaborator until a
// terminal classification is reached, then persists the finished record.
// Returns ErrSuperseded when the instance was cancelled or the step was
// force-timed-out while the call was in flight.
func (e *Executor) Execute(ctx context.Context, in *workflow.Instance, stepID workflow.StepID) (*workflow.StepRecord, error) {
	stepCfg := e.steps.StepFor(string(stepID))
	start := e.now()

	rec := workflow.StepRecord{
		ID:        generateID(),
		Step:      stepID,
		Status:    workflow.StepRunning,
		StartedAt: start,
	}
	if err := in.AppendStep(rec); err != nil {
		return nil, err
	}
	deadline := start.Add(stepCfg.Deadline)
	in.StepDeadline = &deadline
	in.ReminderSent = false
	in.EscalationSent = false
	if err := e.store.UpdateInstance(ctx, in); err != nil {
		return nil, fmt.Errorf("persist running step %s: %w", stepID, err)
	}

	sctx, span := otelad.StartStepSpan(ctx, in.ID, string(stepID))
	status, verdict, findings, attempts, errMsg := e.run(sctx, in, stepID, stepCfg)
	span.End()

	if e.metrics != nil {
		e.metrics.StepDuration.Record(ctx, e.now().Sub(start).Seconds(),
			metric.WithAttributes(
				attribute.String("step", string(stepID)),
				attribute.String("status", string(status)),
			))
	}

	updated, err := applyUpdate(ctx, e.store, in, func(cur *workflow.Instance) error {
		r := cur.Record(stepID)
		if r == nil || r.Status.IsTerminal() || cur.Status.IsTerminal() {
			return ErrSuperseded
		}
		r.Verdict = verdict
		r.Findings = findings
		r.Attempts = attempts
		r.Error = errMsg
		if err := cur.FinishStep(stepID, status, e.now()); err != nil {
			return err
		}
		cur.StepDeadline = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	*in = *updated

	e.logger.Info("step finished",
		"instance_id", in.ID,
		"change", in.Change.Key(),
		"step", stepID,
		"status", status,
		"verdict", verdict,
		"attempts", attempts,
	)
	return in.Record(stepID), nil
}

// run drives the attempt loop and classifies outcomes:
//   - valid verdict: passed or failed, never retried
//   - timeout: retried with backoff, then timed_out
//   - open circuit: error immediately, no retry
//   - anything else (transport, malformed verdict): retried, then error
func (e *Executor) run(ctx context.Context, in *workflow.Instance, stepID workflow.StepID, stepCfg config.Step) (status workflow.StepStatus, verdict string, findings []workflow.Finding, attempts int, errMsg string) {
	inv, ok := e.invokers[stepID]
	if !ok {
		return workflow.StepError, "", nil, 0, fmt.Sprintf("no collaborator configured for %s", stepID)
	}
	br := e.breakers.Get(inv.Name())
	req := collaborator.Request{Change: in.Change, Step: stepID}

	retries := 0
	for {
		attempts++

		var resp *collaborator.Response
		callCtx, cancel := context.WithTimeout(ctx, stepCfg.Timeout)
		err := br.Execute(func() error {
			r, ierr := inv.Invoke(callCtx, req)
			if ierr != nil {
				return ierr
			}
			resp = r
			return nil
		})
		cancel()

		switch {
		case err == nil:
			if !workflow.ValidVerdict(stepID, resp.Verdict) {
				errMsg = fmt.Sprintf("collaborator %s returned unknown verdict %q", inv.Name(), resp.Verdict)
			} else if workflow.VerdictPasses(stepID, resp.Verdict) {
				return workflow.StepPassed, resp.Verdict, resp.Findings, attempts, ""
			} else {
				return workflow.StepFailed, resp.Verdict, resp.Findings, attempts, ""
			}

		case errors.Is(err, resilience.ErrCircuitOpen):
			if e.metrics != nil {
				e.metrics.BreakerRejections.Add(ctx, 1,
					metric.WithAttributes(attribute.String("dependency", inv.Name())))
			}
			e.logger.Warn("circuit open, step not attempted",
				"instance_id", in.ID, "step", stepID, "dependency", inv.Name())
			return workflow.StepError, "", nil, attempts - 1, fmt.Sprintf("circuit open for %s", inv.Name())

		case errors.Is(err, context.DeadlineExceeded):
			errMsg = fmt.Sprintf("collaborator %s timed out after %s", inv.Name(), stepCfg.Timeout)
			if retries+1 >= e.retry.MaxAttempts {
				return workflow.StepTimedOut, "", nil, attempts, errMsg
			}

		default:
			errMsg = err.Error()
		}

		if retries+1 >= e.retry.MaxAttempts {
			return workflow.StepError, "", nil, attempts, errMsg
		}
		e.logger.Warn("step attempt failed, retrying",
			"instance_id", in.ID, "step", stepID, "attempt", attempts, "error", errMsg)
		if serr := e.retry.Sleep(ctx, retries); serr != nil {
			return workflow.StepError, "", nil, attempts, serr.Error()
		}
		retries++
	}
}
