package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/adapter/ws"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// recordingHub captures SLA signals for assertions.
type recordingHub struct {
	mu      sync.Mutex
	signals []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	if eventType != ws.EventSLASignal {
		return
	}
	ev, ok := payload.(ws.SLASignalEvent)
	if !ok {
		return
	}
	h.mu.Lock()
	h.signals = append(h.signals, ev.Signal)
	h.mu.Unlock()
}

func (h *recordingHub) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.signals...)
}

func slaConfig() config.SLA {
	return config.SLA{
		ScanInterval:        30 * time.Second,
		ReminderFraction:    0.5,
		EscalationFraction:  0.87,
		HumanReviewDeadline: 8 * time.Hour,
	}
}

func newSLAHarness(t *testing.T) (*harness, *SLAService, *recordingHub) {
	t.Helper()
	h := newHarness(nil)
	hub := &recordingHub{}
	sla := NewSLAService(h.store, h.coord, hub, slaConfig(), nil, testLogger())
	return h, sla, hub
}

// seedRunningStep stores an instance mid-step with the given deadline budget.
func seedRunningStep(t *testing.T, h *harness, startedAt time.Time, budget time.Duration) *workflow.Instance {
	t.Helper()
	deadline := startedAt.Add(budget)
	in := &workflow.Instance{
		ID:     "inst-sla",
		Change: testChange(),
		Status: workflow.StatusRunning,
		Steps: []workflow.StepRecord{
			{ID: "s1", Step: workflow.StepQuality, Status: workflow.StepRunning, StartedAt: startedAt},
		},
		StepDeadline: &deadline,
		CreatedAt:    startedAt,
	}
	if err := h.store.CreateInstance(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	return in
}

func TestSLAReminderFiresOnce(t *testing.T) {
	h, sla, hub := newSLAHarness(t)
	start := time.Now().Add(-6 * time.Minute)
	in := seedRunningStep(t, h, start, 10*time.Minute) // 60% elapsed

	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hub.all(); len(got) != 1 || got[0] != SignalReminder {
		t.Fatalf("signals = %v, want [reminder]", got)
	}

	stored := h.instance(t, in.ID)
	if !stored.ReminderSent {
		t.Error("reminder flag not persisted")
	}

	// A second scan over the same state must not fire again.
	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hub.all(); len(got) != 1 {
		t.Errorf("signals after rescan = %v, reminder fired twice", got)
	}
}

func TestSLAEscalationFiresOnce(t *testing.T) {
	h, sla, hub := newSLAHarness(t)
	start := time.Now().Add(-9 * time.Minute)
	seedRunningStep(t, h, start, 10*time.Minute) // 90% elapsed

	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := hub.all()
	if len(got) != 1 || got[0] != SignalEscalation {
		t.Fatalf("signals = %v, want exactly [escalation]", got)
	}
}

func TestSLAForcedTimeoutFinalizesInstance(t *testing.T) {
	h, sla, hub := newSLAHarness(t)
	start := time.Now().Add(-11 * time.Minute)
	in := seedRunningStep(t, h, start, 10*time.Minute) // budget exhausted

	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := h.instance(t, in.ID)
	rec := got.Record(workflow.StepQuality)
	if rec.Status != workflow.StepTimedOut {
		t.Errorf("step = %s, want timed_out", rec.Status)
	}
	if got.Status != workflow.StatusTimedOut {
		t.Errorf("instance = %s, want timed_out", got.Status)
	}
	if got.Decision != "BLOCK" {
		t.Errorf("decision = %q, want BLOCK", got.Decision)
	}
	found := false
	for _, s := range hub.all() {
		if s == SignalTimeout {
			found = true
		}
	}
	if !found {
		t.Error("timeout signal not broadcast")
	}
	// A forced timeout still opens a ticket for the failing step.
	if h.tracker.createdCount() != 1 {
		t.Errorf("tickets created = %d, want 1", h.tracker.createdCount())
	}

	// Rescan: the step is terminal, nothing further fires.
	before := len(hub.all())
	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(hub.all()) != before {
		t.Error("terminal instance fired another signal")
	}
}

func TestSLAHumanReviewTimeout(t *testing.T) {
	h, sla, _ := newSLAHarness(t)
	start := time.Now().Add(-9 * time.Hour)
	endedAt := start.Add(time.Minute)
	deadline := start.Add(8 * time.Hour)
	in := &workflow.Instance{
		ID:     "inst-hr",
		Change: testChange(),
		Status: workflow.StatusPendingHumanReview,
		Steps: []workflow.StepRecord{
			{Step: workflow.StepQuality, Status: workflow.StepPassed, Verdict: "pass", StartedAt: start, EndedAt: &endedAt},
			{Step: workflow.StepPattern, Status: workflow.StepPassed, Verdict: "new-pattern", StartedAt: start, EndedAt: &endedAt},
			{Step: workflow.StepAlignment, Status: workflow.StepPassed, Verdict: "compliant", StartedAt: start, EndedAt: &endedAt},
			{Step: workflow.StepHumanReview, Status: workflow.StepPending, StartedAt: start},
		},
		StepDeadline: &deadline,
		CreatedAt:    start,
	}
	if err := h.store.CreateInstance(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := h.instance(t, in.ID)
	if rec := got.Record(workflow.StepHumanReview); rec.Status != workflow.StepTimedOut {
		t.Errorf("human review = %s, want timed_out", rec.Status)
	}
	if got.Status != workflow.StatusTimedOut {
		t.Errorf("instance = %s, want timed_out", got.Status)
	}

	// A decision arriving after the forced timeout is ignored.
	if err := h.coord.SubmitHumanDecision(context.Background(), in.ID, "approved"); err != nil {
		t.Fatalf("late decision errored: %v", err)
	}
	got = h.instance(t, in.ID)
	if rec := got.Record(workflow.StepHumanReview); rec.Status != workflow.StepTimedOut {
		t.Errorf("late decision mutated terminal record to %s", rec.Status)
	}
}

func TestSLAIgnoresInstancesWithoutDeadline(t *testing.T) {
	h, sla, hub := newSLAHarness(t)
	in := &workflow.Instance{
		ID:        "inst-idle",
		Change:    testChange(),
		Status:    workflow.StatusRunning,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateInstance(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if err := sla.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hub.all(); len(got) != 0 {
		t.Errorf("signals = %v, want none", got)
	}
}
