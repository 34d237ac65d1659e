package workflow

import (
	"errors"
	"testing"
	"time"
)

func testChange() ChangeRef {
	return ChangeRef{
		Repository: "acme/widgets",
		Number:     42,
		Revision:   "abc123def456",
		Author:     "jdoe",
	}
}

func TestChangeRefValidate(t *testing.T) {
	if err := testChange().Validate(); err != nil {
		t.Fatalf("valid change rejected: %v", err)
	}

	c := testChange()
	c.Repository = ""
	if err := c.Validate(); !errors.Is(err, ErrRepoRequired) {
		t.Errorf("missing repository: got %v", err)
	}

	c = testChange()
	c.Revision = ""
	if err := c.Validate(); !errors.Is(err, ErrRevisionRequired) {
		t.Errorf("missing revision: got %v", err)
	}
}

func TestChangeRefKey(t *testing.T) {
	if got := testChange().Key(); got != "acme/widgets#42" {
		t.Errorf("Key() = %q", got)
	}
}

func TestNextStepOrder(t *testing.T) {
	in := &Instance{Status: StatusRunning}

	step, ok := in.NextStep()
	if !ok || step != StepQuality {
		t.Fatalf("first step = %v %v, want quality-check", step, ok)
	}

	now := time.Now()
	in.Steps = append(in.Steps, StepRecord{Step: StepQuality, Status: StepPassed, StartedAt: now, EndedAt: &now})
	step, ok = in.NextStep()
	if !ok || step != StepPattern {
		t.Fatalf("second step = %v %v, want pattern-check", step, ok)
	}
}

func TestNextStepFailFast(t *testing.T) {
	in := &Instance{
		Status: StatusRunning,
		Steps: []StepRecord{
			{Step: StepQuality, Status: StepFailed, Verdict: VerdictFail},
		},
	}
	if step, ok := in.NextStep(); ok {
		t.Errorf("halted instance offered step %s", step)
	}
	if !in.Halted() {
		t.Error("Halted() = false after a failed step")
	}
}

func TestAppendStepEnforcesOrder(t *testing.T) {
	in := &Instance{Status: StatusRunning}

	err := in.AppendStep(StepRecord{Step: StepPattern, Status: StepRunning})
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("pattern before quality: got %v", err)
	}

	if err := in.AppendStep(StepRecord{Step: StepQuality, Status: StepRunning}); err != nil {
		t.Fatalf("quality first: %v", err)
	}

	// Quality is still running, pattern must wait.
	err = in.AppendStep(StepRecord{Step: StepPattern, Status: StepRunning})
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("pattern while quality running: got %v", err)
	}
}

func TestFinishStepIsAppendOnly(t *testing.T) {
	in := &Instance{Status: StatusRunning}
	if err := in.AppendStep(StepRecord{Step: StepQuality, Status: StepRunning}); err != nil {
		t.Fatal(err)
	}
	at := time.Now()
	if err := in.FinishStep(StepQuality, StepPassed, at); err != nil {
		t.Fatalf("finish running step: %v", err)
	}
	err := in.FinishStep(StepQuality, StepFailed, at)
	if !errors.Is(err, ErrStepFinalized) {
		t.Errorf("re-finishing a terminal record: got %v", err)
	}
	if rec := in.Record(StepQuality); rec.Status != StepPassed {
		t.Errorf("terminal record mutated to %s", rec.Status)
	}
}

func TestResolveHumanReview(t *testing.T) {
	now := time.Now()
	suspended := func() *Instance {
		return &Instance{
			Status: StatusPendingHumanReview,
			Steps: []StepRecord{
				{Step: StepQuality, Status: StepPassed, EndedAt: &now},
				{Step: StepPattern, Status: StepPassed, Verdict: VerdictNewPattern, EndedAt: &now},
				{Step: StepAlignment, Status: StepPassed, Verdict: VerdictCompliant, EndedAt: &now},
				{Step: StepHumanReview, Status: StepPending, StartedAt: now},
			},
		}
	}

	t.Run("approved", func(t *testing.T) {
		in := suspended()
		applied, err := in.ResolveHumanReview(VerdictApproved, now)
		if err != nil || !applied {
			t.Fatalf("ResolveHumanReview = %v, %v", applied, err)
		}
		if rec := in.Record(StepHumanReview); rec.Status != StepPassed {
			t.Errorf("status = %s, want passed", rec.Status)
		}
		if in.Status != StatusRunning {
			t.Errorf("instance status = %s, want running", in.Status)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		in := suspended()
		applied, err := in.ResolveHumanReview(VerdictRejected, now)
		if err != nil || !applied {
			t.Fatalf("ResolveHumanReview = %v, %v", applied, err)
		}
		if rec := in.Record(StepHumanReview); rec.Status != StepFailed {
			t.Errorf("status = %s, want failed", rec.Status)
		}
	})

	t.Run("duplicate is no-op", func(t *testing.T) {
		in := suspended()
		if _, err := in.ResolveHumanReview(VerdictApproved, now); err != nil {
			t.Fatal(err)
		}
		in.Status = StatusRunning
		applied, err := in.ResolveHumanReview(VerdictRejected, now)
		if err != nil {
			t.Fatalf("duplicate resolve errored: %v", err)
		}
		if applied {
			t.Error("duplicate resolve was applied")
		}
		if rec := in.Record(StepHumanReview); rec.Status != StepPassed || rec.Verdict != VerdictApproved {
			t.Errorf("first decision overwritten: %s/%s", rec.Status, rec.Verdict)
		}
	})

	t.Run("invalid verdict", func(t *testing.T) {
		in := suspended()
		if _, err := in.ResolveHumanReview("maybe", now); err == nil {
			t.Error("invalid verdict accepted")
		}
	})

	t.Run("not suspended", func(t *testing.T) {
		in := &Instance{Status: StatusRunning}
		if _, err := in.ResolveHumanReview(VerdictApproved, now); !errors.Is(err, ErrNotSuspended) {
			t.Errorf("got %v, want ErrNotSuspended", err)
		}
	})
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompletedApproved, StatusCompletedBlocked, StatusCancelled, StatusTimedOut}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []Status{StatusInitialized, StatusRunning, StatusPendingHumanReview}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
