package ghsurface

import (
	"context"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// captureSurface records the command the surface would run and replaces it
// with a no-op.
func captureSurface(calls *[][]string) *Surface {
	return &Surface{
		execCommand: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			*calls = append(*calls, append([]string{name}, args...))
			return exec.CommandContext(ctx, "true")
		},
	}
}

func testChange() workflow.ChangeRef {
	return workflow.ChangeRef{Repository: "acme/widgets", Number: 7, Revision: "0a1b2c3d"}
}

func TestPostSummaryComment(t *testing.T) {
	var calls [][]string
	s := captureSurface(&calls)

	if err := s.PostSummaryComment(context.Background(), testChange(), "## Review Report"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	want := []string{"gh", "pr", "comment", "7", "--repo", "acme/widgets", "--body", "## Review Report"}
	if !slices.Equal(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
}

func TestSetStatusCheck(t *testing.T) {
	var calls [][]string
	s := captureSurface(&calls)

	if err := s.SetStatusCheck(context.Background(), testChange(), "failure", "review blocked"); err != nil {
		t.Fatal(err)
	}
	want := []string{"gh", "api", "repos/acme/widgets/statuses/0a1b2c3d",
		"-f", "state=failure",
		"-f", "context=gatewright/review",
		"-f", "description=review blocked",
	}
	if !slices.Equal(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
}

func TestRejectsSuspectRepositoryRefs(t *testing.T) {
	var calls [][]string
	s := captureSurface(&calls)

	for _, repo := range []string{"", "--repo=evil", "norepo", "-x"} {
		change := testChange()
		change.Repository = repo
		if err := s.PostSummaryComment(context.Background(), change, "body"); err == nil {
			t.Errorf("repository %q accepted", repo)
		}
		if err := s.SetStatusCheck(context.Background(), change, "success", "ok"); err == nil {
			t.Errorf("repository %q accepted for status", repo)
		}
	}
	if len(calls) != 0 {
		t.Errorf("rejected refs still ran commands: %v", calls)
	}
}

func TestCommandFailureSurfacesStderr(t *testing.T) {
	s := &Surface{
		execCommand: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "sh", "-c", "echo 'gh: not logged in' >&2; exit 1")
		},
	}
	err := s.PostSummaryComment(context.Background(), testChange(), "body")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("error does not carry stderr: %v", err)
	}
}
