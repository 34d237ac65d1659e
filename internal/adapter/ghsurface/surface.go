// Package ghsurface implements the review-surface port for GitHub pull
// requests using the gh CLI.
package ghsurface

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Surface posts pipeline results to GitHub via the gh CLI.
type Surface struct {
	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a gh-CLI-backed review surface.
func New() *Surface {
	return &Surface{execCommand: exec.CommandContext}
}

// statusContext is the name under which the commit status appears.
const statusContext = "gatewright/review"

// PostSummaryComment posts the rendered report as a PR comment.
func (s *Surface) PostSummaryComment(ctx context.Context, change workflow.ChangeRef, body string) error {
	if err := validateRepo(change.Repository); err != nil {
		return err
	}

	cmd := s.execCommand(ctx, "gh", "pr", "comment", strconv.Itoa(change.Number),
		"--repo", change.Repository,
		"--body", body,
	)
	return run(cmd, "gh pr comment")
}

// SetStatusCheck sets the commit status on the change's revision.
func (s *Surface) SetStatusCheck(ctx context.Context, change workflow.ChangeRef, state, description string) error {
	if err := validateRepo(change.Repository); err != nil {
		return err
	}

	cmd := s.execCommand(ctx, "gh", "api",
		fmt.Sprintf("repos/%s/statuses/%s", change.Repository, change.Revision),
		"-f", "state="+state,
		"-f", "context="+statusContext,
		"-f", "description="+description,
	)
	return run(cmd, "gh api statuses")
}

func run(cmd *exec.Cmd, op string) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s: %w", op, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// validateRepo rejects repository refs that could smuggle CLI flags.
func validateRepo(repo string) error {
	if repo == "" || strings.HasPrefix(repo, "-") || !strings.Contains(repo, "/") {
		return fmt.Errorf("invalid repository ref %q", repo)
	}
	return nil
}
