// Package reviewsurface defines the port for the code-hosting review UI.
package reviewsurface

import (
	"context"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Surface posts pipeline results back to the code-hosting system.
type Surface interface {
	// PostSummaryComment posts the rendered report on the change.
	PostSummaryComment(ctx context.Context, change workflow.ChangeRef, body string) error

	// SetStatusCheck sets the commit status for the change's revision.
	// state is one of "success", "failure", "pending", "error".
	SetStatusCheck(ctx context.Context, change workflow.ChangeRef, state, description string) error
}
