// Package collaborator defines the port for the external analysis services
// that execute individual pipeline steps.
package collaborator

import (
	"context"
	"time"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Request carries the change context for one step invocation.
type Request struct {
	Change  workflow.ChangeRef `json:"change"`
	Step    workflow.StepID    `json:"step"`
	Context map[string]string  `json:"context,omitempty"`
}

// Response is the collaborator's definite answer: an opaque verdict tag plus
// findings. The orchestrator validates the tag against the step's closed set
// and never inspects finding contents.
type Response struct {
	Verdict  string             `json:"verdict"`
	Findings []workflow.Finding `json:"findings,omitempty"`
	Elapsed  time.Duration      `json:"elapsed,omitempty"`
}

// Invoker invokes one step's external collaborator.
type Invoker interface {
	// Name identifies the dependency for circuit-breaker bookkeeping.
	Name() string

	// Invoke runs the step. A non-nil Response means a definite verdict was
	// obtained; an error means transport, auth, or deadline failure.
	Invoke(ctx context.Context, req Request) (*Response, error)
}
