// Package httpcollab implements the collaborator port over HTTP: each
// pipeline step is invoked as a request/response call to an analysis
// service endpoint.
package httpcollab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/collaborator"
)

// Invoker calls one step's analysis service over HTTP.
type Invoker struct {
	name   string
	url    string
	client *http.Client
}

// New creates an Invoker for the named dependency at the given endpoint.
func New(name, url string) *Invoker {
	return &Invoker{
		name: name,
		url:  url,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name identifies the dependency for circuit-breaker bookkeeping.
func (i *Invoker) Name() string { return i.name }

// wireFinding mirrors one finding in the collaborator's JSON response.
type wireFinding struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// wireResponse mirrors the collaborator's JSON response body.
type wireResponse struct {
	Verdict   string        `json:"verdict"`
	Findings  []wireFinding `json:"findings"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// Invoke posts the step request and decodes the verdict. Non-2xx responses
// and transport failures are returned as errors for retry classification;
// deadline expiry surfaces as ctx's deadline error.
func (i *Invoker) Invoke(ctx context.Context, req collaborator.Request) (*collaborator.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal step request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build step request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", i.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("call %s: status %d", i.name, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", i.name, err)
	}

	out := &collaborator.Response{
		Verdict: wire.Verdict,
		Elapsed: time.Duration(wire.ElapsedMS) * time.Millisecond,
	}
	for _, f := range wire.Findings {
		out.Findings = append(out.Findings, workflow.Finding{
			Severity:    workflow.Severity(f.Severity),
			Category:    f.Category,
			Description: f.Description,
			File:        f.File,
			Line:        f.Line,
			Remediation: f.Remediation,
		})
	}
	return out, nil
}
