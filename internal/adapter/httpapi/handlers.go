package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatewright/gatewright/internal/adapter/ws"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/database"
	"github.com/gatewright/gatewright/internal/port/messagequeue"
	"github.com/gatewright/gatewright/internal/service"
)

// Handlers bundles the dependencies shared by all HTTP handlers.
type Handlers struct {
	Coordinator *service.Coordinator
	Store       database.Store
	Hub         *ws.Hub
	Queue       messagequeue.Queue
}

type changeEventRequest struct {
	Repository  string `json:"repository"`
	Number      int    `json:"number"`
	Revision    string `json:"revision"`
	Author      string `json:"author"`
	AuthorEmail string `json:"author_email,omitempty"`
	URL         string `json:"url,omitempty"`
}

// HandleChangeEvent ingests a change event (opened PR or new revision) and
// starts or supersedes the workflow for it.
func (h *Handlers) HandleChangeEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[changeEventRequest](w, r)
	if !ok {
		return
	}
	change := workflow.ChangeRef{
		Repository:  req.Repository,
		Number:      req.Number,
		Revision:    req.Revision,
		Author:      req.Author,
		AuthorEmail: req.AuthorEmail,
		URL:         req.URL,
	}

	in, created, err := h.Coordinator.HandleChangeEvent(r.Context(), change)
	if err != nil {
		writeDomainError(w, err, "change event rejected")
		return
	}
	if created {
		go h.runDetached(r.Context(), in.ID)
		writeJSON(w, http.StatusAccepted, in)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type humanDecisionRequest struct {
	Verdict string `json:"verdict"` // "approved" or "rejected"
}

// SubmitHumanDecision records a human review verdict for a suspended
// instance and resumes the pipeline. Duplicate submissions are no-ops.
func (h *Handlers) SubmitHumanDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := readJSON[humanDecisionRequest](w, r)
	if !ok {
		return
	}
	if !workflow.ValidVerdict(workflow.StepHumanReview, req.Verdict) {
		writeError(w, http.StatusBadRequest, "verdict must be approved or rejected")
		return
	}

	if err := h.Coordinator.SubmitHumanDecision(r.Context(), id, req.Verdict); err != nil {
		writeDomainError(w, err, "workflow instance not found")
		return
	}
	go h.runDetached(r.Context(), id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetWorkflow returns one workflow instance with its full step history.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	in, err := h.Store.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow instance not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// ListActiveWorkflows returns all non-terminal instances.
func (h *Handlers) ListActiveWorkflows(w http.ResponseWriter, r *http.Request) {
	active, err := h.Store.ListActiveInstances(r.Context())
	if err != nil {
		writeDomainError(w, err, "list workflows failed")
		return
	}
	if active == nil {
		active = []workflow.Instance{}
	}
	writeJSON(w, http.StatusOK, active)
}

// Health reports liveness plus queue connectivity.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.Queue != nil && !h.Queue.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"connections": h.Hub.ConnectionCount(),
	})
}

// runDetached advances a workflow without tying it to the request lifetime.
func (h *Handlers) runDetached(ctx context.Context, instanceID string) {
	_ = h.Coordinator.Run(context.WithoutCancel(ctx), instanceID)
}
