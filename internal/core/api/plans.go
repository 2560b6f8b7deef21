package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldstone/leadflow/internal/types"
)

type planStepPayload struct {
	Kind         string `json:"kind"`
	Description  string `json:"description"`
	DelayMinutes int    `json:"delay_minutes"`
}

type createPlanRequest struct {
	Name  string            `json:"name"`
	Steps []planStepPayload `json:"steps"`
}

// CreatePlan adds an action plan with its ordered steps.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		h.badRequest(w, "name is required")
		return
	}
	if len(req.Steps) == 0 {
		h.badRequest(w, "at least one step is required")
		return
	}

	plan := &types.ActionPlan{
		ID:       types.NewPlanID(),
		TenantID: tenantID,
		Name:     req.Name,
	}
	for i, s := range req.Steps {
		if s.Kind == "" {
			h.badRequest(w, "step kind is required")
			return
		}
		if s.DelayMinutes < 0 {
			h.badRequest(w, "step delay_minutes must not be negative")
			return
		}
		plan.Steps = append(plan.Steps, types.ActionPlanStep{
			StepOrder:    i + 1,
			Kind:         s.Kind,
			Description:  s.Description,
			DelayMinutes: s.DelayMinutes,
		})
	}

	if err := h.plans.Create(r.Context(), h.q.DB(), plan); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, plan)
}

// ListPlans returns the tenant's action plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	plans, err := h.plans.List(r.Context(), h.q.DB(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"action_plans": plans})
}

// GetPlan returns one plan with its steps.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	planID, err := types.ParsePlanID(mux.Vars(r)["planID"])
	if err != nil {
		h.badRequest(w, "invalid plan id")
		return
	}
	plan, err := h.plans.Get(r.Context(), h.q.DB(), tenantID, planID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, plan)
}

type resolveExecutionRequest struct {
	Status string `json:"status"`
}

// ResolveExecution marks a pending or due execution completed, skipped, or
// failed. Already-resolved executions answer 409.
func (h *Handler) ResolveExecution(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	executionID, err := types.ParseExecutionID(mux.Vars(r)["executionID"])
	if err != nil {
		h.badRequest(w, "invalid execution id")
		return
	}

	var req resolveExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	status := types.ExecutionStatus(req.Status)
	switch status {
	case types.ExecutionCompleted, types.ExecutionSkipped, types.ExecutionFailed:
	default:
		h.badRequest(w, "status must be completed, skipped, or failed")
		return
	}

	resolved, err := h.plans.Resolve(r.Context(), h.q.DB(), tenantID, executionID, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !resolved {
		h.respondJSON(w, http.StatusConflict, errorResponse{Error: "execution already resolved or not found"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"execution_id": executionID, "status": status})
}
