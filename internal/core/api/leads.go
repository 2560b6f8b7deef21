package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldstone/leadflow/internal/engine"
	"github.com/fieldstone/leadflow/internal/types"
)

type createLeadRequest struct {
	Name       string           `json:"name"`
	Source     *types.SourceRef `json:"source,omitempty"`
	Attributes json.RawMessage  `json:"attributes,omitempty"`
}

type routeLeadRequest struct {
	Source *types.SourceRef `json:"source,omitempty"`
}

type leadResponse struct {
	Lead    *types.Lead                   `json:"lead"`
	Routing *engine.RuleApplicationResult `json:"routing,omitempty"`
}

// CreateLead ingests a lead and immediately routes it through the tenant's
// rules. The lead is persisted even when no rule matches; routing is then
// simply absent from the response.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req createLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		h.badRequest(w, "name is required")
		return
	}
	if len(req.Attributes) > 0 && !json.Valid(req.Attributes) {
		h.badRequest(w, "attributes must be valid JSON")
		return
	}

	now := time.Now().UTC()
	lead := &types.Lead{
		ID:         types.NewLeadID(),
		TenantID:   tenantID,
		Name:       req.Name,
		Attributes: req.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Source != nil {
		lead.SourceType = &req.Source.Type
		if req.Source.Name != "" {
			name := req.Source.Name
			lead.SourceName = &name
		}
	}

	if err := h.leads.Create(r.Context(), h.q.DB(), lead); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.engine.ProcessLead(r.Context(), tenantID, lead.ID, req.Source)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	routed, err := h.leads.Get(r.Context(), h.q.DB(), tenantID, lead.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, leadResponse{Lead: routed, Routing: result})
}

// GetLead returns one lead.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	leadID, err := types.ParseLeadID(mux.Vars(r)["leadID"])
	if err != nil {
		h.badRequest(w, "invalid lead id")
		return
	}

	lead, err := h.leads.Get(r.Context(), h.q.DB(), tenantID, leadID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, leadResponse{Lead: lead})
}

// RouteLead re-runs routing for an existing lead, typically after a rule
// edit or a second inquiry from another source.
func (h *Handler) RouteLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	leadID, err := types.ParseLeadID(mux.Vars(r)["leadID"])
	if err != nil {
		h.badRequest(w, "invalid lead id")
		return
	}

	var req routeLeadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.engine.ProcessLead(r.Context(), tenantID, leadID, req.Source)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	lead, err := h.leads.Get(r.Context(), h.q.DB(), tenantID, leadID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, leadResponse{Lead: lead, Routing: result})
}

// ListExecutions returns the action-plan executions scheduled for a lead.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	leadID, err := types.ParseLeadID(mux.Vars(r)["leadID"])
	if err != nil {
		h.badRequest(w, "invalid lead id")
		return
	}

	execs, err := h.plans.ExecutionsForLead(r.Context(), h.q.DB(), tenantID, leadID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"executions": execs})
}
