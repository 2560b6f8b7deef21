package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldstone/leadflow/internal/types"
)

type createGroupRequest struct {
	Name   string `json:"name"`
	Policy string `json:"policy"`
}

type groupResponse struct {
	Group   *types.Group        `json:"group"`
	Members []types.GroupMember `json:"members,omitempty"`
}

// CreateGroup adds a distribution group with an empty membership.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		h.badRequest(w, "name is required")
		return
	}
	policy := types.DistributionPolicy(req.Policy)
	if policy != types.PolicyFirstToClaim && policy != types.PolicyRoundRobin {
		h.badRequest(w, "policy must be first_to_claim or round_robin")
		return
	}

	group := &types.Group{
		ID:       types.NewGroupID(),
		TenantID: tenantID,
		Name:     req.Name,
		Policy:   policy,
	}
	if err := h.groups.Create(r.Context(), h.q.DB(), group); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, groupResponse{Group: group})
}

// ListGroups returns the tenant's groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	list, err := h.groups.List(r.Context(), h.q.DB(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"groups": list})
}

// GetGroup returns one group with its ordered membership.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := types.ParseGroupID(mux.Vars(r)["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	group, err := h.groups.Get(r.Context(), h.q.DB(), tenantID, groupID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	members, err := h.groups.Members(r.Context(), h.q.DB(), groupID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, groupResponse{Group: group, Members: members})
}

type memberRequest struct {
	UserID types.UserID `json:"user_id"`
}

// AddMember appends a user at the end of the group's rotation order.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := types.ParseGroupID(mux.Vars(r)["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		h.badRequest(w, "user_id is required")
		return
	}

	member, err := h.dist.AddMember(r.Context(), tenantID, groupID, req.UserID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, member)
}

// RemoveMember deletes a membership; the remaining order closes up.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	groupID, err := types.ParseGroupID(vars["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	if err := h.dist.RemoveMember(r.Context(), tenantID, groupID, types.UserID(vars["userID"])); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

type reorderRequest struct {
	Position int `json:"position"`
}

// ReorderMember moves a member to a new 1-based position in the rotation.
func (h *Handler) ReorderMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	groupID, err := types.ParseGroupID(vars["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := h.dist.ReorderMember(r.Context(), tenantID, groupID, types.UserID(vars["userID"]), req.Position); err != nil {
		h.respondError(w, r, err)
		return
	}

	members, err := h.groups.Members(r.Context(), h.q.DB(), groupID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"members": members})
}

type claimRequest struct {
	LeadID types.LeadID `json:"lead_id"`
	UserID types.UserID `json:"user_id"`
}

// ClaimLead lets a member take a group-available lead; first caller wins.
func (h *Handler) ClaimLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := types.ParseGroupID(mux.Vars(r)["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.LeadID == "" || req.UserID == "" {
		h.badRequest(w, "lead_id and user_id are required")
		return
	}

	if err := h.dist.Claim(r.Context(), tenantID, groupID, req.LeadID, req.UserID); err != nil {
		h.respondError(w, r, err)
		return
	}
	lead, err := h.leads.Get(r.Context(), h.q.DB(), tenantID, req.LeadID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, leadResponse{Lead: lead})
}

type distributeRequest struct {
	LeadID types.LeadID `json:"lead_id"`
}

// DistributeLead hands a group-available lead to the next member in
// round-robin rotation.
func (h *Handler) DistributeLead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	groupID, err := types.ParseGroupID(mux.Vars(r)["groupID"])
	if err != nil {
		h.badRequest(w, "invalid group id")
		return
	}

	var req distributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.LeadID == "" {
		h.badRequest(w, "lead_id is required")
		return
	}

	assignee, err := h.dist.Distribute(r.Context(), tenantID, groupID, req.LeadID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"assignee": assignee})
}
