package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldstone/leadflow/internal/routing"
	"github.com/fieldstone/leadflow/internal/types"
)

type conditionPayload struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type rulePayload struct {
	Name                string             `json:"name"`
	Priority            int                `json:"priority"`
	IsActive            *bool              `json:"is_active,omitempty"`
	IsDefault           bool               `json:"is_default"`
	SourceType          *string            `json:"source_type,omitempty"`
	SourceName          *string            `json:"source_name,omitempty"`
	MatchType           string             `json:"match_type"`
	AssignedAgentID     *types.UserID      `json:"assigned_agent_id,omitempty"`
	AssignedLenderID    *types.UserID      `json:"assigned_lender_id,omitempty"`
	AvailableForGroupID *types.GroupID     `json:"available_for_group_id,omitempty"`
	PondID              *types.PondID      `json:"pond_id,omitempty"`
	ActionPlanID        *types.PlanID      `json:"action_plan_id,omitempty"`
	Conditions          []conditionPayload `json:"conditions"`
}

// toRule validates the payload and builds the domain rule. Operators are
// checked against the closed set here, at write time, so stored conditions
// never carry unknown operators by this path.
func (p *rulePayload) toRule(tenantID types.TenantID) (*types.Rule, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	matchType := types.MatchAll
	if p.MatchType != "" {
		mt, err := types.ParseMatchType(p.MatchType)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, p.MatchType)
		}
		matchType = mt
	}
	if p.SourceName != nil && p.SourceType == nil {
		return nil, fmt.Errorf("source_name requires source_type")
	}

	rule := &types.Rule{
		ID:                  types.NewRuleID(),
		TenantID:            tenantID,
		Name:                p.Name,
		Priority:            p.Priority,
		IsActive:            true,
		IsDefault:           p.IsDefault,
		SourceType:          p.SourceType,
		SourceName:          p.SourceName,
		MatchType:           matchType,
		AssignedAgentID:     p.AssignedAgentID,
		AssignedLenderID:    p.AssignedLenderID,
		AvailableForGroupID: p.AvailableForGroupID,
		PondID:              p.PondID,
		ActionPlanID:        p.ActionPlanID,
	}
	if p.IsActive != nil {
		rule.IsActive = *p.IsActive
	}

	for _, c := range p.Conditions {
		if c.Field == "" {
			return nil, fmt.Errorf("condition field is required")
		}
		if _, ok := routing.ParseOperator(c.Operator); !ok {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownOperator, c.Operator)
		}
		rule.Conditions = append(rule.Conditions, types.Condition{
			ID:       types.NewConditionID(),
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
		})
	}
	return rule, nil
}

// CreateRule adds a routing rule with its conditions.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	rule, err := payload.toRule(tenantID)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	if err := h.rules.Create(r.Context(), h.q.DB(), rule); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, rule)
}

// ListRules returns the tenant's rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	rules, err := h.rules.List(r.Context(), h.q.DB(), tenantID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule returns one rule with conditions.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ruleID, err := types.ParseRuleID(mux.Vars(r)["ruleID"])
	if err != nil {
		h.badRequest(w, "invalid rule id")
		return
	}
	rule, err := h.rules.Get(r.Context(), h.q.DB(), tenantID, ruleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// UpdateRule rewrites a rule and replaces its conditions.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ruleID, err := types.ParseRuleID(mux.Vars(r)["ruleID"])
	if err != nil {
		h.badRequest(w, "invalid rule id")
		return
	}

	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	rule, err := payload.toRule(tenantID)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	rule.ID = ruleID

	if err := h.rules.Update(r.Context(), h.q.DB(), rule); err != nil {
		h.respondError(w, r, err)
		return
	}

	updated, err := h.rules.Get(r.Context(), h.q.DB(), tenantID, ruleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ruleID, err := types.ParseRuleID(mux.Vars(r)["ruleID"])
	if err != nil {
		h.badRequest(w, "invalid rule id")
		return
	}
	if err := h.rules.Delete(r.Context(), h.q.DB(), tenantID, ruleID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

type copyRuleRequest struct {
	Source types.SourceRef `json:"source"`
}

// CopyRule duplicates a rule under a new source filter. The copy starts
// inactive.
func (h *Handler) CopyRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	ruleID, err := types.ParseRuleID(mux.Vars(r)["ruleID"])
	if err != nil {
		h.badRequest(w, "invalid rule id")
		return
	}

	var req copyRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Source.Type == "" {
		h.badRequest(w, "source.type is required")
		return
	}

	dup, err := h.rules.CopyToSource(r.Context(), tenantID, ruleID, req.Source)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, dup)
}

type dryRunRequest struct {
	Record json.RawMessage  `json:"record"`
	Source *types.SourceRef `json:"source,omitempty"`
}

type dryRunResponse struct {
	Rule   *types.Rule          `json:"rule,omitempty"`
	Traces []routing.MatchTrace `json:"traces"`
}

// DryRun evaluates the tenant's rules against a hypothetical lead record
// without persisting anything.
func (h *Handler) DryRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.Record) == 0 {
		h.badRequest(w, "record is required")
		return
	}

	sel, err := h.engine.DryRun(r.Context(), tenantID, req.Record, req.Source)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dryRunResponse{Rule: sel.Rule, Traces: sel.Traces})
}
