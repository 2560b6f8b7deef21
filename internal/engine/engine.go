// Package engine is the effectful half of lead routing. It loads the
// tenant's rules, delegates the decision to internal/routing, and applies
// the winning rule's assignment actions inside a single transaction. All
// persistence and logging for routing happens here; the decision functions
// it calls stay pure.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/actionplan"
	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/routing"
	"github.com/fieldstone/leadflow/internal/types"
)

// AppliedChange records one assignment field mutation for auditability.
type AppliedChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// RuleApplicationResult reports what a routing pass did to a lead.
type RuleApplicationResult struct {
	RuleID     types.RuleID         `json:"rule_id"`
	RuleName   string               `json:"rule_name"`
	LeadID     types.LeadID         `json:"lead_id"`
	Changes    []AppliedChange      `json:"changes"`
	Executions []types.ExecutionID  `json:"executions,omitempty"`
	Traces     []routing.MatchTrace `json:"traces,omitempty"`
}

// Engine routes leads through the tenant's rule set.
type Engine struct {
	q         *db.Queries
	leads     *store.Leads
	rules     *store.Rules
	scheduler actionplan.Scheduler
	log       *zap.Logger
}

// New creates a routing engine.
func New(q *db.Queries, leads *store.Leads, rules *store.Rules, scheduler actionplan.Scheduler, log *zap.Logger) *Engine {
	return &Engine{q: q, leads: leads, rules: rules, scheduler: scheduler, log: log}
}

// ProcessLead routes one lead event: select a rule for the lead and the
// event's source, then apply it. Returns nil (and no error) when no rule
// matches; the lead is simply left unassigned by this mechanism.
//
// Selection runs outside the apply transaction on a point-in-time read of
// the rule set; a rule edited between selection and application is an
// accepted race.
func (e *Engine) ProcessLead(ctx context.Context, tenantID types.TenantID, leadID types.LeadID, src *types.SourceRef) (*RuleApplicationResult, error) {
	lead, err := e.leads.Get(ctx, e.q.DB(), tenantID, leadID)
	if err != nil {
		return nil, err
	}

	sel, err := e.Select(ctx, tenantID, lead, src)
	if err != nil {
		return nil, err
	}
	if sel.Rule == nil {
		e.log.Debug("no rule matched lead",
			zap.String("tenant_id", string(tenantID)),
			zap.String("lead_id", string(leadID)))
		return nil, nil
	}

	result, err := e.ApplyRule(ctx, tenantID, leadID, sel.Rule)
	if err != nil {
		return nil, err
	}
	result.Traces = sel.Traces
	return result, nil
}

// Select is the read-only half of routing: it evaluates the tenant's rules
// against the lead without side effects, which also backs the dry-run
// surface. Unknown operators surfacing in the traces are logged here, once,
// at the effectful boundary.
func (e *Engine) Select(ctx context.Context, tenantID types.TenantID, lead *types.Lead, src *types.SourceRef) (routing.Selection, error) {
	rules, err := e.rules.List(ctx, e.q.DB(), tenantID)
	if err != nil {
		return routing.Selection{}, err
	}

	record, err := BuildRecord(lead)
	if err != nil {
		return routing.Selection{}, fmt.Errorf("failed to build record for lead %s: %w", lead.ID, err)
	}

	sel := routing.SelectRule(rules, record, src)
	for _, trace := range sel.Traces {
		for _, ct := range trace.Conditions {
			if ct.UnknownOperator {
				e.log.Warn("condition has unknown operator, treated as non-matching",
					zap.String("tenant_id", string(tenantID)),
					zap.String("rule_id", string(trace.RuleID)),
					zap.String("field", ct.Field),
					zap.String("operator", ct.Operator))
			}
		}
	}
	return sel, nil
}

// ApplyRule executes the rule's assignment actions against the lead inside
// one transaction: lock the lead row, copy the rule's non-nil action fields,
// request action-plan scheduling, persist, and bump the rule's counters.
// All-or-nothing; on error the lead is left exactly as it was.
func (e *Engine) ApplyRule(ctx context.Context, tenantID types.TenantID, leadID types.LeadID, rule *types.Rule) (*RuleApplicationResult, error) {
	result := &RuleApplicationResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		LeadID:   leadID,
	}

	err := e.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Re-read under lock; the pre-selection copy may be stale.
		lead, err := e.leads.GetForUpdate(ctx, tx, tenantID, leadID)
		if err != nil {
			return err
		}

		result.Changes = applyActions(lead, rule)

		if rule.ActionPlanID != nil {
			assignee := lead.AssignedUserID
			if rule.AssignedAgentID != nil {
				assignee = rule.AssignedAgentID
			}
			if assignee == nil {
				// Nobody to attach follow-ups to; assignment itself still
				// proceeds.
				e.log.Warn("skipping action plan, no assignee",
					zap.String("rule_id", string(rule.ID)),
					zap.String("lead_id", string(leadID)))
			} else {
				ids, err := e.scheduler.Assign(ctx, tx, tenantID, *rule.ActionPlanID, leadID, *assignee)
				if err != nil {
					return fmt.Errorf("action plan assignment failed: %w", err)
				}
				result.Executions = ids
			}
		}

		if err := e.leads.UpdateAssignments(ctx, tx, lead); err != nil {
			return err
		}
		return e.rules.IncrementStats(ctx, tx, rule.ID, time.Now().UTC())
	})
	if err != nil {
		e.log.Error("rule application rolled back",
			zap.String("tenant_id", string(tenantID)),
			zap.String("rule_id", string(rule.ID)),
			zap.String("lead_id", string(leadID)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to apply rule %s to lead %s: %w", rule.ID, leadID, err)
	}

	e.log.Info("rule applied",
		zap.String("tenant_id", string(tenantID)),
		zap.String("rule_id", string(rule.ID)),
		zap.String("lead_id", string(leadID)),
		zap.Int("changes", len(result.Changes)))
	return result, nil
}

// applyActions copies the rule's non-nil action fields onto the lead and
// returns the audit list. Re-applying the same rule yields the same final
// fields (and an empty change list the second time).
func applyActions(lead *types.Lead, rule *types.Rule) []AppliedChange {
	changes := make([]AppliedChange, 0, 4)

	if rule.AssignedAgentID != nil && !equalUser(lead.AssignedUserID, rule.AssignedAgentID) {
		changes = append(changes, AppliedChange{Field: "assigned_user_id", From: deref(lead.AssignedUserID), To: string(*rule.AssignedAgentID)})
		lead.AssignedUserID = rule.AssignedAgentID
	}
	if rule.AssignedLenderID != nil && !equalUser(lead.AssignedLenderID, rule.AssignedLenderID) {
		changes = append(changes, AppliedChange{Field: "assigned_lender_id", From: deref(lead.AssignedLenderID), To: string(*rule.AssignedLenderID)})
		lead.AssignedLenderID = rule.AssignedLenderID
	}
	if rule.AvailableForGroupID != nil && (lead.AvailableForGroupID == nil || *lead.AvailableForGroupID != *rule.AvailableForGroupID) {
		var from any
		if lead.AvailableForGroupID != nil {
			from = string(*lead.AvailableForGroupID)
		}
		changes = append(changes, AppliedChange{Field: "available_for_group_id", From: from, To: string(*rule.AvailableForGroupID)})
		lead.AvailableForGroupID = rule.AvailableForGroupID
	}
	if rule.PondID != nil && (lead.AssignedPondID == nil || *lead.AssignedPondID != *rule.PondID) {
		var from any
		if lead.AssignedPondID != nil {
			from = string(*lead.AssignedPondID)
		}
		changes = append(changes, AppliedChange{Field: "assigned_pond_id", From: from, To: string(*rule.PondID)})
		lead.AssignedPondID = rule.PondID
	}
	return changes
}

func equalUser(a, b *types.UserID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(u *types.UserID) any {
	if u == nil {
		return nil
	}
	return string(*u)
}

// BuildRecord merges a lead's structured columns with its free-form
// attributes into the Value tree conditions resolve against. Attribute keys
// never shadow the structured fields; "id", "name", "source" and the
// assignment fields always reflect the columns.
func BuildRecord(lead *types.Lead) (routing.Value, error) {
	record, err := routing.FromJSON(lead.Attributes)
	if err != nil {
		return routing.Null(), err
	}
	if record.Kind() != routing.KindMap {
		record = routing.Map(map[string]routing.Value{})
	}

	record.SetKey("id", routing.String(string(lead.ID)))
	record.SetKey("name", routing.String(lead.Name))

	source := map[string]routing.Value{}
	if lead.SourceType != nil {
		source["type"] = routing.String(*lead.SourceType)
	}
	if lead.SourceName != nil {
		source["name"] = routing.String(*lead.SourceName)
	}
	record.SetKey("source", routing.Map(source))

	record.SetKey("assigned_user_id", optional(lead.AssignedUserID))
	record.SetKey("assigned_lender_id", optional(lead.AssignedLenderID))
	if lead.AssignedPondID != nil {
		record.SetKey("assigned_pond_id", routing.String(string(*lead.AssignedPondID)))
	} else {
		record.SetKey("assigned_pond_id", routing.Null())
	}
	return record, nil
}

func optional(u *types.UserID) routing.Value {
	if u == nil {
		return routing.Null()
	}
	return routing.String(string(*u))
}

// DryRun evaluates the tenant's rules against an ad-hoc payload without
// touching any lead. No counters move, nothing is assigned; the traces show
// which rule would fire and why.
func (e *Engine) DryRun(ctx context.Context, tenantID types.TenantID, payload json.RawMessage, src *types.SourceRef) (routing.Selection, error) {
	record, err := routing.FromJSON(payload)
	if err != nil {
		return routing.Selection{}, fmt.Errorf("invalid dry-run payload: %w", err)
	}
	rules, err := e.rules.List(ctx, e.q.DB(), tenantID)
	if err != nil {
		return routing.Selection{}, err
	}
	return routing.SelectRule(rules, record, src), nil
}
