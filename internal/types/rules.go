package types

/*
 * Domain types for lead-flow rules.
 *
 * Provides Rule and Condition structures consumed by internal/routing for
 * matching and by internal/engine for application. These types are storage
 * and wire agnostic; row scanning happens in internal/core/store and JSON
 * shaping in internal/core/api.
 *
 * Key invariants:
 *   - Rules are evaluated in ascending (priority, rule_id) order; first
 *     match wins.
 *   - A default rule (IsDefault) matches unconditionally when reached, even
 *     if it carries conditions.
 *   - A rule with zero conditions matches unconditionally (catch-all).
 */

import "time"

// MatchType is the combination policy across a rule's conditions.
type MatchType string

const (
	// MatchAll requires every condition to hold (AND).
	MatchAll MatchType = "all"

	// MatchAny requires at least one condition to hold (OR).
	MatchAny MatchType = "any"
)

// ParseMatchType validates a match type string.
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(s) {
	case MatchAll, MatchAny:
		return MatchType(s), nil
	default:
		return "", ErrInvalidMatchType
	}
}

// Rule is a tenant-scoped routing policy: a source filter, an ordered
// position, a set of conditions, and the assignment actions applied when the
// rule fires.
//
// SourceType/SourceName filter which lead events the rule applies to. A nil
// SourceName with a set SourceType is a wildcard over channel names; both
// nil means the rule applies to every source. A default rule is always a
// candidate regardless of source.
type Rule struct {
	ID         RuleID    `db:"rule_id" json:"id"`
	TenantID   TenantID  `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	Priority   int       `db:"priority" json:"priority"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	SourceType *string   `db:"source_type" json:"source_type,omitempty"`
	SourceName *string   `db:"source_name" json:"source_name,omitempty"`
	MatchType  MatchType `db:"match_type" json:"match_type"`

	// Assignment actions; nil fields leave the lead untouched.
	AssignedAgentID     *UserID  `db:"assigned_agent_id" json:"assigned_agent_id,omitempty"`
	AssignedLenderID    *UserID  `db:"assigned_lender_id" json:"assigned_lender_id,omitempty"`
	AvailableForGroupID *GroupID `db:"available_for_group_id" json:"available_for_group_id,omitempty"`
	PondID              *PondID  `db:"pond_id" json:"pond_id,omitempty"`
	ActionPlanID        *PlanID  `db:"action_plan_id" json:"action_plan_id,omitempty"`

	// Fire statistics, updated by the applicator inside its transaction.
	LeadsCount int64      `db:"leads_count" json:"leads_count"`
	LastLeadAt *time.Time `db:"last_lead_at" json:"last_lead_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Conditions []Condition `json:"conditions"`
}

// Condition is a single field/operator/value predicate attached to a rule.
// Field is a dotted path into the lead record ("price", "emails.0.value").
// Operator is stored as its canonical string name; internal/routing owns the
// closed operator set and its parsing.
type Condition struct {
	ID       ConditionID `db:"condition_id" json:"id"`
	RuleID   RuleID      `db:"rule_id" json:"rule_id"`
	Field    string      `db:"field" json:"field"`
	Operator string      `db:"operator" json:"operator"`
	Value    any         `json:"value"`
}

// AppliesToSource reports whether the rule is a candidate for an event with
// the given source. A nil source restricts candidacy to unscoped rules and
// defaults.
func (r *Rule) AppliesToSource(src *SourceRef) bool {
	if r.IsDefault {
		return true
	}
	if src == nil || src.Type == "" {
		return r.SourceType == nil && r.SourceName == nil
	}
	if r.SourceType == nil {
		return r.SourceName == nil
	}
	if *r.SourceType != src.Type {
		return false
	}
	// Matching type with nil name is a wildcard over channel names.
	return r.SourceName == nil || *r.SourceName == src.Name
}
