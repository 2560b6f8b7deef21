package routing

/*
 * Rule matching.
 *
 * Matches combines a rule's conditions under its match type (all=AND,
 * any=OR). A rule with zero conditions matches unconditionally; that is a
 * deliberate catch-all policy, not a degenerate case.
 *
 * Every condition is evaluated and its outcome recorded in the trace, even
 * when the combined result is already determined. Short-circuiting would be
 * cheaper but would leave holes in the per-condition diagnostics that the
 * dry-run surface depends on; condition counts per rule are small enough
 * that completeness wins.
 */

import "github.com/fieldstone/leadflow/internal/types"

// ConditionTrace records one condition's evaluation for diagnostics.
type ConditionTrace struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Matched  bool   `json:"matched"`

	// UnknownOperator marks a stored operator outside the closed set. The
	// condition evaluates false; the effectful caller logs the anomaly.
	UnknownOperator bool `json:"unknown_operator,omitempty"`
}

// MatchTrace records a full rule evaluation.
type MatchTrace struct {
	RuleID    types.RuleID    `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	MatchType types.MatchType `json:"match_type"`
	Matched   bool            `json:"matched"`

	// DefaultShortCircuit marks a default rule selected without evaluating
	// its conditions: a default always fires when reached, and the trace
	// keeps that visible for auditing.
	DefaultShortCircuit bool `json:"default_short_circuit,omitempty"`

	Conditions []ConditionTrace `json:"conditions,omitempty"`
}

// EvaluateCondition resolves the condition's field path against the record
// and applies its operator. Pure; never errors.
func EvaluateCondition(record Value, cond types.Condition) ConditionTrace {
	actual := Resolve(record, cond.Field)
	trace := ConditionTrace{
		Field:    cond.Field,
		Operator: cond.Operator,
		Expected: cond.Value,
		Actual:   actual.Interface(),
	}

	op, ok := ParseOperator(cond.Operator)
	if !ok {
		trace.UnknownOperator = true
		return trace
	}

	trace.Matched = Compare(op, actual, FromAny(cond.Value))
	return trace
}

// Matches evaluates every condition of the rule against the record and
// combines the outcomes under the rule's match type.
func Matches(record Value, rule *types.Rule) MatchTrace {
	trace := MatchTrace{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		MatchType: rule.MatchType,
	}

	if len(rule.Conditions) == 0 {
		trace.Matched = true
		return trace
	}

	trace.Conditions = make([]ConditionTrace, 0, len(rule.Conditions))
	allMatched := true
	anyMatched := false
	for _, cond := range rule.Conditions {
		ct := EvaluateCondition(record, cond)
		trace.Conditions = append(trace.Conditions, ct)
		if ct.Matched {
			anyMatched = true
		} else {
			allMatched = false
		}
	}

	if rule.MatchType == types.MatchAny {
		trace.Matched = anyMatched
	} else {
		// Unset or unrecognized match types behave as "all".
		trace.Matched = allMatched
	}
	return trace
}
