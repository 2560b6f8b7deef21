package routing

/*
 * Rule selection.
 *
 * SelectRule filters the tenant's rules down to candidates for the event's
 * source, orders them ascending by (priority, rule_id) for deterministic
 * tie-breaking, and returns the first rule that is a default or whose
 * conditions match the record.
 *
 * A default rule short-circuits condition evaluation entirely: when reached
 * in priority order it is selected even if it carries conditions that would
 * evaluate false. This preserves the observed contract of the system this
 * engine replaces; the trace marks the short-circuit so it stays auditable.
 *
 * Read-only and pure: safe for concurrent use and for the dry-run surface.
 */

import (
	"sort"

	"github.com/fieldstone/leadflow/internal/types"
)

// Selection is the outcome of rule selection: the winning rule (nil when no
// candidate matched) and the evaluation trace of every candidate considered,
// in evaluation order.
type Selection struct {
	Rule   *types.Rule  `json:"rule,omitempty"`
	Traces []MatchTrace `json:"traces,omitempty"`
}

// SelectRule picks the routing rule for a lead record. rules may arrive in
// any order; inactive rules and rules whose source filter excludes the event
// are not candidates. Returns a Selection with Rule==nil when nothing
// matches; that is not an error.
func SelectRule(rules []types.Rule, record Value, src *types.SourceRef) Selection {
	candidates := make([]*types.Rule, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		if !r.IsActive {
			continue
		}
		if !r.AppliesToSource(src) {
			continue
		}
		candidates = append(candidates, r)
	}

	// Ascending (priority, rule_id); rule_id breaks ties deterministically
	// regardless of input order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	sel := Selection{Traces: make([]MatchTrace, 0, len(candidates))}
	for _, r := range candidates {
		if r.IsDefault {
			sel.Traces = append(sel.Traces, MatchTrace{
				RuleID:              r.ID,
				RuleName:            r.Name,
				MatchType:           r.MatchType,
				Matched:             true,
				DefaultShortCircuit: true,
			})
			sel.Rule = r
			return sel
		}
		trace := Matches(record, r)
		sel.Traces = append(sel.Traces, trace)
		if trace.Matched {
			sel.Rule = r
			return sel
		}
	}
	return sel
}
