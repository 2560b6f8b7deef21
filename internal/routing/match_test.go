package routing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fieldstone/leadflow/internal/types"
)

func condition(field, operator string, value any) types.Condition {
	return types.Condition{Field: field, Operator: operator, Value: value}
}

// A rule with zero conditions matches any record regardless of match type.
func TestMatches_VacuousTrue(t *testing.T) {
	record := mustValue(t, `{"price": 1}`)
	for _, mt := range []types.MatchType{types.MatchAll, types.MatchAny} {
		rule := &types.Rule{ID: "r1", MatchType: mt}
		trace := Matches(record, rule)
		if !trace.Matched {
			t.Errorf("match_type=%s: zero-condition rule Matched = false, want true", mt)
		}
		if len(trace.Conditions) != 0 {
			t.Errorf("match_type=%s: trace has %d conditions, want 0", mt, len(trace.Conditions))
		}
	}
}

func TestMatches_AllAny(t *testing.T) {
	record := mustValue(t, `{"price": 750000, "source": "zillow"}`)

	passes := condition("price", "greater_than", 500000)
	fails := condition("source", "equals", "realtor")

	tests := []struct {
		name       string
		matchType  types.MatchType
		conditions []types.Condition
		want       bool
	}{
		{"all with every condition true", types.MatchAll, []types.Condition{passes, condition("source", "equals", "zillow")}, true},
		{"all with one condition false", types.MatchAll, []types.Condition{passes, fails}, false},
		{"any with one condition true", types.MatchAny, []types.Condition{fails, passes}, true},
		{"any with every condition false", types.MatchAny, []types.Condition{fails, condition("price", "less_than", 100)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &types.Rule{ID: "r1", MatchType: tt.matchType, Conditions: tt.conditions}
			trace := Matches(record, rule)
			if trace.Matched != tt.want {
				t.Errorf("Matched = %v, want %v", trace.Matched, tt.want)
			}
			if len(trace.Conditions) != len(tt.conditions) {
				t.Errorf("trace has %d conditions, want %d (no short-circuit gaps)", len(trace.Conditions), len(tt.conditions))
			}
		})
	}
}

func TestMatches_UnknownOperatorIsFalseNotFatal(t *testing.T) {
	record := mustValue(t, `{"price": 1}`)
	rule := &types.Rule{
		ID:        "r1",
		MatchType: types.MatchAll,
		Conditions: []types.Condition{
			condition("price", "regex_match", ".*"),
		},
	}
	trace := Matches(record, rule)
	if trace.Matched {
		t.Error("rule with unknown operator Matched = true, want false")
	}
	if !trace.Conditions[0].UnknownOperator {
		t.Error("trace did not flag the unknown operator")
	}
}

func TestEvaluateCondition_Trace(t *testing.T) {
	record := mustValue(t, `{"emails": [{"value": "lead@gmail.com"}]}`)
	ct := EvaluateCondition(record, condition("emails.0.value", "ends_with", "gmail.com"))
	if !ct.Matched {
		t.Fatal("Matched = false, want true")
	}
	if ct.Field != "emails.0.value" || ct.Operator != "ends_with" {
		t.Errorf("trace field/operator = %q/%q", ct.Field, ct.Operator)
	}
	if ct.Actual != "lead@gmail.com" {
		t.Errorf("trace Actual = %v, want resolved email", ct.Actual)
	}

	ct = EvaluateCondition(record, condition("emails.3.value", "is_empty", nil))
	if !ct.Matched {
		t.Error("is_empty on missing path = false, want true")
	}
	if ct.Actual != nil {
		t.Errorf("trace Actual = %v, want nil for missing path", ct.Actual)
	}
}

// Property: all == AND, any == OR over the individual condition results.
// Conditions are built so each one's outcome is known in advance.
func TestMatches_PropertyCombination(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	record := mustValue(t, `{"flag": "on"}`)
	passing := condition("flag", "equals", "on")
	failing := condition("flag", "equals", "off")

	properties.Property("all is AND and any is OR", prop.ForAll(
		func(outcomes []bool) bool {
			if len(outcomes) == 0 {
				return true // vacuous case covered separately
			}
			conditions := make([]types.Condition, len(outcomes))
			wantAll, wantAny := true, false
			for i, pass := range outcomes {
				if pass {
					conditions[i] = passing
					wantAny = true
				} else {
					conditions[i] = failing
					wantAll = false
				}
			}

			allRule := &types.Rule{ID: "all", MatchType: types.MatchAll, Conditions: conditions}
			anyRule := &types.Rule{ID: "any", MatchType: types.MatchAny, Conditions: conditions}
			return Matches(record, allRule).Matched == wantAll &&
				Matches(record, anyRule).Matched == wantAny
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
