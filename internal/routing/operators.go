package routing

/*
 * Condition operator set and comparison dispatch.
 *
 * The operator set is closed: ParseOperator rejects anything outside it at
 * rule-write time, so an unknown operator reaching evaluation is a stored
 * rule from before validation, not a normal path. Compare never errors; an
 * unknown operator compares false and the matcher records it in the trace
 * so the caller can log it.
 *
 * Comparison rules:
 *   - equals/not_equals: loose equality. Both operands numeric-coercible
 *     compares numerically ("500000" equals 500000); otherwise scalar text
 *     comparison, case-insensitive. Lists and maps never compare equal.
 *   - greater_than/less_than family: both operands must be numeric-coercible,
 *     otherwise false.
 *   - contains/not_contains/starts_with/ends_with: the actual value must be
 *     a string; expected is rendered to text; comparison is case-insensitive.
 *   - is_empty/is_not_empty: null, empty string, empty list/map, zero, and
 *     false all count as empty.
 *
 * Why function-based: twelve operators via switch is cleaner than twelve
 * single-method implementations with minimal behavior variation.
 */

import "strings"

// Operator enumerates the closed condition-operator set.
type Operator int

const (
	OpUnknown Operator = iota
	OpEquals
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpContains
	OpNotContains
	OpStartsWith
	OpEndsWith
	OpIsEmpty
	OpIsNotEmpty
)

var operatorNames = map[Operator]string{
	OpEquals:             "equals",
	OpNotEquals:          "not_equals",
	OpGreaterThan:        "greater_than",
	OpGreaterThanOrEqual: "greater_than_or_equal",
	OpLessThan:           "less_than",
	OpLessThanOrEqual:    "less_than_or_equal",
	OpContains:           "contains",
	OpNotContains:        "not_contains",
	OpStartsWith:         "starts_with",
	OpEndsWith:           "ends_with",
	OpIsEmpty:            "is_empty",
	OpIsNotEmpty:         "is_not_empty",
}

var operatorByName = func() map[string]Operator {
	m := make(map[string]Operator, len(operatorNames))
	for op, name := range operatorNames {
		m[name] = op
	}
	return m
}()

// ParseOperator maps a canonical operator name to its enum value.
// Returns OpUnknown with ok=false for names outside the closed set.
func ParseOperator(name string) (Operator, bool) {
	op, ok := operatorByName[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}

// String returns the canonical operator name, or "unknown".
func (op Operator) String() string {
	if name, ok := operatorNames[op]; ok {
		return name
	}
	return "unknown"
}

// Compare applies the operator to the actual (resolved) value and the
// expected (condition) value. Total: unknown operators compare false.
func Compare(op Operator, actual, expected Value) bool {
	switch op {
	case OpEquals:
		return looseEqual(actual, expected)
	case OpNotEquals:
		return !looseEqual(actual, expected)
	case OpGreaterThan:
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp > 0
	case OpGreaterThanOrEqual:
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp >= 0
	case OpLessThan:
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp < 0
	case OpLessThanOrEqual:
		cmp, ok := compareNumeric(actual, expected)
		return ok && cmp <= 0
	case OpContains:
		return compareSubstring(actual, expected, strings.Contains)
	case OpNotContains:
		return actual.Kind() == KindString && !compareSubstring(actual, expected, strings.Contains)
	case OpStartsWith:
		return compareSubstring(actual, expected, strings.HasPrefix)
	case OpEndsWith:
		return compareSubstring(actual, expected, strings.HasSuffix)
	case OpIsEmpty:
		return isEmpty(actual)
	case OpIsNotEmpty:
		return !isEmpty(actual)
	default:
		return false
	}
}

// looseEqual implements the loose equality used by equals/not_equals.
// Numeric when both sides coerce to numbers, case-insensitive text
// otherwise. Collections never compare equal to anything.
func looseEqual(a, b Value) bool {
	if a.Kind() == KindList || a.Kind() == KindMap || b.Kind() == KindList || b.Kind() == KindMap {
		return false
	}
	if na, aok := a.AsNumber(); aok {
		if nb, bok := b.AsNumber(); bok {
			return na == nb
		}
	}
	return strings.EqualFold(a.Text(), b.Text())
}

// compareNumeric performs three-way numeric comparison. ok=false when either
// operand is not numeric-coercible.
func compareNumeric(a, b Value) (int, bool) {
	na, aok := a.AsNumber()
	nb, bok := b.AsNumber()
	if !aok || !bok {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

// compareSubstring applies a string test case-insensitively. The actual
// value must be a string; the expected value is rendered to text so a
// numeric condition value still matches its digits.
func compareSubstring(actual, expected Value, test func(s, sub string) bool) bool {
	s, ok := actual.AsString()
	if !ok {
		return false
	}
	return test(strings.ToLower(s), strings.ToLower(expected.Text()))
}

// isEmpty implements the truthiness test: null, empty string, empty
// collection, zero, and false are empty.
func isEmpty(v Value) bool {
	switch v.Kind() {
	case KindNull:
		return true
	case KindString:
		s, _ := v.AsString()
		return s == ""
	case KindList, KindMap:
		return v.Len() == 0
	case KindNumber:
		n, _ := v.AsNumber()
		return n == 0
	case KindBool:
		b, _ := v.AsBool()
		return !b
	default:
		return true
	}
}
