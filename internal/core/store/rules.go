package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/types"
)

// Rules persists lead-flow rules and their conditions.
type Rules struct {
	q *db.Queries
}

// NewRules creates the rule repository.
func NewRules(q *db.Queries) *Rules {
	return &Rules{q: q}
}

// conditionRow maps the rule_conditions table; the condition value is stored
// as JSON text so arbitrary scalar/list values survive round-trips.
type conditionRow struct {
	ConditionID types.ConditionID `db:"condition_id"`
	RuleID      types.RuleID      `db:"rule_id"`
	Field       string            `db:"field"`
	Operator    string            `db:"operator"`
	ValueJSON   string            `db:"value_json"`
}

func (r conditionRow) toCondition() (types.Condition, error) {
	cond := types.Condition{
		ID:       r.ConditionID,
		RuleID:   r.RuleID,
		Field:    r.Field,
		Operator: r.Operator,
	}
	if err := json.Unmarshal([]byte(r.ValueJSON), &cond.Value); err != nil {
		return cond, fmt.Errorf("malformed condition value for %s: %w", r.ConditionID, err)
	}
	return cond, nil
}

// Create inserts a rule and its conditions. Caller supplies the executor so
// rule-plus-conditions insertion can share one transaction.
func (s *Rules) Create(ctx context.Context, ex db.Execer, rule *types.Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	_, err := s.q.Exec(ctx, ex, "insert-rule",
		rule.ID, rule.TenantID, rule.Name, rule.Priority, rule.IsActive, rule.IsDefault,
		rule.SourceType, rule.SourceName, rule.MatchType,
		rule.AssignedAgentID, rule.AssignedLenderID, rule.AvailableForGroupID,
		rule.PondID, rule.ActionPlanID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
	}
	return s.insertConditions(ctx, ex, rule)
}

// Update rewrites a rule in place and replaces its conditions wholesale.
// Replace-not-merge keeps condition identity simple: conditions are owned
// exclusively by their rule.
func (s *Rules) Update(ctx context.Context, ex db.Execer, rule *types.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	res, err := s.q.Exec(ctx, ex, "update-rule",
		rule.Name, rule.Priority, rule.IsActive, rule.IsDefault,
		rule.SourceType, rule.SourceName, rule.MatchType,
		rule.AssignedAgentID, rule.AssignedLenderID, rule.AvailableForGroupID,
		rule.PondID, rule.ActionPlanID, rule.UpdatedAt, rule.TenantID, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrRuleNotFound
	}
	if _, err := s.q.Exec(ctx, ex, "delete-conditions-for-rule", rule.ID); err != nil {
		return fmt.Errorf("failed to clear conditions for rule %s: %w", rule.ID, err)
	}
	return s.insertConditions(ctx, ex, rule)
}

func (s *Rules) insertConditions(ctx context.Context, ex db.Execer, rule *types.Rule) error {
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		if cond.ID == "" {
			cond.ID = types.NewConditionID()
		}
		cond.RuleID = rule.ID
		valueJSON, err := json.Marshal(cond.Value)
		if err != nil {
			return fmt.Errorf("failed to encode condition value: %w", err)
		}
		if _, err := s.q.Exec(ctx, ex, "insert-condition",
			cond.ID, rule.ID, cond.Field, cond.Operator, string(valueJSON),
		); err != nil {
			return fmt.Errorf("failed to insert condition for rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// Delete removes a rule; conditions cascade.
func (s *Rules) Delete(ctx context.Context, ex db.Execer, tenantID types.TenantID, ruleID types.RuleID) error {
	res, err := s.q.Exec(ctx, ex, "delete-rule", tenantID, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrRuleNotFound
	}
	return nil
}

// Get fetches a rule with its conditions.
func (s *Rules) Get(ctx context.Context, ex db.Execer, tenantID types.TenantID, ruleID types.RuleID) (*types.Rule, error) {
	var rule types.Rule
	err := s.q.Get(ctx, ex, "get-rule", &rule, tenantID, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}

	var rows []conditionRow
	if err := s.q.Select(ctx, ex, "list-conditions-for-rule", &rows, ruleID); err != nil {
		return nil, fmt.Errorf("failed to load conditions for rule %s: %w", ruleID, err)
	}
	rule.Conditions = make([]types.Condition, 0, len(rows))
	for _, row := range rows {
		cond, err := row.toCondition()
		if err != nil {
			return nil, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}
	return &rule, nil
}

// List returns all of a tenant's rules with conditions attached, ordered by
// (priority, rule_id). Selection re-sorts anyway; the ordering here keeps
// the management surface stable.
func (s *Rules) List(ctx context.Context, ex db.Execer, tenantID types.TenantID) ([]types.Rule, error) {
	var rules []types.Rule
	if err := s.q.Select(ctx, ex, "list-rules", &rules, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	var rows []conditionRow
	if err := s.q.Select(ctx, ex, "list-conditions-for-tenant", &rows, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list conditions: %w", err)
	}

	byRule := make(map[types.RuleID][]types.Condition, len(rules))
	for _, row := range rows {
		cond, err := row.toCondition()
		if err != nil {
			return nil, err
		}
		byRule[row.RuleID] = append(byRule[row.RuleID], cond)
	}
	for i := range rules {
		rules[i].Conditions = byRule[rules[i].ID]
	}
	return rules, nil
}

// IncrementStats bumps the rule's fire counter and timestamp. Runs inside
// the applicator's transaction.
func (s *Rules) IncrementStats(ctx context.Context, ex db.Execer, ruleID types.RuleID, firedAt time.Time) error {
	if _, err := s.q.Exec(ctx, ex, "increment-rule-stats", firedAt, firedAt, ruleID); err != nil {
		return fmt.Errorf("failed to update stats for rule %s: %w", ruleID, err)
	}
	return nil
}

// CopyToSource replicates a rule and its conditions under a new source
// filter, in one transaction. The copy starts inactive so it can be reviewed
// before it participates in routing.
func (s *Rules) CopyToSource(ctx context.Context, tenantID types.TenantID, ruleID types.RuleID, src types.SourceRef) (*types.Rule, error) {
	original, err := s.Get(ctx, s.q.DB(), tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	dup := *original
	dup.ID = types.NewRuleID()
	dup.Name = original.Name + " (copy)"
	dup.IsActive = false
	dup.LeadsCount = 0
	dup.LastLeadAt = nil
	dup.SourceType = &src.Type
	if src.Name != "" {
		name := src.Name
		dup.SourceName = &name
	} else {
		dup.SourceName = nil
	}
	dup.Conditions = make([]types.Condition, len(original.Conditions))
	for i, cond := range original.Conditions {
		dup.Conditions[i] = types.Condition{
			ID:       types.NewConditionID(),
			Field:    cond.Field,
			Operator: cond.Operator,
			Value:    cond.Value,
		}
	}

	err = s.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.Create(ctx, tx, &dup)
	})
	if err != nil {
		return nil, err
	}
	return &dup, nil
}
