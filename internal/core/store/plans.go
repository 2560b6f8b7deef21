package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/types"
)

// Plans persists action plans, their steps, and scheduled executions.
type Plans struct {
	q *db.Queries
}

// NewPlans creates the action-plan repository.
func NewPlans(q *db.Queries) *Plans {
	return &Plans{q: q}
}

// Create inserts a plan and its steps on the given executor.
func (s *Plans) Create(ctx context.Context, ex db.Execer, plan *types.ActionPlan) error {
	plan.CreatedAt = time.Now().UTC()
	if _, err := s.q.Exec(ctx, ex, "insert-plan", plan.ID, plan.TenantID, plan.Name, plan.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", plan.ID, err)
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.ID == "" {
			step.ID = types.NewExecutionID()
		}
		step.PlanID = plan.ID
		if step.StepOrder == 0 {
			step.StepOrder = i + 1
		}
		if _, err := s.q.Exec(ctx, ex, "insert-step",
			step.ID, plan.ID, step.StepOrder, step.Kind, step.Description, step.DelayMinutes,
		); err != nil {
			return fmt.Errorf("failed to insert step for plan %s: %w", plan.ID, err)
		}
	}
	return nil
}

// Get fetches a plan with its ordered steps.
func (s *Plans) Get(ctx context.Context, ex db.Execer, tenantID types.TenantID, planID types.PlanID) (*types.ActionPlan, error) {
	var plan types.ActionPlan
	err := s.q.Get(ctx, ex, "get-plan", &plan, tenantID, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", planID, err)
	}
	if err := s.q.Select(ctx, ex, "list-steps", &plan.Steps, planID); err != nil {
		return nil, fmt.Errorf("failed to load steps for plan %s: %w", planID, err)
	}
	return &plan, nil
}

// List returns a tenant's plans without steps.
func (s *Plans) List(ctx context.Context, ex db.Execer, tenantID types.TenantID) ([]types.ActionPlan, error) {
	var plans []types.ActionPlan
	if err := s.q.Select(ctx, ex, "list-plans", &plans, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// InsertExecution schedules one pending execution row.
func (s *Plans) InsertExecution(ctx context.Context, ex db.Execer, e *types.ActionPlanExecution) error {
	if _, err := s.q.Exec(ctx, ex, "insert-execution",
		e.ID, e.TenantID, e.PlanID, e.StepID, e.LeadID, e.AssigneeID, e.DueAt,
	); err != nil {
		return fmt.Errorf("failed to insert execution for lead %s: %w", e.LeadID, err)
	}
	return nil
}

// ExecutionsForLead returns every execution scheduled for a lead.
func (s *Plans) ExecutionsForLead(ctx context.Context, ex db.Execer, tenantID types.TenantID, leadID types.LeadID) ([]types.ActionPlanExecution, error) {
	var execs []types.ActionPlanExecution
	if err := s.q.Select(ctx, ex, "list-executions-for-lead", &execs, tenantID, leadID); err != nil {
		return nil, fmt.Errorf("failed to list executions for lead %s: %w", leadID, err)
	}
	return execs, nil
}

// CancelPendingForLead marks a lead's outstanding executions skipped.
// Used when a newly fired rule replaces the lead's plan.
func (s *Plans) CancelPendingForLead(ctx context.Context, ex db.Execer, tenantID types.TenantID, leadID types.LeadID) (int64, error) {
	res, err := s.q.Exec(ctx, ex, "cancel-pending-executions-for-lead", time.Now().UTC(), tenantID, leadID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel executions for lead %s: %w", leadID, err)
	}
	return res.RowsAffected()
}

// MarkDue flips pending executions whose due time has passed to due.
// Called by the dispatcher on its tick.
func (s *Plans) MarkDue(ctx context.Context, ex db.Execer, now time.Time) (int64, error) {
	res, err := s.q.Exec(ctx, ex, "mark-due-executions", now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark due executions: %w", err)
	}
	return res.RowsAffected()
}

// Resolve finalizes an outstanding execution as completed, skipped, or
// failed. Already-resolved executions are left untouched.
func (s *Plans) Resolve(ctx context.Context, ex db.Execer, tenantID types.TenantID, executionID types.ExecutionID, status types.ExecutionStatus) (bool, error) {
	switch status {
	case types.ExecutionCompleted, types.ExecutionSkipped, types.ExecutionFailed:
	default:
		return false, fmt.Errorf("cannot resolve execution to status %q", status)
	}
	res, err := s.q.Exec(ctx, ex, "resolve-execution", status, time.Now().UTC(), tenantID, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve execution %s: %w", executionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
