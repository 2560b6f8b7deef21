// Package actionplan implements the follow-up scheduling collaborator: rule
// application requests a plan assignment, the scheduler expands the plan's
// steps into timed executions, and a background dispatcher promotes
// executions as they fall due.
package actionplan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/types"
)

// Scheduler is the contract the rule applicator depends on. Assign runs on
// the applicator's executor so scheduling participates in the same
// transaction as the lead mutation: if either fails, both roll back.
type Scheduler interface {
	Assign(ctx context.Context, ex db.Execer, tenantID types.TenantID, planID types.PlanID, leadID types.LeadID, assigneeID types.UserID) ([]types.ExecutionID, error)
}

// DBScheduler schedules executions in the database.
type DBScheduler struct {
	plans *store.Plans
	log   *zap.Logger
}

// NewDBScheduler creates the database-backed scheduler.
func NewDBScheduler(plans *store.Plans, log *zap.Logger) *DBScheduler {
	return &DBScheduler{plans: plans, log: log}
}

// Assign replaces the lead's outstanding executions with the given plan's
// steps. Each step becomes one pending execution due DelayMinutes after
// assignment. Pending executions from a previously assigned plan are
// skipped, not deleted, so the lead's timeline stays auditable.
func (s *DBScheduler) Assign(ctx context.Context, ex db.Execer, tenantID types.TenantID, planID types.PlanID, leadID types.LeadID, assigneeID types.UserID) ([]types.ExecutionID, error) {
	plan, err := s.plans.Get(ctx, ex, tenantID, planID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.plans.CancelPendingForLead(ctx, ex, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if cancelled > 0 {
		s.log.Info("superseded outstanding plan executions",
			zap.String("tenant_id", string(tenantID)),
			zap.String("lead_id", string(leadID)),
			zap.Int64("cancelled", cancelled))
	}

	now := time.Now().UTC()
	ids := make([]types.ExecutionID, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		exec := &types.ActionPlanExecution{
			ID:         types.NewExecutionID(),
			TenantID:   tenantID,
			PlanID:     planID,
			StepID:     step.ID,
			LeadID:     leadID,
			AssigneeID: assigneeID,
			DueAt:      now.Add(time.Duration(step.DelayMinutes) * time.Minute),
			Status:     types.ExecutionPending,
		}
		if err := s.plans.InsertExecution(ctx, ex, exec); err != nil {
			return nil, err
		}
		ids = append(ids, exec.ID)
	}

	s.log.Info("assigned action plan",
		zap.String("tenant_id", string(tenantID)),
		zap.String("plan_id", string(planID)),
		zap.String("lead_id", string(leadID)),
		zap.String("assignee_id", string(assigneeID)),
		zap.Int("executions", len(ids)))
	return ids, nil
}
