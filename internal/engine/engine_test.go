package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/actionplan"
	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/routing"
	"github.com/fieldstone/leadflow/internal/types"
)

type testEnv struct {
	q      *db.Queries
	leads  *store.Leads
	rules  *store.Rules
	plans  *store.Plans
	engine *Engine
	tenant types.TenantID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.Open("sqlite://")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.MigrateUp(conn))

	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	leads := store.NewLeads(q)
	rules := store.NewRules(q)
	plans := store.NewPlans(q)
	log := zap.NewNop()
	scheduler := actionplan.NewDBScheduler(plans, log)

	return &testEnv{
		q:      q,
		leads:  leads,
		rules:  rules,
		plans:  plans,
		engine: New(q, leads, rules, scheduler, log),
		tenant: types.TenantID("tenant-" + string(types.NewLeadID())),
	}
}

func (env *testEnv) seedLead(t *testing.T, attrs string) *types.Lead {
	t.Helper()
	now := time.Now().UTC()
	lead := &types.Lead{
		ID:         types.NewLeadID(),
		TenantID:   env.tenant,
		Name:       "Jordan Smith",
		Attributes: json.RawMessage(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, env.leads.Create(context.Background(), env.q.DB(), lead))
	return lead
}

func (env *testEnv) seedRule(t *testing.T, rule *types.Rule) *types.Rule {
	t.Helper()
	if rule.ID == "" {
		rule.ID = types.NewRuleID()
	}
	rule.TenantID = env.tenant
	if rule.MatchType == "" {
		rule.MatchType = types.MatchAll
	}
	require.NoError(t, env.rules.Create(context.Background(), env.q.DB(), rule))
	return rule
}

func userPtr(s string) *types.UserID {
	u := types.UserID(s)
	return &u
}

func strPtr(s string) *string { return &s }

func TestProcessLeadAppliesFirstMatchingRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	luxury := env.seedRule(t, &types.Rule{
		Name:            "luxury buyers",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-luxury"),
		Conditions: []types.Condition{
			{Field: "price", Operator: "greater_than_or_equal", Value: 500000},
		},
	})
	env.seedRule(t, &types.Rule{
		Name:            "catch-all",
		Priority:        99,
		IsActive:        true,
		IsDefault:       true,
		AssignedAgentID: userPtr("agent-default"),
	})

	lead := env.seedLead(t, `{"price": 750000}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, luxury.ID, result.RuleID)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "assigned_user_id", result.Changes[0].Field)
	assert.Equal(t, "agent-luxury", result.Changes[0].To)

	updated, err := env.leads.Get(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedUserID)
	assert.Equal(t, types.UserID("agent-luxury"), *updated.AssignedUserID)

	fired, err := env.rules.Get(ctx, env.q.DB(), env.tenant, luxury.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fired.LeadsCount)
	assert.NotNil(t, fired.LastLeadAt)
}

func TestProcessLeadFallsThroughToDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedRule(t, &types.Rule{
		Name:            "luxury buyers",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-luxury"),
		Conditions: []types.Condition{
			{Field: "price", Operator: "greater_than_or_equal", Value: 500000},
		},
	})
	def := env.seedRule(t, &types.Rule{
		Name:            "catch-all",
		Priority:        99,
		IsActive:        true,
		IsDefault:       true,
		AssignedAgentID: userPtr("agent-default"),
		Conditions: []types.Condition{
			// Never consulted: defaults match by position alone.
			{Field: "price", Operator: "less_than", Value: 0},
		},
	})

	lead := env.seedLead(t, `{"price": 100000}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, def.ID, result.RuleID)

	last := result.Traces[len(result.Traces)-1]
	assert.True(t, last.DefaultShortCircuit)
	assert.Empty(t, last.Conditions)
}

func TestProcessLeadNoMatchLeavesLeadUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.seedRule(t, &types.Rule{
		Name:            "luxury buyers",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-luxury"),
		Conditions: []types.Condition{
			{Field: "price", Operator: "greater_than_or_equal", Value: 500000},
		},
	})

	lead := env.seedLead(t, `{"price": 100}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	updated, err := env.leads.Get(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedUserID)

	unfired, err := env.rules.Get(ctx, env.q.DB(), env.tenant, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unfired.LeadsCount)
}

func TestApplyRuleReapplyIsStableButCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.seedRule(t, &types.Rule{
		Name:            "assign agent",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-a"),
	})
	lead := env.seedLead(t, `{}`)

	first, err := env.engine.ApplyRule(ctx, env.tenant, lead.ID, rule)
	require.NoError(t, err)
	require.Len(t, first.Changes, 1)

	second, err := env.engine.ApplyRule(ctx, env.tenant, lead.ID, rule)
	require.NoError(t, err)
	assert.Empty(t, second.Changes)

	updated, err := env.leads.Get(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedUserID)
	assert.Equal(t, types.UserID("agent-a"), *updated.AssignedUserID)

	// The fire counter is per application, not per distinct outcome.
	fired, err := env.rules.Get(ctx, env.q.DB(), env.tenant, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fired.LeadsCount)
}

func TestProcessLeadSchedulesActionPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plan := &types.ActionPlan{
		ID:        types.NewPlanID(),
		TenantID:  env.tenant,
		Name:      "new buyer follow-up",
		CreatedAt: time.Now().UTC(),
		Steps: []types.ActionPlanStep{
			{StepOrder: 1, Kind: "call", Description: "intro call", DelayMinutes: 0},
			{StepOrder: 2, Kind: "email", Description: "listing digest", DelayMinutes: 60},
		},
	}
	require.NoError(t, env.plans.Create(ctx, env.q.DB(), plan))

	env.seedRule(t, &types.Rule{
		Name:            "buyers with plan",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-a"),
		ActionPlanID:    &plan.ID,
	})
	lead := env.seedLead(t, `{}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Executions, 2)

	execs, err := env.plans.ExecutionsForLead(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, ex := range execs {
		assert.Equal(t, types.ExecutionPending, ex.Status)
		assert.Equal(t, types.UserID("agent-a"), ex.AssigneeID)
	}
	assert.True(t, execs[1].DueAt.After(execs[0].DueAt))
}

func TestProcessLeadRollsBackOnScheduleFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	missing := types.NewPlanID()
	env.seedRule(t, &types.Rule{
		Name:            "broken plan reference",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-a"),
		ActionPlanID:    &missing,
	})
	lead := env.seedLead(t, `{}`)

	_, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.Error(t, err)

	// The assignment must have rolled back with the failed scheduling.
	updated, err := env.leads.Get(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedUserID)

	rules, err := env.rules.List(ctx, env.q.DB(), env.tenant)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(0), rules[0].LeadsCount)
}

func TestProcessLeadSkipsPlanWithoutAssignee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plan := &types.ActionPlan{
		ID:        types.NewPlanID(),
		TenantID:  env.tenant,
		Name:      "orphan plan",
		CreatedAt: time.Now().UTC(),
		Steps: []types.ActionPlanStep{
			{StepOrder: 1, Kind: "call", DelayMinutes: 0},
		},
	}
	require.NoError(t, env.plans.Create(ctx, env.q.DB(), plan))

	pond := types.PondID("pond-overflow")
	env.seedRule(t, &types.Rule{
		Name:         "pond rule with plan",
		Priority:     1,
		IsActive:     true,
		PondID:       &pond,
		ActionPlanID: &plan.ID,
	})
	lead := env.seedLead(t, `{}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Executions)

	updated, err := env.leads.Get(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedPondID)
	assert.Equal(t, pond, *updated.AssignedPondID)

	execs, err := env.plans.ExecutionsForLead(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestProcessLeadReRouteSupersedesPendingExecutions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plan := &types.ActionPlan{
		ID:        types.NewPlanID(),
		TenantID:  env.tenant,
		Name:      "follow-up",
		CreatedAt: time.Now().UTC(),
		Steps: []types.ActionPlanStep{
			{StepOrder: 1, Kind: "call", DelayMinutes: 30},
		},
	}
	require.NoError(t, env.plans.Create(ctx, env.q.DB(), plan))

	env.seedRule(t, &types.Rule{
		Name:            "buyers with plan",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-a"),
		ActionPlanID:    &plan.ID,
	})
	lead := env.seedLead(t, `{}`)

	_, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)
	_, err = env.engine.ProcessLead(ctx, env.tenant, lead.ID, nil)
	require.NoError(t, err)

	execs, err := env.plans.ExecutionsForLead(ctx, env.q.DB(), env.tenant, lead.ID)
	require.NoError(t, err)
	require.Len(t, execs, 2)

	var pending, skipped int
	for _, ex := range execs {
		switch ex.Status {
		case types.ExecutionPending:
			pending++
		case types.ExecutionSkipped:
			skipped++
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, skipped)
}

func TestProcessLeadHonorsSourceFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	zillow := env.seedRule(t, &types.Rule{
		Name:            "zillow intake",
		Priority:        1,
		IsActive:        true,
		SourceType:      strPtr("portal"),
		SourceName:      strPtr("zillow"),
		AssignedAgentID: userPtr("agent-zillow"),
	})
	def := env.seedRule(t, &types.Rule{
		Name:            "catch-all",
		Priority:        99,
		IsActive:        true,
		IsDefault:       true,
		AssignedAgentID: userPtr("agent-default"),
	})

	lead := env.seedLead(t, `{}`)

	result, err := env.engine.ProcessLead(ctx, env.tenant, lead.ID, &types.SourceRef{Type: "portal", Name: "zillow"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, zillow.ID, result.RuleID)

	other := env.seedLead(t, `{}`)
	result, err = env.engine.ProcessLead(ctx, env.tenant, other.ID, &types.SourceRef{Type: "portal", Name: "realtor"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, def.ID, result.RuleID)
}

func TestDryRunHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule := env.seedRule(t, &types.Rule{
		Name:            "luxury buyers",
		Priority:        1,
		IsActive:        true,
		AssignedAgentID: userPtr("agent-luxury"),
		Conditions: []types.Condition{
			{Field: "price", Operator: "greater_than_or_equal", Value: 500000},
		},
	})

	sel, err := env.engine.DryRun(ctx, env.tenant, json.RawMessage(`{"price": 900000}`), nil)
	require.NoError(t, err)
	require.NotNil(t, sel.Rule)
	assert.Equal(t, rule.ID, sel.Rule.ID)

	unfired, err := env.rules.Get(ctx, env.q.DB(), env.tenant, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unfired.LeadsCount)

	sel, err = env.engine.DryRun(ctx, env.tenant, json.RawMessage(`{"price": 100}`), nil)
	require.NoError(t, err)
	assert.Nil(t, sel.Rule)
}

func TestBuildRecordMergesColumnsOverAttributes(t *testing.T) {
	agent := types.UserID("agent-a")
	srcType := "portal"
	srcName := "zillow"
	lead := &types.Lead{
		ID:             types.LeadID("lead-1"),
		Name:           "Jordan Smith",
		SourceType:     &srcType,
		SourceName:     &srcName,
		AssignedUserID: &agent,
		Attributes:     json.RawMessage(`{"name": "shadowed", "price": 42, "emails": [{"value": "j@example.com"}]}`),
	}

	record, err := BuildRecord(lead)
	require.NoError(t, err)

	// Structured columns win over attribute keys of the same name.
	assert.Equal(t, routing.String("Jordan Smith"), routing.Resolve(record, "name"))
	assert.Equal(t, routing.String("lead-1"), routing.Resolve(record, "id"))
	assert.Equal(t, routing.String("zillow"), routing.Resolve(record, "source.name"))
	assert.Equal(t, routing.String("agent-a"), routing.Resolve(record, "assigned_user_id"))
	assert.Equal(t, routing.KindNull, routing.Resolve(record, "assigned_pond_id").Kind())

	price, ok := routing.Resolve(record, "price").AsNumber()
	require.True(t, ok)
	assert.Equal(t, float64(42), price)
	assert.Equal(t, routing.String("j@example.com"), routing.Resolve(record, "emails.0.value"))
}

func TestBuildRecordNonObjectAttributes(t *testing.T) {
	lead := &types.Lead{
		ID:         types.LeadID("lead-1"),
		Name:       "n",
		Attributes: json.RawMessage(`[1, 2, 3]`),
	}
	record, err := BuildRecord(lead)
	require.NoError(t, err)
	assert.Equal(t, routing.KindMap, record.Kind())
	assert.Equal(t, routing.String("lead-1"), routing.Resolve(record, "id"))
}
