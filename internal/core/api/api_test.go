package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/actionplan"
	"github.com/fieldstone/leadflow/internal/core/auth"
	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/engine"
	"github.com/fieldstone/leadflow/internal/groups"
	"github.com/fieldstone/leadflow/internal/types"
)

const testTenant = types.TenantID("tenant-api-test")

// newTestRouter wires the full handler stack over in-memory sqlite, with a
// stub middleware standing in for API-key auth.
func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	conn, err := db.Open("sqlite://")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.MigrateUp(conn))

	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	log := zap.NewNop()
	leads := store.NewLeads(q)
	rules := store.NewRules(q)
	groupStore := store.NewGroups(q)
	plans := store.NewPlans(q)
	scheduler := actionplan.NewDBScheduler(plans, log)
	eng := engine.New(q, leads, rules, scheduler, log)
	dist := groups.NewDistributor(q, groupStore, leads, log)

	h := NewHandler(q, eng, dist, leads, rules, groupStore, plans, log)

	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithTenant(req.Context(), testTenant)))
		})
	})
	h.Register(r)
	return r
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestCreateLeadRoutesThroughRules(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":              "luxury buyers",
		"priority":          1,
		"match_type":        "all",
		"assigned_agent_id": "agent-luxury",
		"conditions": []map[string]any{
			{"field": "price", "operator": "greater_than_or_equal", "value": 500000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/v1/leads", map[string]any{
		"name":       "Jordan Smith",
		"attributes": map[string]any{"price": 750000},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[leadResponse](t, rec)
	require.NotNil(t, resp.Routing)
	assert.Equal(t, "luxury buyers", resp.Routing.RuleName)
	require.NotNil(t, resp.Lead.AssignedUserID)
	assert.Equal(t, types.UserID("agent-luxury"), *resp.Lead.AssignedUserID)
}

func TestCreateLeadWithoutMatchStillPersists(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/leads", map[string]any{
		"name": "Unrouted Lead",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[leadResponse](t, rec)
	assert.Nil(t, resp.Routing)

	rec = doJSON(t, r, http.MethodGet, "/v1/leads/"+string(resp.Lead.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRuleRejectsUnknownOperator(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":       "bad rule",
		"match_type": "all",
		"conditions": []map[string]any{
			{"field": "price", "operator": "regex_match", "value": ".*"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRuleRejectsBadMatchType(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":       "bad rule",
		"match_type": "some",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleCRUD(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":       "original",
		"priority":   5,
		"match_type": "any",
		"conditions": []map[string]any{
			{"field": "tags", "operator": "contains", "value": "buyer"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[types.Rule](t, rec)

	rec = doJSON(t, r, http.MethodPut, "/v1/rules/"+string(created.ID), map[string]any{
		"name":       "renamed",
		"priority":   7,
		"match_type": "all",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[types.Rule](t, rec)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 7, updated.Priority)
	assert.Empty(t, updated.Conditions)

	rec = doJSON(t, r, http.MethodDelete, "/v1/rules/"+string(created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/rules/"+string(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCopyRuleToSource(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":       "zillow intake",
		"priority":   1,
		"match_type": "all",
		"conditions": []map[string]any{
			{"field": "price", "operator": "greater_than", "value": 100000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[types.Rule](t, rec)

	rec = doJSON(t, r, http.MethodPost, "/v1/rules/"+string(created.ID)+"/copy", map[string]any{
		"source": map[string]any{"type": "portal", "name": "realtor"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dup := decode[types.Rule](t, rec)
	assert.Equal(t, "zillow intake (copy)", dup.Name)
	assert.False(t, dup.IsActive)
	require.NotNil(t, dup.SourceType)
	assert.Equal(t, "portal", *dup.SourceType)
	assert.Len(t, dup.Conditions, 1)
}

func TestDryRunEndpoint(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":              "luxury buyers",
		"priority":          1,
		"match_type":        "all",
		"assigned_agent_id": "agent-luxury",
		"conditions": []map[string]any{
			{"field": "price", "operator": "greater_than_or_equal", "value": 500000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/rules/dry-run", map[string]any{
		"record": map[string]any{"price": 600000},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dryRunResponse](t, rec)
	require.NotNil(t, resp.Rule)
	assert.Equal(t, "luxury buyers", resp.Rule.Name)

	rec = doJSON(t, r, http.MethodPost, "/v1/rules/dry-run", map[string]any{
		"record": map[string]any{"price": 100},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[dryRunResponse](t, rec)
	assert.Nil(t, resp.Rule)
	assert.NotEmpty(t, resp.Traces)
}

func TestGroupLifecycleAndClaim(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/groups", map[string]any{
		"name":   "downtown team",
		"policy": "first_to_claim",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[groupResponse](t, rec)
	groupID := created.Group.ID

	for _, u := range []string{"agent-a", "agent-b"} {
		rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/groups/%s/members", groupID), map[string]any{"user_id": u})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Route a lead into the group via a rule.
	rec = doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":                   "to group",
		"priority":               1,
		"match_type":             "all",
		"available_for_group_id": string(groupID),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/leads", map[string]any{"name": "Pool Lead"})
	require.Equal(t, http.StatusCreated, rec.Code)
	lead := decode[leadResponse](t, rec)
	require.NotNil(t, lead.Lead.AvailableForGroupID)

	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/groups/%s/claims", groupID), map[string]any{
		"lead_id": string(lead.Lead.ID),
		"user_id": "agent-a",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/groups/%s/claims", groupID), map[string]any{
		"lead_id": string(lead.Lead.ID),
		"user_id": "agent-b",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestActionPlanEndpoints(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/action-plans", map[string]any{
		"name": "buyer follow-up",
		"steps": []map[string]any{
			{"kind": "call", "description": "intro call", "delay_minutes": 0},
			{"kind": "email", "description": "digest", "delay_minutes": 60},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plan := decode[types.ActionPlan](t, rec)
	require.Len(t, plan.Steps, 2)

	rec = doJSON(t, r, http.MethodGet, "/v1/action-plans/"+string(plan.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Wire the plan to a rule; routing a lead schedules executions.
	rec = doJSON(t, r, http.MethodPost, "/v1/rules", map[string]any{
		"name":              "with plan",
		"priority":          1,
		"match_type":        "all",
		"assigned_agent_id": "agent-a",
		"action_plan_id":    string(plan.ID),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/leads", map[string]any{"name": "Planned Lead"})
	require.Equal(t, http.StatusCreated, rec.Code)
	lead := decode[leadResponse](t, rec)
	require.NotNil(t, lead.Routing)
	require.Len(t, lead.Routing.Executions, 2)

	rec = doJSON(t, r, http.MethodGet, fmt.Sprintf("/v1/leads/%s/executions", lead.Lead.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	execID := lead.Routing.Executions[0]
	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/executions/%s/resolve", execID), map[string]any{
		"status": "completed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Second resolve conflicts.
	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/executions/%s/resolve", execID), map[string]any{
		"status": "completed",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetLeadInvalidID(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/leads/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/leads/"+string(types.NewLeadID()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
