// Package api exposes lead routing over HTTP. Thin orchestration layer:
// handlers decode, validate, and delegate to the engine, distribution, and
// store packages, then shape the response. Every route runs behind the auth
// middleware and is tenant-scoped via the request context.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/engine"
	"github.com/fieldstone/leadflow/internal/groups"
)

// Handler carries the dependencies shared by all routes.
type Handler struct {
	q      *db.Queries
	engine *engine.Engine
	dist   *groups.Distributor
	leads  *store.Leads
	rules  *store.Rules
	groups *store.Groups
	plans  *store.Plans
	log    *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(q *db.Queries, eng *engine.Engine, dist *groups.Distributor, leads *store.Leads, rules *store.Rules, groupStore *store.Groups, plans *store.Plans, log *zap.Logger) *Handler {
	return &Handler{
		q:      q,
		engine: eng,
		dist:   dist,
		leads:  leads,
		rules:  rules,
		groups: groupStore,
		plans:  plans,
		log:    log,
	}
}

// Register mounts every route on the router. The caller wraps the router
// with auth and logging middleware.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/leads", h.CreateLead).Methods(http.MethodPost)
	r.HandleFunc("/v1/leads/{leadID}", h.GetLead).Methods(http.MethodGet)
	r.HandleFunc("/v1/leads/{leadID}/route", h.RouteLead).Methods(http.MethodPost)
	r.HandleFunc("/v1/leads/{leadID}/executions", h.ListExecutions).Methods(http.MethodGet)

	r.HandleFunc("/v1/rules", h.CreateRule).Methods(http.MethodPost)
	r.HandleFunc("/v1/rules", h.ListRules).Methods(http.MethodGet)
	r.HandleFunc("/v1/rules/dry-run", h.DryRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/rules/{ruleID}", h.GetRule).Methods(http.MethodGet)
	r.HandleFunc("/v1/rules/{ruleID}", h.UpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/v1/rules/{ruleID}", h.DeleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/v1/rules/{ruleID}/copy", h.CopyRule).Methods(http.MethodPost)

	r.HandleFunc("/v1/groups", h.CreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/v1/groups", h.ListGroups).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups/{groupID}", h.GetGroup).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups/{groupID}/members", h.AddMember).Methods(http.MethodPost)
	r.HandleFunc("/v1/groups/{groupID}/members/{userID}", h.RemoveMember).Methods(http.MethodDelete)
	r.HandleFunc("/v1/groups/{groupID}/members/{userID}/order", h.ReorderMember).Methods(http.MethodPut)
	r.HandleFunc("/v1/groups/{groupID}/claims", h.ClaimLead).Methods(http.MethodPost)
	r.HandleFunc("/v1/groups/{groupID}/distributions", h.DistributeLead).Methods(http.MethodPost)

	r.HandleFunc("/v1/action-plans", h.CreatePlan).Methods(http.MethodPost)
	r.HandleFunc("/v1/action-plans", h.ListPlans).Methods(http.MethodGet)
	r.HandleFunc("/v1/action-plans/{planID}", h.GetPlan).Methods(http.MethodGet)
	r.HandleFunc("/v1/executions/{executionID}/resolve", h.ResolveExecution).Methods(http.MethodPost)
}
