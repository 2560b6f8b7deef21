// Package types provides domain models shared across LeadFlow components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library. ID utilities in ids.go import uuid but are isolated so callers
// that only need the model shapes avoid the dependency.
//
// Persistence tags live here (db struct tags) because the same records flow
// through the store layer and the HTTP surface; wire-format concerns beyond
// that stay in internal/core/api.
package types

import (
	"encoding/json"
	"time"
)

// TenantID identifies an account. Every read and write in the system is
// scoped by an explicit TenantID parameter; there is no ambient tenant.
type TenantID string

// LeadID represents a UUIDv7 lead (person) identifier.
// Time-ordered IDs cluster sequential inserts in B-tree pages.
type LeadID string

// RuleID represents a UUIDv7 lead-flow rule identifier.
type RuleID string

// ConditionID represents a UUIDv7 rule-condition identifier.
type ConditionID string

// GroupID represents a UUIDv7 distribution-group identifier.
type GroupID string

// UserID represents a UUIDv7 agent/lender identifier.
type UserID string

// PondID represents a UUIDv7 pond identifier.
type PondID string

// PlanID represents a UUIDv7 action-plan identifier.
type PlanID string

// ExecutionID represents a UUIDv7 action-plan execution identifier.
type ExecutionID string

// Lead is the routed subject. Assignment fields are first-class columns so
// the applicator and group distribution can mutate them under row locks;
// every other ingested field (emails, phones, tags, custom attributes) lives
// in Attributes as raw JSON and is only ever read through field-path
// resolution.
type Lead struct {
	ID                  LeadID          `db:"lead_id" json:"id"`
	TenantID            TenantID        `db:"tenant_id" json:"tenant_id"`
	Name                string          `db:"name" json:"name"`
	SourceType          *string         `db:"source_type" json:"source_type,omitempty"`
	SourceName          *string         `db:"source_name" json:"source_name,omitempty"`
	AssignedUserID      *UserID         `db:"assigned_user_id" json:"assigned_user_id,omitempty"`
	AssignedLenderID    *UserID         `db:"assigned_lender_id" json:"assigned_lender_id,omitempty"`
	AssignedPondID      *PondID         `db:"assigned_pond_id" json:"assigned_pond_id,omitempty"`
	AvailableForGroupID *GroupID        `db:"available_for_group_id" json:"available_for_group_id,omitempty"`
	Attributes          json.RawMessage `db:"attributes" json:"attributes,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// SourceRef is the optional source metadata carried by a lead event.
// Name may be empty while Type is set (source known, channel not).
type SourceRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// DistributionPolicy selects how a group hands out available leads.
type DistributionPolicy string

const (
	// PolicyFirstToClaim lets any member claim an available lead; the first
	// successful conditional write wins.
	PolicyFirstToClaim DistributionPolicy = "first_to_claim"

	// PolicyRoundRobin cycles assignment through members by sort order.
	PolicyRoundRobin DistributionPolicy = "round_robin"
)

// Group is a pool of users sharing a distribution policy.
// LastPosition is the round-robin cursor: the sort_order of the member that
// received the previous assignment (0 before any assignment).
type Group struct {
	ID           GroupID            `db:"group_id" json:"id"`
	TenantID     TenantID           `db:"tenant_id" json:"tenant_id"`
	Name         string             `db:"name" json:"name"`
	Policy       DistributionPolicy `db:"policy" json:"policy"`
	LastPosition int                `db:"last_position" json:"last_position"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}

// GroupMember is one user's membership in a group. SortOrder is a dense
// 1..N sequence per group, maintained by the reorder algorithm.
type GroupMember struct {
	GroupID   GroupID  `db:"group_id" json:"group_id"`
	UserID    UserID   `db:"user_id" json:"user_id"`
	SortOrder int      `db:"sort_order" json:"sort_order"`
	TenantID  TenantID `db:"tenant_id" json:"-"`
}

// ActionPlan is a named sequence of timed follow-up steps.
type ActionPlan struct {
	ID        PlanID           `db:"plan_id" json:"id"`
	TenantID  TenantID         `db:"tenant_id" json:"tenant_id"`
	Name      string           `db:"name" json:"name"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	Steps     []ActionPlanStep `json:"steps,omitempty"`
}

// ActionPlanStep is one step of a plan. DelayMinutes is measured from the
// moment the plan is assigned to a lead, not from the previous step.
type ActionPlanStep struct {
	ID           ExecutionID `db:"step_id" json:"id"`
	PlanID       PlanID      `db:"plan_id" json:"plan_id"`
	StepOrder    int         `db:"step_order" json:"step_order"`
	Kind         string      `db:"kind" json:"kind"`
	Description  string      `db:"description" json:"description"`
	DelayMinutes int         `db:"delay_minutes" json:"delay_minutes"`
}

// ExecutionStatus tracks the lifecycle of a scheduled plan step.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionDue       ExecutionStatus = "due"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionSkipped   ExecutionStatus = "skipped"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionPlanExecution is one scheduled occurrence of a plan step for a lead.
type ActionPlanExecution struct {
	ID          ExecutionID     `db:"execution_id" json:"id"`
	TenantID    TenantID        `db:"tenant_id" json:"tenant_id"`
	PlanID      PlanID          `db:"plan_id" json:"plan_id"`
	StepID      ExecutionID     `db:"step_id" json:"step_id"`
	LeadID      LeadID          `db:"lead_id" json:"lead_id"`
	AssigneeID  UserID          `db:"assignee_id" json:"assignee_id"`
	DueAt       time.Time       `db:"due_at" json:"due_at"`
	Status      ExecutionStatus `db:"status" json:"status"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
