// Package store provides tenant-scoped repositories over the named query
// layer. Methods take a db.Execer so the same operation runs standalone or
// inside a caller-owned transaction; the applicator and group distribution
// rely on that to compose their atomic sequences.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/types"
)

// Leads persists lead records.
type Leads struct {
	q *db.Queries
}

// NewLeads creates the lead repository.
func NewLeads(q *db.Queries) *Leads {
	return &Leads{q: q}
}

// Create inserts a new lead.
func (s *Leads) Create(ctx context.Context, ex db.Execer, lead *types.Lead) error {
	attrs := lead.Attributes
	if len(attrs) == 0 {
		attrs = []byte("{}")
	}
	_, err := s.q.Exec(ctx, ex, "insert-lead",
		lead.ID, lead.TenantID, lead.Name, lead.SourceType, lead.SourceName,
		lead.AssignedUserID, lead.AssignedLenderID, lead.AssignedPondID,
		lead.AvailableForGroupID, string(attrs), lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead %s: %w", lead.ID, err)
	}
	return nil
}

// Get fetches a lead by tenant and ID.
func (s *Leads) Get(ctx context.Context, ex db.Execer, tenantID types.TenantID, leadID types.LeadID) (*types.Lead, error) {
	var lead types.Lead
	err := s.q.Get(ctx, ex, "get-lead", &lead, tenantID, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead %s: %w", leadID, err)
	}
	return &lead, nil
}

// GetForUpdate fetches a lead inside tx holding a row lock where the driver
// supports one. The lock pins the lead for a mutate-persist sequence so two
// concurrent routing attempts cannot interleave on the same row.
func (s *Leads) GetForUpdate(ctx context.Context, tx *sqlx.Tx, tenantID types.TenantID, leadID types.LeadID) (*types.Lead, error) {
	query, err := s.q.Raw("get-lead")
	if err != nil {
		return nil, err
	}
	query += db.LockSuffix(s.q.DriverName())

	var lead types.Lead
	err = tx.GetContext(ctx, &lead, query, tenantID, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock lead %s: %w", leadID, err)
	}
	return &lead, nil
}

// UpdateAssignments persists the lead's assignment fields.
func (s *Leads) UpdateAssignments(ctx context.Context, ex db.Execer, lead *types.Lead) error {
	lead.UpdatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, ex, "update-lead-assignments",
		lead.AssignedUserID, lead.AssignedLenderID, lead.AssignedPondID,
		lead.AvailableForGroupID, lead.UpdatedAt, lead.TenantID, lead.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", lead.ID, err)
	}
	return nil
}

// Claim atomically assigns the lead to userID if, and only if, it is still
// available for the given group and unassigned. A single conditional UPDATE,
// not read-then-write: the affected-row count is the race arbiter. Returns
// false when another claimant won.
func (s *Leads) Claim(ctx context.Context, ex db.Execer, tenantID types.TenantID, leadID types.LeadID, groupID types.GroupID, userID types.UserID) (bool, error) {
	res, err := s.q.Exec(ctx, ex, "claim-lead",
		userID, time.Now().UTC(), tenantID, leadID, groupID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim lead %s: %w", leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
