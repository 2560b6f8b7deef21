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

// Groups persists distribution groups and their ordered membership.
//
// The sort_order invariant: memberships of a group always form a dense 1..N
// sequence. Add appends at N+1, removal closes the gap, and Reorder shifts
// the affected range. All three run on a caller-supplied executor so the
// distribution layer can wrap them in per-group transactions.
type Groups struct {
	q *db.Queries
}

// NewGroups creates the group repository.
func NewGroups(q *db.Queries) *Groups {
	return &Groups{q: q}
}

// Create inserts a group with an empty membership.
func (s *Groups) Create(ctx context.Context, ex db.Execer, g *types.Group) error {
	g.CreatedAt = time.Now().UTC()
	if _, err := s.q.Exec(ctx, ex, "insert-group", g.ID, g.TenantID, g.Name, g.Policy, g.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert group %s: %w", g.ID, err)
	}
	return nil
}

// Get fetches a group by tenant and ID.
func (s *Groups) Get(ctx context.Context, ex db.Execer, tenantID types.TenantID, groupID types.GroupID) (*types.Group, error) {
	var g types.Group
	err := s.q.Get(ctx, ex, "get-group", &g, tenantID, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	return &g, nil
}

// List returns a tenant's groups.
func (s *Groups) List(ctx context.Context, ex db.Execer, tenantID types.TenantID) ([]types.Group, error) {
	var groups []types.Group
	if err := s.q.Select(ctx, ex, "list-groups", &groups, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// Members returns the group's membership in sort order.
func (s *Groups) Members(ctx context.Context, ex db.Execer, groupID types.GroupID) ([]types.GroupMember, error) {
	var members []types.GroupMember
	if err := s.q.Select(ctx, ex, "list-members", &members, groupID); err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}
	return members, nil
}

// Member fetches one membership row.
func (s *Groups) Member(ctx context.Context, ex db.Execer, groupID types.GroupID, userID types.UserID) (*types.GroupMember, error) {
	var m types.GroupMember
	err := s.q.Get(ctx, ex, "get-member", &m, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotGroupMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member %s of group %s: %w", userID, groupID, err)
	}
	return &m, nil
}

// AddMember appends a user at the end of the group's order.
func (s *Groups) AddMember(ctx context.Context, ex db.Execer, tenantID types.TenantID, groupID types.GroupID, userID types.UserID) (*types.GroupMember, error) {
	var count int
	if err := s.q.Get(ctx, ex, "count-members", &count, groupID); err != nil {
		return nil, fmt.Errorf("failed to count members of group %s: %w", groupID, err)
	}
	m := &types.GroupMember{
		GroupID:   groupID,
		UserID:    userID,
		SortOrder: count + 1,
		TenantID:  tenantID,
	}
	if _, err := s.q.Exec(ctx, ex, "insert-member", m.GroupID, m.UserID, m.SortOrder, m.TenantID); err != nil {
		return nil, fmt.Errorf("failed to add member %s to group %s: %w", userID, groupID, err)
	}
	return m, nil
}

// RemoveMember deletes a membership and closes the sort-order gap so the
// sequence stays dense.
func (s *Groups) RemoveMember(ctx context.Context, ex db.Execer, groupID types.GroupID, userID types.UserID) error {
	m, err := s.Member(ctx, ex, groupID, userID)
	if err != nil {
		return err
	}
	if _, err := s.q.Exec(ctx, ex, "delete-member", groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member %s from group %s: %w", userID, groupID, err)
	}
	if _, err := s.q.Exec(ctx, ex, "shift-members-after-removal", groupID, m.SortOrder); err != nil {
		return fmt.Errorf("failed to compact order in group %s: %w", groupID, err)
	}
	return nil
}

// Reorder moves a member to newPos (1-based, clamped to [1, N]) and shifts
// every member between the old and new positions by one: decrement when the
// member moves toward the back, increment when it moves toward the front.
// Must run inside the caller's per-group transaction.
func (s *Groups) Reorder(ctx context.Context, ex db.Execer, groupID types.GroupID, userID types.UserID, newPos int) error {
	m, err := s.Member(ctx, ex, groupID, userID)
	if err != nil {
		return err
	}

	var count int
	if err := s.q.Get(ctx, ex, "count-members", &count, groupID); err != nil {
		return fmt.Errorf("failed to count members of group %s: %w", groupID, err)
	}
	if newPos < 1 {
		newPos = 1
	}
	if newPos > count {
		newPos = count
	}
	if newPos == m.SortOrder {
		return nil
	}

	if newPos > m.SortOrder {
		// Moving back: members in (old, new] step forward by one.
		if _, err := s.q.Exec(ctx, ex, "shift-members-down", groupID, m.SortOrder, newPos); err != nil {
			return fmt.Errorf("failed to shift members in group %s: %w", groupID, err)
		}
	} else {
		// Moving front: members in [new, old) step back by one.
		if _, err := s.q.Exec(ctx, ex, "shift-members-up", groupID, newPos, m.SortOrder); err != nil {
			return fmt.Errorf("failed to shift members in group %s: %w", groupID, err)
		}
	}

	if _, err := s.q.Exec(ctx, ex, "update-member-order", newPos, groupID, userID); err != nil {
		return fmt.Errorf("failed to reposition member %s in group %s: %w", userID, groupID, err)
	}
	return nil
}

// UpdateCursor persists the round-robin position after an assignment.
func (s *Groups) UpdateCursor(ctx context.Context, ex db.Execer, groupID types.GroupID, position int) error {
	if _, err := s.q.Exec(ctx, ex, "update-group-cursor", position, groupID); err != nil {
		return fmt.Errorf("failed to advance cursor for group %s: %w", groupID, err)
	}
	return nil
}
