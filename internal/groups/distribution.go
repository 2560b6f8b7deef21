// Package groups implements lead distribution across agent pools. Two
// policies: first_to_claim races members against each other for an available
// lead, round_robin hands leads out by cycling a cursor through the
// membership order. Both resolve their races in the database, not in
// process memory, so multiple instances of the service stay correct.
package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
	"github.com/fieldstone/leadflow/internal/types"
)

// Distributor hands out group-available leads to members.
type Distributor struct {
	q      *db.Queries
	groups *store.Groups
	leads  *store.Leads
	log    *zap.Logger
}

// NewDistributor creates a distributor over the given repositories.
func NewDistributor(q *db.Queries, groups *store.Groups, leads *store.Leads, log *zap.Logger) *Distributor {
	return &Distributor{q: q, groups: groups, leads: leads, log: log}
}

// Claim lets userID take a lead that is available to the group. The claim is
// a single conditional UPDATE; when two members race, exactly one succeeds
// and the loser gets ErrAlreadyClaimed. Only members of the group may claim,
// and only under the first_to_claim policy.
func (d *Distributor) Claim(ctx context.Context, tenantID types.TenantID, groupID types.GroupID, leadID types.LeadID, userID types.UserID) error {
	group, err := d.groups.Get(ctx, d.q.DB(), tenantID, groupID)
	if err != nil {
		return err
	}
	if group.Policy != types.PolicyFirstToClaim {
		return fmt.Errorf("%w: group %s does not accept claims (policy %s)", types.ErrPolicyMismatch, groupID, group.Policy)
	}
	if _, err := d.groups.Member(ctx, d.q.DB(), groupID, userID); err != nil {
		return err
	}

	claimed, err := d.leads.Claim(ctx, d.q.DB(), tenantID, leadID, groupID, userID)
	if err != nil {
		return err
	}
	if !claimed {
		return types.ErrAlreadyClaimed
	}

	d.log.Info("lead claimed",
		zap.String("tenant_id", string(tenantID)),
		zap.String("group_id", string(groupID)),
		zap.String("lead_id", string(leadID)),
		zap.String("user_id", string(userID)))
	return nil
}

// NextAssignee advances the group's round-robin cursor and returns the
// member now at the cursor. Runs inside tx, which must hold the group row
// (the caller locks it via lockGroup) so concurrent distributions serialize
// on the cursor.
//
// The cursor stores the sort_order of the last assignee; the next assignee
// is the first member with a higher sort_order, wrapping to the front. A
// membership edit between assignments at most skips or repeats one member,
// which is acceptable for this rotation.
func (d *Distributor) NextAssignee(ctx context.Context, tx *sqlx.Tx, group *types.Group) (*types.GroupMember, error) {
	members, err := d.groups.Members(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, types.ErrEmptyGroup
	}

	next := &members[0]
	for i := range members {
		if members[i].SortOrder > group.LastPosition {
			next = &members[i]
			break
		}
	}

	if err := d.groups.UpdateCursor(ctx, tx, group.ID, next.SortOrder); err != nil {
		return nil, err
	}
	return next, nil
}

// Distribute assigns an available lead under the group's round_robin policy:
// pick the next member in rotation and claim the lead for them, atomically.
// Returns the assignee. The cursor only advances when the claim sticks; a
// lead snatched concurrently rolls the rotation back too.
func (d *Distributor) Distribute(ctx context.Context, tenantID types.TenantID, groupID types.GroupID, leadID types.LeadID) (*types.GroupMember, error) {
	var assignee *types.GroupMember
	err := d.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		group, err := d.lockGroup(ctx, tx, tenantID, groupID)
		if err != nil {
			return err
		}
		if group.Policy != types.PolicyRoundRobin {
			return fmt.Errorf("%w: group %s is not round_robin (policy %s)", types.ErrPolicyMismatch, groupID, group.Policy)
		}

		assignee, err = d.NextAssignee(ctx, tx, group)
		if err != nil {
			return err
		}

		claimed, err := d.leads.Claim(ctx, tx, tenantID, leadID, groupID, assignee.UserID)
		if err != nil {
			return err
		}
		if !claimed {
			return types.ErrAlreadyClaimed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("lead distributed",
		zap.String("tenant_id", string(tenantID)),
		zap.String("group_id", string(groupID)),
		zap.String("lead_id", string(leadID)),
		zap.String("user_id", string(assignee.UserID)))
	return assignee, nil
}

// AddMember appends userID at the back of the group's rotation. The group
// row is held for the length of the transaction so the count-then-insert
// cannot interleave with another membership edit and break the dense
// sort_order sequence.
func (d *Distributor) AddMember(ctx context.Context, tenantID types.TenantID, groupID types.GroupID, userID types.UserID) (*types.GroupMember, error) {
	var member *types.GroupMember
	err := d.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := d.lockGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		var err error
		member, err = d.groups.AddMember(ctx, tx, tenantID, groupID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// RemoveMember deletes a membership; the delete and the gap-closing shift
// commit together under the group row.
func (d *Distributor) RemoveMember(ctx context.Context, tenantID types.TenantID, groupID types.GroupID, userID types.UserID) error {
	return d.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := d.lockGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		return d.groups.RemoveMember(ctx, tx, groupID, userID)
	})
}

// ReorderMember moves a member to a new 1-based position; the range shift
// and the reposition commit together under the group row.
func (d *Distributor) ReorderMember(ctx context.Context, tenantID types.TenantID, groupID types.GroupID, userID types.UserID, newPos int) error {
	return d.q.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := d.lockGroup(ctx, tx, tenantID, groupID); err != nil {
			return err
		}
		return d.groups.Reorder(ctx, tx, groupID, userID, newPos)
	})
}

// lockGroup reads the group row under a row lock where the driver supports
// one, pinning the cursor for the length of the transaction.
func (d *Distributor) lockGroup(ctx context.Context, tx *sqlx.Tx, tenantID types.TenantID, groupID types.GroupID) (*types.Group, error) {
	query, err := d.q.Raw("get-group")
	if err != nil {
		return nil, err
	}
	query += db.LockSuffix(d.q.DriverName())

	var group types.Group
	err = tx.GetContext(ctx, &group, query, tenantID, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock group %s: %w", groupID, err)
	}
	return &group, nil
}
