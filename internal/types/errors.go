package types

import "errors"

// Sentinel errors for LeadFlow operations.
var (
	// ErrLeadNotFound indicates the lead does not exist for the tenant.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrRuleNotFound indicates the rule does not exist for the tenant.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrGroupNotFound indicates the group does not exist for the tenant.
	ErrGroupNotFound = errors.New("group not found")

	// ErrPlanNotFound indicates the action plan does not exist for the tenant.
	ErrPlanNotFound = errors.New("action plan not found")

	// ErrUnknownOperator indicates a condition operator outside the closed set.
	ErrUnknownOperator = errors.New("unknown condition operator")

	// ErrInvalidMatchType indicates a match type other than all/any.
	ErrInvalidMatchType = errors.New("match type must be all or any")

	// ErrAlreadyClaimed indicates a first-to-claim attempt lost the race:
	// the lead was assigned between availability and the conditional write.
	ErrAlreadyClaimed = errors.New("lead already claimed")

	// ErrNotGroupMember indicates the requesting user does not belong to the group.
	ErrNotGroupMember = errors.New("user is not a member of the group")

	// ErrEmptyGroup indicates a distribution attempt against a group with no members.
	ErrEmptyGroup = errors.New("group has no members")

	// ErrPolicyMismatch indicates a claim against a round_robin group or a
	// distribution against a first_to_claim group.
	ErrPolicyMismatch = errors.New("operation not allowed by group policy")

	// ErrNoAssignee indicates an action-plan assignment with neither a rule
	// agent nor a pre-existing lead agent to attach executions to.
	ErrNoAssignee = errors.New("no assignee available for action plan")
)
