package types

import "github.com/google/uuid"

// NewLeadID generates a UUIDv7 lead identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewLeadID() LeadID {
	return LeadID(uuid.Must(uuid.NewV7()).String())
}

// NewRuleID generates a UUIDv7 rule identifier.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewConditionID generates a UUIDv7 condition identifier.
func NewConditionID() ConditionID {
	return ConditionID(uuid.Must(uuid.NewV7()).String())
}

// NewGroupID generates a UUIDv7 group identifier.
func NewGroupID() GroupID {
	return GroupID(uuid.Must(uuid.NewV7()).String())
}

// NewPlanID generates a UUIDv7 action-plan identifier.
func NewPlanID() PlanID {
	return PlanID(uuid.Must(uuid.NewV7()).String())
}

// NewExecutionID generates a UUIDv7 execution (or step) identifier.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.Must(uuid.NewV7()).String())
}

// ParseLeadID validates and converts a string to LeadID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseLeadID(s string) (LeadID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return LeadID(s), nil
}

// ParseRuleID validates and converts a string to RuleID.
func ParseRuleID(s string) (RuleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RuleID(s), nil
}

// ParseGroupID validates and converts a string to GroupID.
func ParseGroupID(s string) (GroupID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return GroupID(s), nil
}

// ParsePlanID validates and converts a string to PlanID.
func ParsePlanID(s string) (PlanID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return PlanID(s), nil
}

// ParseExecutionID validates and converts a string to ExecutionID.
func ParseExecutionID(s string) (ExecutionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return ExecutionID(s), nil
}
