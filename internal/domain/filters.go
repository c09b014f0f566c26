package domain

import "time"

type MemberFilter struct {
	House  House
	Status MemberStatus
}

type VotingFilter struct {
	Statuses []VotingStatus
	// EndsBefore selects sessions whose deadline is at or before the instant.
	EndsBefore *time.Time
	// NeedsMemo selects sessions requiring reconciliation with no memo attached.
	NeedsMemo bool
}

// Match reports whether v satisfies the filter.
func (f VotingFilter) Match(v DualHouseVoting) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if v.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.EndsBefore != nil && v.EndsAt.After(*f.EndsBefore) {
		return false
	}
	if f.NeedsMemo && (!v.RequiresReconciliation || v.ReconciliationMemoID != "") {
		return false
	}
	return true
}

type DelegationFilter struct {
	DelegatorID string
	DelegateID  string
	House       House
	ActiveOnly  bool
}

func (f DelegationFilter) Match(d VoteDelegation) bool {
	if f.DelegatorID != "" && d.DelegatorID != f.DelegatorID {
		return false
	}
	if f.DelegateID != "" && d.DelegateID != f.DelegateID {
		return false
	}
	if f.House != "" && d.House != f.House {
		return false
	}
	if f.ActiveOnly && !d.Active {
		return false
	}
	return true
}

type ApprovalFilter struct {
	LockStatus LockStatus
	// Pending selects approvals neither executed nor rejected.
	Pending bool
}

func (f ApprovalFilter) Match(a HighRiskApproval) bool {
	if f.LockStatus != "" && a.LockStatus != f.LockStatus {
		return false
	}
	if f.Pending && (a.ExecutedAt != nil || a.RejectedAt != nil) {
		return false
	}
	return true
}

type EventFilter struct {
	Type    string
	AfterID int64
	Limit   int
}

// LockedAction is a record held by the locked-action authority.
type LockedAction struct {
	ID          string     `json:"id"`
	ProposalID  string     `json:"proposal_id"`
	ActionType  ActionType `json:"action_type"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
