package domain

import "time"

type House string

const (
	HouseMossCoin   House = "mosscoin"
	HouseOpenSource House = "opensource"
)

// Houses lists both houses in tally order.
var Houses = []House{HouseMossCoin, HouseOpenSource}

func (h House) Valid() bool {
	return h == HouseMossCoin || h == HouseOpenSource
}

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberInactive  MemberStatus = "inactive"
	MemberSuspended MemberStatus = "suspended"
)

func (s MemberStatus) Valid() bool {
	return s == MemberActive || s == MemberInactive || s == MemberSuspended
}

// TokenHolding is the mosscoin variant of a member.
type TokenHolding struct {
	Balance int64 `json:"balance"`
}

// ContributionRecord is the opensource variant of a member.
type ContributionRecord struct {
	Score int64    `json:"score"`
	Roles []string `json:"roles,omitempty"`
}

// HouseMember belongs to exactly one house. Token is set for mosscoin members,
// Contribution for opensource members.
type HouseMember struct {
	ID           string              `json:"id"`
	House        House               `json:"house" enum:"mosscoin,opensource"`
	Identity     string              `json:"identity"`
	VotingPower  int64               `json:"voting_power"`
	Status       MemberStatus        `json:"status" enum:"active,inactive,suspended"`
	Token        *TokenHolding       `json:"token,omitempty"`
	Contribution *ContributionRecord `json:"contribution,omitempty"`
	JoinedAt     time.Time           `json:"joined_at"`
	LastActiveAt time.Time           `json:"last_active_at"`
}

type DelegationScope string

const (
	ScopeAll      DelegationScope = "all"
	ScopeCategory DelegationScope = "category"
	ScopeProposal DelegationScope = "proposal"
)

func (s DelegationScope) Valid() bool {
	return s == ScopeAll || s == ScopeCategory || s == ScopeProposal
}

// VoteDelegation transfers a frozen amount of voting power within one house.
type VoteDelegation struct {
	ID             string          `json:"id"`
	DelegatorID    string          `json:"delegator_id"`
	DelegateID     string          `json:"delegate_id"`
	House          House           `json:"house" enum:"mosscoin,opensource"`
	Scope          DelegationScope `json:"scope" enum:"all,category,proposal"`
	ScopeValue     string          `json:"scope_value,omitempty"`
	DelegatedPower int64           `json:"delegated_power"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	RevokedAt      *time.Time      `json:"revoked_at,omitempty"`
}

// Overlaps reports whether d and o could both cover the same session. Two
// category or two proposal scopes overlap only on equal values.
func (d VoteDelegation) Overlaps(o VoteDelegation) bool {
	if d.House != o.House || d.DelegatorID != o.DelegatorID {
		return false
	}
	if d.Scope == ScopeAll || o.Scope == ScopeAll || d.Scope != o.Scope {
		return true
	}
	return d.ScopeValue == o.ScopeValue
}

// AppliesTo reports whether the delegation is live at now and covers a session
// with the given proposal id and category.
func (d VoteDelegation) AppliesTo(proposalID, category string, now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.ExpiresAt != nil && !now.Before(*d.ExpiresAt) {
		return false
	}
	switch d.Scope {
	case ScopeAll:
		return true
	case ScopeCategory:
		return category != "" && d.ScopeValue == category
	case ScopeProposal:
		return d.ScopeValue == proposalID
	}
	return false
}
