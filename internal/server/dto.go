package server

import (
	"time"

	"mossgov/internal/domain"
	"mossgov/internal/house"
	"mossgov/internal/pipeline"
	"mossgov/internal/voting"
)

// Request payloads

type RegisterMemberRequest struct {
	House             string   `json:"house" enum:"mosscoin,opensource"`
	Identity          string   `json:"identity"`
	TokenBalance      int64    `json:"token_balance,omitempty"`
	ContributionScore int64    `json:"contribution_score,omitempty"`
	Roles             []string `json:"roles,omitempty"`
}

func (r RegisterMemberRequest) registration() house.Registration {
	return house.Registration{
		House:             domain.House(r.House),
		Identity:          r.Identity,
		TokenBalance:      r.TokenBalance,
		ContributionScore: r.ContributionScore,
		Roles:             r.Roles,
	}
}

type UpdateTokenBalanceRequest struct {
	TokenBalance int64 `json:"token_balance" minimum:"0"`
}

type UpdateContributionRequest struct {
	ContributionScore int64    `json:"contribution_score" minimum:"0"`
	Roles             []string `json:"roles,omitempty"`
}

type SetMemberStatusRequest struct {
	Status string `json:"status" enum:"active,inactive,suspended"`
}

type CreateVotingRequest struct {
	ProposalID    string `json:"proposal_id"`
	Title         string `json:"title"`
	RiskLevel     string `json:"risk_level" enum:"LOW,MID,HIGH"`
	Category      string `json:"category,omitempty"`
	DurationHours int    `json:"duration_hours,omitempty"`
}

func (r CreateVotingRequest) request() voting.CreateRequest {
	return voting.CreateRequest{
		ProposalID:    r.ProposalID,
		Title:         r.Title,
		RiskLevel:     domain.RiskLevel(r.RiskLevel),
		Category:      r.Category,
		DurationHours: r.DurationHours,
	}
}

type CastVoteRequest struct {
	House    string `json:"house" enum:"mosscoin,opensource"`
	MemberID string `json:"member_id"`
	Choice   string `json:"choice" enum:"for,against,abstain"`
}

type ReconciliationMemoRequest struct {
	MemoID string `json:"memo_id"`
}

type CreateDelegationRequest struct {
	DelegatorID string     `json:"delegator_id"`
	DelegateID  string     `json:"delegate_id"`
	Scope       string     `json:"scope" enum:"all,category,proposal"`
	ScopeValue  string     `json:"scope_value,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (r CreateDelegationRequest) request() voting.DelegationRequest {
	return voting.DelegationRequest{
		DelegatorID: r.DelegatorID,
		DelegateID:  r.DelegateID,
		Scope:       domain.DelegationScope(r.Scope),
		ScopeValue:  r.ScopeValue,
		ExpiresAt:   r.ExpiresAt,
	}
}

type CreateApprovalRequest struct {
	VotingID string                  `json:"voting_id"`
	Payload  domain.ExecutionPayload `json:"execution_payload"`
}

type HouseApprovalRequest struct {
	House string `json:"house" enum:"mosscoin,opensource"`
}

type Director3ApprovalRequest struct {
	SignerID string `json:"signer_id,omitempty"`
}

type RejectApprovalRequest struct {
	Reason string `json:"reason" minLength:"1"`
}

type CreatePipelineRequest struct {
	ProposalID  string                   `json:"proposal_id"`
	Title       string                   `json:"title,omitempty"`
	Description string                   `json:"description,omitempty"`
	Category    string                   `json:"category,omitempty"`
	Signals     []domain.Signal          `json:"signals,omitempty"`
	Action      *domain.ExecutionPayload `json:"action,omitempty"`
	RiskLevel   string                   `json:"risk_level,omitempty" enum:"LOW,MID,HIGH"`
}

func (r CreatePipelineRequest) request() pipeline.CreateRequest {
	return pipeline.CreateRequest{
		ProposalID:  r.ProposalID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Signals:     r.Signals,
		Action:      r.Action,
		RiskLevel:   domain.RiskLevel(r.RiskLevel),
	}
}

// Response payloads

type VotingResponse struct {
	domain.DualHouseVoting
	Votes []domain.Vote `json:"votes,omitempty"`
}

type IDsResponse struct {
	IDs []string `json:"ids"`
}

type TotalPowerResponse struct {
	House string `json:"house"`
	Power int64  `json:"power"`
}

type ActivePipelinesResponse struct {
	Active int `json:"active"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
