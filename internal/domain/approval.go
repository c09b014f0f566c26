package domain

import "time"

type LockStatus string

const (
	Locked   LockStatus = "LOCKED"
	Unlocked LockStatus = "UNLOCKED"
)

// HighRiskApproval holds the three independent approvals a HIGH risk action needs.
type HighRiskApproval struct {
	ID                  string           `json:"id"`
	ProposalID          string           `json:"proposal_id"`
	VotingID            string           `json:"voting_id"`
	ActionType          ActionType       `json:"action_type"`
	Payload             ExecutionPayload `json:"execution_payload"`
	MossCoinHouse       bool             `json:"mosscoin_house"`
	OpenSourceHouse     bool             `json:"opensource_house"`
	Director3           bool             `json:"director3"`
	Director3SignerID   string           `json:"director3_signer_id,omitempty"`
	Director3ApprovedAt *time.Time       `json:"director3_approved_at,omitempty"`
	LockStatus          LockStatus       `json:"lock_status" enum:"LOCKED,UNLOCKED"`
	CreatedAt           time.Time        `json:"created_at"`
	UnlockedAt          *time.Time       `json:"unlocked_at,omitempty"`
	ExecutedAt          *time.Time       `json:"executed_at,omitempty"`
	ExecutionResult     map[string]any   `json:"execution_result,omitempty"`
	RejectedAt          *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason     string           `json:"rejection_reason,omitempty"`
	Version             int64            `json:"version"`
}

// HouseApproved reports the approval flag for house h.
func (a HighRiskApproval) HouseApproved(h House) bool {
	if h == HouseOpenSource {
		return a.OpenSourceHouse
	}
	return a.MossCoinHouse
}
