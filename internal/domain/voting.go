package domain

import "time"

type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskMid  RiskLevel = "MID"
	RiskHigh RiskLevel = "HIGH"
)

func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMid || r == RiskHigh
}

type VotingStatus string

const (
	VotingOpen           VotingStatus = "voting"
	VotingBothPassed     VotingStatus = "both_passed"
	VotingMossCoinOnly   VotingStatus = "moc_only"
	VotingOpenSourceOnly VotingStatus = "oss_only"
	VotingRejected       VotingStatus = "rejected"
	VotingReconciliation VotingStatus = "reconciliation"
	VotingExecuted       VotingStatus = "executed"
)

type VoteChoice string

const (
	ChoiceFor     VoteChoice = "for"
	ChoiceAgainst VoteChoice = "against"
	ChoiceAbstain VoteChoice = "abstain"
)

func (c VoteChoice) Valid() bool {
	return c == ChoiceFor || c == ChoiceAgainst || c == ChoiceAbstain
}

// HouseVoteTally is derived entirely from the recorded votes of one house.
type HouseVoteTally struct {
	House              House   `json:"house" enum:"mosscoin,opensource"`
	VotesFor           int64   `json:"votes_for"`
	VotesAgainst       int64   `json:"votes_against"`
	VotesAbstain       int64   `json:"votes_abstain"`
	TotalVotes         int64   `json:"total_votes"`
	TotalPossiblePower int64   `json:"total_possible_power"`
	VoterCount         int     `json:"voter_count"`
	ParticipationRate  float64 `json:"participation_rate"`
	QuorumReached      bool    `json:"quorum_reached"`
	Passed             bool    `json:"passed"`
}

type DualHouseVoting struct {
	ID                     string         `json:"id"`
	ProposalID             string         `json:"proposal_id"`
	Title                  string         `json:"title"`
	RiskLevel              RiskLevel      `json:"risk_level" enum:"LOW,MID,HIGH"`
	Category               string         `json:"category,omitempty"`
	MossCoin               HouseVoteTally `json:"mosscoin_house"`
	OpenSource             HouseVoteTally `json:"opensource_house"`
	Status                 VotingStatus   `json:"status" enum:"voting,both_passed,moc_only,oss_only,rejected,reconciliation,executed"`
	RequiresReconciliation bool           `json:"requires_reconciliation"`
	ReconciliationMemoID   string         `json:"reconciliation_memo_id,omitempty"`
	StartedAt              time.Time      `json:"started_at"`
	EndsAt                 time.Time      `json:"ends_at"`
	FinalizedAt            *time.Time     `json:"finalized_at,omitempty"`
	Version                int64          `json:"version"`
}

// Tally returns a pointer to the tally of house h.
func (v *DualHouseVoting) Tally(h House) *HouseVoteTally {
	if h == HouseOpenSource {
		return &v.OpenSource
	}
	return &v.MossCoin
}

type Vote struct {
	ID             string     `json:"id"`
	VotingID       string     `json:"voting_id"`
	House          House      `json:"house" enum:"mosscoin,opensource"`
	MemberID       string     `json:"member_id"`
	Choice         VoteChoice `json:"choice" enum:"for,against,abstain"`
	VotingPower    int64      `json:"voting_power"`
	DelegatedPower int64      `json:"delegated_power"`

	// Delegations lists the delegated power folded into VotingPower.
	Delegations []DelegatedShare `json:"delegations,omitempty"`
	CastAt      time.Time        `json:"cast_at"`
}

type DelegatedShare struct {
	DelegationID string `json:"delegation_id"`
	DelegatorID  string `json:"delegator_id"`
	Power        int64  `json:"power"`
}

// Carries reports whether memberID's power is counted in this vote, directly or
// through a delegation.
func (v Vote) Carries(memberID string) bool {
	if v.MemberID == memberID {
		return true
	}
	for _, s := range v.Delegations {
		if s.DelegatorID == memberID {
			return true
		}
	}
	return false
}
