// Package events defines the typed notifications emitted by the governance core and a
// synchronous bus to deliver them.
package events

import (
	"time"

	"mossgov/internal/domain"
)

type Name string

const (
	VotingCreated       Name = "voting:created"
	VoteCast            Name = "voting:vote_cast"
	QuorumReached       Name = "voting:quorum_reached"
	VotingFinalized     Name = "voting:finalized"
	ApprovalCreated     Name = "highrisk:created"
	HouseApproved       Name = "highrisk:house_approved"
	Director3Approved   Name = "highrisk:director3_approved"
	ApprovalUnlocked    Name = "highrisk:unlocked"
	ApprovalExecuted    Name = "highrisk:executed"
	ApprovalRejected    Name = "highrisk:rejected"
	StageCompleted      Name = "pipeline:stage_completed"
	PipelineBlocked     Name = "pipeline:blocked"
	PipelineCompleted   Name = "pipeline:completed"
	PipelineFailed      Name = "pipeline:error"
	MemberStatusChanged Name = "house:member_status_changed"
)

// Event is implemented by every notification type.
type Event interface {
	EventName() Name
	Timestamp() time.Time
	// Entity identifies the record the event is about.
	Entity() (kind, id string)
}

type base struct {
	At time.Time `json:"at"`
}

func (b base) Timestamp() time.Time { return b.At }

func stamp(at time.Time) base { return base{At: at.UTC()} }

type VotingCreatedEvent struct {
	base
	Voting domain.DualHouseVoting `json:"voting"`
}

func NewVotingCreated(at time.Time, v domain.DualHouseVoting) VotingCreatedEvent {
	return VotingCreatedEvent{base: stamp(at), Voting: v}
}

func (VotingCreatedEvent) EventName() Name             { return VotingCreated }
func (e VotingCreatedEvent) Entity() (string, string) { return "voting", e.Voting.ID }

type VoteCastEvent struct {
	base
	Vote  domain.Vote           `json:"vote"`
	Tally domain.HouseVoteTally `json:"tally"`
}

func NewVoteCast(at time.Time, v domain.Vote, tally domain.HouseVoteTally) VoteCastEvent {
	return VoteCastEvent{base: stamp(at), Vote: v, Tally: tally}
}

func (VoteCastEvent) EventName() Name             { return VoteCast }
func (e VoteCastEvent) Entity() (string, string) { return "voting", e.Vote.VotingID }

type QuorumReachedEvent struct {
	base
	VotingID          string       `json:"voting_id"`
	House             domain.House `json:"house"`
	ParticipationRate float64      `json:"participation_rate"`
}

func NewQuorumReached(at time.Time, votingID string, house domain.House, rate float64) QuorumReachedEvent {
	return QuorumReachedEvent{base: stamp(at), VotingID: votingID, House: house, ParticipationRate: rate}
}

func (QuorumReachedEvent) EventName() Name             { return QuorumReached }
func (e QuorumReachedEvent) Entity() (string, string) { return "voting", e.VotingID }

type VotingFinalizedEvent struct {
	base
	Voting domain.DualHouseVoting `json:"voting"`
	// Early is set when the session closed before its deadline.
	Early bool `json:"early"`
}

func NewVotingFinalized(at time.Time, v domain.DualHouseVoting, early bool) VotingFinalizedEvent {
	return VotingFinalizedEvent{base: stamp(at), Voting: v, Early: early}
}

func (VotingFinalizedEvent) EventName() Name             { return VotingFinalized }
func (e VotingFinalizedEvent) Entity() (string, string) { return "voting", e.Voting.ID }

// ApprovalEvent covers the high-risk approval lifecycle; Kind selects which one.
type ApprovalEvent struct {
	base
	Kind     Name                    `json:"kind"`
	Approval domain.HighRiskApproval `json:"approval"`
	House    domain.House            `json:"house,omitempty"`
	SignerID string                  `json:"signer_id,omitempty"`
}

func NewApprovalEvent(at time.Time, kind Name, a domain.HighRiskApproval) ApprovalEvent {
	return ApprovalEvent{base: stamp(at), Kind: kind, Approval: a}
}

func (e ApprovalEvent) EventName() Name          { return e.Kind }
func (e ApprovalEvent) Entity() (string, string) { return "approval", e.Approval.ID }

// PipelineEvent covers pipeline progress; Kind selects which one.
type PipelineEvent struct {
	base
	Kind       Name                  `json:"kind"`
	ContextID  string                `json:"context_id"`
	ProposalID string                `json:"proposal_id"`
	Stage      domain.PipelineStage  `json:"stage,omitempty"`
	Attempts   int                   `json:"attempts,omitempty"`
	Duration   time.Duration         `json:"duration_ns,omitempty"`
	Status     domain.PipelineStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
	Block      *domain.Block         `json:"block,omitempty"`
}

func (e PipelineEvent) EventName() Name          { return e.Kind }
func (e PipelineEvent) Entity() (string, string) { return "pipeline", e.ContextID }

func NewPipelineEvent(at time.Time, kind Name, pc domain.PipelineContext) PipelineEvent {
	return PipelineEvent{base: stamp(at), Kind: kind, ContextID: pc.ID, ProposalID: pc.ProposalID, Stage: pc.Stage, Status: pc.Status, Error: pc.Error, Block: pc.Metadata.Block}
}

type MemberStatusEvent struct {
	base
	MemberID string              `json:"member_id"`
	House    domain.House        `json:"house"`
	From     domain.MemberStatus `json:"from"`
	To       domain.MemberStatus `json:"to"`
}

func NewMemberStatusChanged(at time.Time, m domain.HouseMember, from domain.MemberStatus) MemberStatusEvent {
	return MemberStatusEvent{base: stamp(at), MemberID: m.ID, House: m.House, From: from, To: m.Status}
}

func (MemberStatusEvent) EventName() Name             { return MemberStatusChanged }
func (e MemberStatusEvent) Entity() (string, string) { return "member", e.MemberID }
