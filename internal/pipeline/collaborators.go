package pipeline

import (
	"context"

	"mossgov/internal/domain"
	"mossgov/internal/voting"
)

// RiskClassifier assigns a risk level to a proposed action.
type RiskClassifier interface {
	ClassifyRisk(ctx context.Context, a domain.ActionDescriptor) (domain.RiskLevel, error)
}

type LockedActionRequest struct {
	ProposalID  string            `json:"proposal_id"`
	ActionType  domain.ActionType `json:"action_type"`
	Description string            `json:"description,omitempty"`
}

// ApprovalCheck is the authority's view of a locked action.
type ApprovalCheck struct {
	Approved bool     `json:"approved"`
	By       []string `json:"by,omitempty"`
}

// LockedActionAuthority holds actions until they are approved.
type LockedActionAuthority interface {
	CreateLockedAction(ctx context.Context, req LockedActionRequest) (string, error)
	CheckApproval(ctx context.Context, actionID string) (ApprovalCheck, error)
}

// WorkflowProducer turns an issue into documents.
type WorkflowProducer interface {
	CreateWorkflow(ctx context.Context, issue domain.Issue, t domain.WorkflowType) (string, error)
	RunWorkflow(ctx context.Context, id string) ([]domain.Document, error)
}

// TaskExecutor runs one specialist task on the model it is routed to.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, t domain.Task) (domain.TaskOutput, error)
}

// Votings is the part of the voting engine the pipeline drives.
type Votings interface {
	CreateVoting(ctx context.Context, req voting.CreateRequest) (domain.DualHouseVoting, error)
	GetVoting(ctx context.Context, id string) (domain.DualHouseVoting, error)
	GetVotingByProposal(ctx context.Context, proposalID string) (domain.DualHouseVoting, error)
}

// Approvals is the part of the approval gate the pipeline drives.
type Approvals interface {
	CreateApprovalFromVoting(ctx context.Context, v domain.DualHouseVoting, payload domain.ExecutionPayload) (*domain.HighRiskApproval, error)
	GetApproval(ctx context.Context, id string) (domain.HighRiskApproval, error)
	GetApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error)
	Execute(ctx context.Context, id string) (domain.HighRiskApproval, error)
}

// Store persists pipeline contexts.
type Store interface {
	InsertPipelineContext(ctx context.Context, pc domain.PipelineContext) error
	SavePipelineContext(ctx context.Context, pc domain.PipelineContext) error
	GetPipelineContext(ctx context.Context, id string) (domain.PipelineContext, error)
	ListPipelineContexts(ctx context.Context, status domain.PipelineStatus) ([]domain.PipelineContext, error)
}

// Services bundles everything the stages call out to.
type Services struct {
	Risk      RiskClassifier
	Authority LockedActionAuthority
	Workflows WorkflowProducer
	Executor  TaskExecutor
	Votings   Votings
	Approvals Approvals
}
