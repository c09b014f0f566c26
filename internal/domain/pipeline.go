package domain

import "time"

type PipelineStage string

const (
	StageSignalIntake        PipelineStage = "signal_intake"
	StageIssueDetection      PipelineStage = "issue_detection"
	StageWorkflowDispatch    PipelineStage = "workflow_dispatch"
	StageSpecialistWork      PipelineStage = "specialist_work"
	StageDocumentProduction  PipelineStage = "document_production"
	StageDualHouseReview     PipelineStage = "dual_house_review"
	StageApprovalRouting     PipelineStage = "approval_routing"
	StageExecution           PipelineStage = "execution"
	StageOutcomeVerification PipelineStage = "outcome_verification"
)

// Stages is the fixed stage order.
var Stages = []PipelineStage{
	StageSignalIntake,
	StageIssueDetection,
	StageWorkflowDispatch,
	StageSpecialistWork,
	StageDocumentProduction,
	StageDualHouseReview,
	StageApprovalRouting,
	StageExecution,
	StageOutcomeVerification,
}

type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineLocked    PipelineStatus = "locked"
	PipelineCompleted PipelineStatus = "completed"
	PipelineError     PipelineStatus = "error"

	// Reserved for callers reporting voting or approval sub-status.
	PipelineRejected        PipelineStatus = "rejected"
	PipelinePendingApproval PipelineStatus = "pending_approval"
)

type WorkflowType string

const (
	WorkflowProposalReview   WorkflowType = "proposal_review"
	WorkflowGrantEvaluation  WorkflowType = "grant_evaluation"
	WorkflowIncidentResponse WorkflowType = "incident_response"
	WorkflowPolicyUpdate     WorkflowType = "policy_update"
)

type TaskKind string

const (
	TaskResearch       TaskKind = "research"
	TaskImpactAnalysis TaskKind = "impact_analysis"
	TaskRiskReview     TaskKind = "risk_review"
	TaskDrafting       TaskKind = "drafting"
)

// Signal is a raw input observed by signal intake.
type Signal struct {
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity"`
	Summary  string `json:"summary,omitempty"`
}

// Task is one unit of specialist work routed to a model executor.
type Task struct {
	Kind    TaskKind `json:"kind"`
	IssueID string   `json:"issue_id"`
	Prompt  string   `json:"prompt"`
	Model   string   `json:"model,omitempty"`
}

type TaskOutput struct {
	Kind    TaskKind `json:"kind"`
	Model   string   `json:"model,omitempty"`
	Content string   `json:"content"`
}

type Document struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// ActionDescriptor is what the risk classifier sees.
type ActionDescriptor struct {
	ProposalID string            `json:"proposal_id"`
	Title      string            `json:"title"`
	Category   string            `json:"category,omitempty"`
	ActionType ActionType        `json:"action_type,omitempty"`
	Amount     int64             `json:"amount,omitempty"`
	Signals    []Signal          `json:"signals,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

type Outcome struct {
	RiskLevel    RiskLevel    `json:"risk_level"`
	VotingStatus VotingStatus `json:"voting_status,omitempty"`
	Executed     bool         `json:"executed"`
	ContentHash  string       `json:"content_hash,omitempty"`
}

// PipelineMetadata carries typed inter-stage signals.
// Block says why execution is held. Final is set when no later approval can
// release it.
type Block struct {
	Reason       string       `json:"reason"`
	VotingStatus VotingStatus `json:"voting_status,omitempty"`
	Final        bool         `json:"final"`
}

type PipelineMetadata struct {
	ExecutionBlocked  bool              `json:"execution_blocked,omitempty"`
	Block             *Block            `json:"block,omitempty"`
	Issue             *Issue            `json:"issue,omitempty"`
	SpecialistOutputs []TaskOutput      `json:"specialist_outputs,omitempty"`
	Documents         []Document        `json:"documents,omitempty"`
	ContentHash       string            `json:"content_hash,omitempty"`
	Outcome           *Outcome          `json:"outcome,omitempty"`
	Notes             map[string]string `json:"notes,omitempty"`
}

type PipelineContext struct {
	ID              string            `json:"id"`
	ProposalID      string            `json:"proposal_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Category        string            `json:"category,omitempty"`
	Signals         []Signal          `json:"signals,omitempty"`
	Action          *ExecutionPayload `json:"action,omitempty"`
	Stage           PipelineStage     `json:"stage"`
	CompletedStages []PipelineStage   `json:"completed_stages"`
	Status          PipelineStatus    `json:"status" enum:"pending,running,locked,completed,error,rejected,pending_approval"`
	RiskLevel       RiskLevel         `json:"risk_level,omitempty"`
	VotingID        string            `json:"voting_id,omitempty"`
	LockedActionID  string            `json:"locked_action_id,omitempty"`
	ApprovalID      string            `json:"approval_id,omitempty"`
	WorkflowID      string            `json:"workflow_id,omitempty"`
	Metadata        PipelineMetadata  `json:"metadata"`
	StartedAt       time.Time         `json:"started_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Completed reports whether stage s has already been recorded.
func (c PipelineContext) Completed(s PipelineStage) bool {
	for _, done := range c.CompletedStages {
		if done == s {
			return true
		}
	}
	return false
}

// Event is a persisted audit record of a published event.
type Event struct {
	ID         int64          `json:"id"`
	TS         time.Time      `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
