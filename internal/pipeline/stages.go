package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mossgov/internal/domain"
	"mossgov/internal/voting"
)

func (p *Pipeline) stage(s domain.PipelineStage) stageFunc {
	switch s {
	case domain.StageSignalIntake:
		return p.signalIntake
	case domain.StageIssueDetection:
		return p.issueDetection
	case domain.StageWorkflowDispatch:
		return p.workflowDispatch
	case domain.StageSpecialistWork:
		return p.specialistWork
	case domain.StageDocumentProduction:
		return p.documentProduction
	case domain.StageDualHouseReview:
		return p.dualHouseReview
	case domain.StageApprovalRouting:
		return p.approvalRouting
	case domain.StageExecution:
		return p.execution
	case domain.StageOutcomeVerification:
		return p.outcomeVerification
	}
	return func(context.Context, *domain.PipelineContext) error {
		return domain.Validationf("stage", "unknown stage %q", s)
	}
}

func (p *Pipeline) signalIntake(_ context.Context, pc *domain.PipelineContext) error {
	if pc.ProposalID == "" {
		return domain.Validationf("proposal_id", "required")
	}
	if pc.Title == "" {
		return domain.Validationf("title", "required")
	}
	if pc.Action != nil {
		if err := pc.Action.Validate(); err != nil {
			return err
		}
	}
	signals := pc.Signals[:0]
	for _, s := range pc.Signals {
		s.Content = strings.TrimSpace(s.Content)
		if s.Content == "" {
			continue
		}
		if s.Source == "" {
			s.Source = "manual"
		}
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		signals = append(signals, s)
	}
	pc.Signals = signals
	return nil
}

func severity(r domain.RiskLevel) string {
	switch r {
	case domain.RiskHigh:
		return "high"
	case domain.RiskMid:
		return "medium"
	}
	return "low"
}

func (p *Pipeline) issueDetection(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.RiskLevel == "" {
		desc := domain.ActionDescriptor{
			ProposalID: pc.ProposalID,
			Title:      pc.Title,
			Category:   pc.Category,
			Signals:    pc.Signals,
		}
		if pc.Action != nil {
			desc.ActionType = pc.Action.ActionType
			if pc.Action.FundTransfer != nil {
				desc.Amount = pc.Action.FundTransfer.Amount
			}
		}
		level, err := p.svc.Risk.ClassifyRisk(ctx, desc)
		if err != nil {
			return fmt.Errorf("classify risk: %w", err)
		}
		if !level.Valid() {
			return domain.Validationf("risk_level", "classifier returned unknown level %q", level)
		}
		pc.RiskLevel = level
	}
	if pc.Metadata.Issue != nil {
		return nil
	}
	category := pc.Category
	if category == "" {
		category = "general"
	}
	pc.Metadata.Issue = &domain.Issue{
		ID:       uuid.NewString(),
		Title:    pc.Title,
		Category: category,
		Severity: severity(pc.RiskLevel),
		Summary:  pc.Description,
	}
	return nil
}

func (p *Pipeline) workflowType(category string) domain.WorkflowType {
	if wf, ok := p.cfg.CategoryWorkflows[category]; ok && wf != "" {
		return domain.WorkflowType(wf)
	}
	return domain.WorkflowProposalReview
}

func note(pc *domain.PipelineContext, key, value string) {
	if pc.Metadata.Notes == nil {
		pc.Metadata.Notes = map[string]string{}
	}
	pc.Metadata.Notes[key] = value
}

func (p *Pipeline) workflowDispatch(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.WorkflowID != "" {
		return nil
	}
	wf := p.workflowType(pc.Metadata.Issue.Category)
	id, err := p.svc.Workflows.CreateWorkflow(ctx, *pc.Metadata.Issue, wf)
	if err != nil {
		return fmt.Errorf("create %s workflow: %w", wf, err)
	}
	pc.WorkflowID = id
	note(pc, "workflow_type", string(wf))
	return nil
}

func (p *Pipeline) specialistWork(ctx context.Context, pc *domain.PipelineContext) error {
	if len(pc.Metadata.SpecialistOutputs) > 0 {
		return nil
	}
	wf := p.workflowType(pc.Metadata.Issue.Category)
	if t, ok := pc.Metadata.Notes["workflow_type"]; ok {
		wf = domain.WorkflowType(t)
	}
	kinds := p.cfg.SpecialistTasks[string(wf)]
	outputs := make([]domain.TaskOutput, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		task := domain.Task{
			Kind:    domain.TaskKind(kind),
			IssueID: pc.Metadata.Issue.ID,
			Prompt:  prompt(domain.TaskKind(kind), pc),
			Model:   p.cfg.Models[kind],
		}
		g.Go(func() error {
			out, err := p.svc.Executor.ExecuteTask(gctx, task)
			if err != nil {
				return fmt.Errorf("%s task: %w", task.Kind, err)
			}
			if out.Kind == "" {
				out.Kind = task.Kind
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	pc.Metadata.SpecialistOutputs = outputs
	return nil
}

func prompt(kind domain.TaskKind, pc *domain.PipelineContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s for proposal %s: %s\n", kind, pc.ProposalID, pc.Title)
	fmt.Fprintf(&b, "category: %s, risk: %s\n", pc.Metadata.Issue.Category, pc.RiskLevel)
	if pc.Description != "" {
		b.WriteString(pc.Description)
		b.WriteString("\n")
	}
	for _, s := range pc.Signals {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Source, s.Content)
	}
	return b.String()
}

func (p *Pipeline) documentProduction(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.Metadata.ContentHash != "" {
		return nil
	}
	docs, err := p.svc.Workflows.RunWorkflow(ctx, pc.WorkflowID)
	if err != nil {
		return fmt.Errorf("run workflow %s: %w", pc.WorkflowID, err)
	}
	pc.Metadata.Documents = docs
	pc.Metadata.ContentHash = ContentHash(pc.Metadata.SpecialistOutputs, docs)
	return nil
}

// ContentHash is the hex SHA-256 digest over specialist outputs and documents in order.
func ContentHash(outputs []domain.TaskOutput, docs []domain.Document) string {
	h := sha256.New()
	for _, o := range outputs {
		fmt.Fprintf(h, "task:%s:%d:%s\n", o.Kind, len(o.Content), o.Content)
	}
	for _, d := range docs {
		fmt.Fprintf(h, "doc:%s:%s:%d:%s\n", d.Name, d.Kind, len(d.Content), d.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) dualHouseReview(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.RiskLevel == domain.RiskLow || pc.VotingID != "" {
		return nil
	}
	v, err := p.svc.Votings.GetVotingByProposal(ctx, pc.ProposalID)
	if err == nil {
		pc.VotingID = v.ID
		return nil
	}
	if !domain.IsNotFound(err) {
		return err
	}
	v, err = p.svc.Votings.CreateVoting(ctx, voting.CreateRequest{
		ProposalID: pc.ProposalID,
		Title:      pc.Title,
		RiskLevel:  pc.RiskLevel,
		Category:   pc.Metadata.Issue.Category,
	})
	if err != nil {
		return err
	}
	pc.VotingID = v.ID
	return nil
}

func (p *Pipeline) approvalRouting(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.RiskLevel != domain.RiskHigh {
		return nil
	}
	if pc.Action == nil {
		return domain.Validationf("action", "a HIGH risk proposal needs an execution payload")
	}
	if pc.LockedActionID == "" {
		id, err := p.svc.Authority.CreateLockedAction(ctx, LockedActionRequest{
			ProposalID:  pc.ProposalID,
			ActionType:  pc.Action.ActionType,
			Description: pc.Title,
		})
		if err != nil {
			return fmt.Errorf("create locked action: %w", err)
		}
		pc.LockedActionID = id
	}
	if pc.ApprovalID != "" {
		return nil
	}
	if a, err := p.svc.Approvals.GetApprovalByProposal(ctx, pc.ProposalID); err == nil {
		pc.ApprovalID = a.ID
		return nil
	} else if !domain.IsNotFound(err) {
		return err
	}
	v, err := p.svc.Votings.GetVoting(ctx, pc.VotingID)
	if err != nil {
		return err
	}
	a, err := p.svc.Approvals.CreateApprovalFromVoting(ctx, v, *pc.Action)
	if err != nil {
		return err
	}
	if a == nil {
		note(pc, "approval", fmt.Sprintf("deferred: voting is %s", v.Status))
		return nil
	}
	pc.ApprovalID = a.ID
	delete(pc.Metadata.Notes, "approval")
	return nil
}

func (p *Pipeline) execution(ctx context.Context, pc *domain.PipelineContext) error {
	if pc.RiskLevel != domain.RiskHigh {
		return nil
	}
	check, err := p.svc.Authority.CheckApproval(ctx, pc.LockedActionID)
	if err != nil {
		return fmt.Errorf("check approval of %s: %w", pc.LockedActionID, err)
	}
	if !check.Approved || pc.ApprovalID == "" {
		pc.Metadata.ExecutionBlocked = true
		pc.Metadata.Block = p.blockOf(ctx, pc)
		return errBlocked
	}
	a, err := p.svc.Approvals.GetApproval(ctx, pc.ApprovalID)
	if err != nil {
		return err
	}
	if a.ExecutedAt != nil {
		return nil
	}
	_, err = p.svc.Approvals.Execute(ctx, pc.ApprovalID)
	return err
}

// blockOf explains a held execution. Lookup failures fall back to the generic reason.
func (p *Pipeline) blockOf(ctx context.Context, pc *domain.PipelineContext) *domain.Block {
	b := &domain.Block{Reason: "awaiting approval"}
	if pc.VotingID != "" {
		if v, err := p.svc.Votings.GetVoting(ctx, pc.VotingID); err == nil {
			b.VotingStatus = v.Status
			switch v.Status {
			case domain.VotingMossCoinOnly, domain.VotingOpenSourceOnly, domain.VotingRejected:
				b.Reason = fmt.Sprintf("voting ended %s, the approval can never unlock", v.Status)
				b.Final = true
				return b
			case domain.VotingOpen:
				b.Reason = "voting still open"
				return b
			case domain.VotingReconciliation:
				b.Reason = "voting awaits reconciliation"
				return b
			}
		}
	}
	if pc.ApprovalID != "" {
		if a, err := p.svc.Approvals.GetApproval(ctx, pc.ApprovalID); err == nil {
			if a.RejectedAt != nil {
				b.Reason = "approval was rejected"
				b.Final = true
				return b
			}
			var missing []string
			if !a.MossCoinHouse {
				missing = append(missing, "mosscoin house")
			}
			if !a.OpenSourceHouse {
				missing = append(missing, "opensource house")
			}
			if !a.Director3 {
				missing = append(missing, "director 3")
			}
			if len(missing) > 0 {
				b.Reason = "awaiting " + strings.Join(missing, ", ")
			}
		}
	}
	return b
}

func (p *Pipeline) outcomeVerification(ctx context.Context, pc *domain.PipelineContext) error {
	out := domain.Outcome{RiskLevel: pc.RiskLevel, ContentHash: pc.Metadata.ContentHash}
	if pc.VotingID != "" {
		v, err := p.svc.Votings.GetVoting(ctx, pc.VotingID)
		if err != nil {
			return err
		}
		out.VotingStatus = v.Status
	}
	if pc.RiskLevel == domain.RiskHigh {
		a, err := p.svc.Approvals.GetApproval(ctx, pc.ApprovalID)
		if err != nil {
			return err
		}
		if a.ExecutedAt == nil {
			return domain.Conflictf("approval", a.ID, "high-risk action was not executed")
		}
		out.Executed = true
	}
	pc.Metadata.Outcome = &out
	return nil
}
