// Package collab provides the collaborators the pipeline calls out to: the locked-action
// authority, workflow producers and task executors.
package collab

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mossgov/internal/domain"
	"mossgov/internal/pipeline"
)

type LockedActionStore interface {
	InsertLockedAction(ctx context.Context, la domain.LockedAction) error
	GetLockedAction(ctx context.Context, id string) (domain.LockedAction, error)
	GetLockedActionByProposal(ctx context.Context, proposalID string) (domain.LockedAction, error)
}

type ApprovalLookup interface {
	GetApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error)
}

// Authority keeps one locked action per proposal and treats it as approved once the
// proposal's high-risk approval is unlocked and not rejected.
type Authority struct {
	Store     LockedActionStore
	Approvals ApprovalLookup
	Log       zerolog.Logger
	Now       func() time.Time
}

func (a Authority) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a Authority) CreateLockedAction(ctx context.Context, req pipeline.LockedActionRequest) (string, error) {
	if req.ProposalID == "" {
		return "", domain.Validationf("proposal_id", "required")
	}
	if existing, err := a.Store.GetLockedActionByProposal(ctx, req.ProposalID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	la := domain.LockedAction{
		ID:          uuid.NewString(),
		ProposalID:  req.ProposalID,
		ActionType:  req.ActionType,
		Description: req.Description,
		CreatedAt:   a.now(),
	}
	if err := a.Store.InsertLockedAction(ctx, la); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			existing, gerr := a.Store.GetLockedActionByProposal(ctx, req.ProposalID)
			if gerr != nil {
				return "", gerr
			}
			return existing.ID, nil
		}
		return "", err
	}
	a.Log.Info().Str("locked_action_id", la.ID).Str("proposal_id", la.ProposalID).Msg("action locked")
	return la.ID, nil
}

func (a Authority) CheckApproval(ctx context.Context, actionID string) (pipeline.ApprovalCheck, error) {
	la, err := a.Store.GetLockedAction(ctx, actionID)
	if err != nil {
		return pipeline.ApprovalCheck{}, domain.Wrap(err, "locked action", actionID)
	}
	ap, err := a.Approvals.GetApprovalByProposal(ctx, la.ProposalID)
	if domain.IsNotFound(err) {
		return pipeline.ApprovalCheck{}, nil
	}
	if err != nil {
		return pipeline.ApprovalCheck{}, err
	}
	check := pipeline.ApprovalCheck{Approved: ap.LockStatus == domain.Unlocked && ap.RejectedAt == nil}
	if ap.MossCoinHouse {
		check.By = append(check.By, string(domain.HouseMossCoin))
	}
	if ap.OpenSourceHouse {
		check.By = append(check.By, string(domain.HouseOpenSource))
	}
	if ap.Director3 {
		check.By = append(check.By, "director3:"+ap.Director3SignerID)
	}
	return check, nil
}
