package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mossgov/internal/app"
	"mossgov/internal/approval"
	"mossgov/internal/domain"
)

type approvalPath struct {
	ID string `path:"approval_id"`
}

func registerApprovals(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-approval",
		Method:        http.MethodPost,
		Path:          "/approvals",
		Summary:       "Open the high-risk approval for a passed HIGH risk voting",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateApprovalRequest
	}) (*output[domain.HighRiskApproval], error) {
		v, err := a.Voting.GetVoting(ctx, input.Body.VotingID)
		if err != nil {
			return nil, handleError(err)
		}
		created, err := a.Gate.CreateApprovalFromVoting(ctx, v, input.Body.Payload)
		if err != nil {
			return nil, handleError(err)
		}
		if created == nil {
			return nil, newAPIError(http.StatusConflict, "state_conflict", "voting is not a HIGH risk session passed by both houses",
				map[string]any{"risk_level": v.RiskLevel, "status": v.Status})
		}
		return reply(*created), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List high-risk approvals",
	}, func(ctx context.Context, input *struct {
		LockStatus string `query:"lock_status" enum:"LOCKED,UNLOCKED"`
		Pending    bool   `query:"pending"`
	}) (*output[[]domain.HighRiskApproval], error) {
		items, err := a.Gate.ListApprovals(ctx, domain.ApprovalFilter{LockStatus: domain.LockStatus(input.LockStatus), Pending: input.Pending})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{approval_id}",
		Summary:     "Get an approval",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *approvalPath) (*output[domain.HighRiskApproval], error) {
		ap, err := a.Gate.GetApproval(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval-by-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}/approval",
		Summary:     "Get the approval of a proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*output[domain.HighRiskApproval], error) {
		ap, err := a.Gate.GetApprovalByProposal(ctx, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval-status",
		Method:      http.MethodGet,
		Path:        "/approvals/{approval_id}/status",
		Summary:     "Approval status with missing approvals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *approvalPath) (*output[approval.Status], error) {
		st, err := a.Gate.GetApprovalStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		st.Missing = nonNil(st.Missing)
		return reply(st), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-house-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{approval_id}/house-approvals",
		Summary:     "Record a house approval",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"approval_id"`
		Body HouseApprovalRequest
	}) (*output[domain.HighRiskApproval], error) {
		ap, err := a.Gate.RecordHouseApproval(ctx, input.ID, domain.House(input.Body.House))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-director3-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{approval_id}/director3",
		Summary:     "Record the Director 3 approval",
		Description: "With bearer auth enabled the signer is the token subject.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"approval_id"`
		Body Director3ApprovalRequest
	}) (*output[domain.HighRiskApproval], error) {
		signer, serr := signerFor(ctx, input.Body.SignerID)
		if serr != nil {
			return nil, serr
		}
		ap, err := a.Gate.RecordDirector3Approval(ctx, input.ID, signer)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{approval_id}/execute",
		Summary:     "Execute an unlocked approval",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *approvalPath) (*output[domain.HighRiskApproval], error) {
		ap, err := a.Gate.Execute(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{approval_id}/reject",
		Summary:     "Reject an approval",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"approval_id"`
		Body RejectApprovalRequest
	}) (*output[domain.HighRiskApproval], error) {
		ap, err := a.Gate.Reject(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ap), nil
	})
}
