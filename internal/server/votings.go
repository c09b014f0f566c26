package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mossgov/internal/app"
	"mossgov/internal/domain"
)

type votingPath struct {
	ID string `path:"voting_id"`
}

func registerVotings(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-voting",
		Method:        http.MethodPost,
		Path:          "/votings",
		Summary:       "Open a dual-house voting session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateVotingRequest
	}) (*output[domain.DualHouseVoting], error) {
		v, err := a.Voting.CreateVoting(ctx, input.Body.request())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-votings",
		Method:      http.MethodGet,
		Path:        "/votings",
		Summary:     "List voting sessions",
	}, func(ctx context.Context, input *struct {
		Status []string `query:"status"`
	}) (*output[[]domain.DualHouseVoting], error) {
		var f domain.VotingFilter
		for _, s := range input.Status {
			f.Statuses = append(f.Statuses, domain.VotingStatus(s))
		}
		items, err := a.Voting.ListVotings(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-votings",
		Method:      http.MethodGet,
		Path:        "/votings/active",
		Summary:     "Sessions still accepting votes",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.DualHouseVoting], error) {
		items, err := a.Voting.GetActiveVotings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconciliation-votings",
		Method:      http.MethodGet,
		Path:        "/votings/reconciliation",
		Summary:     "Split outcomes awaiting a reconciliation memo",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.DualHouseVoting], error) {
		items, err := a.Voting.GetVotingsRequiringReconciliation(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-expired-votings",
		Method:      http.MethodPost,
		Path:        "/votings/finalize-expired",
		Summary:     "Finalize every open session past its deadline",
	}, func(ctx context.Context, _ *struct{}) (*output[IDsResponse], error) {
		ids, err := a.Voting.FinalizeExpiredVotings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(IDsResponse{IDs: nonNil(ids)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voting",
		Method:      http.MethodGet,
		Path:        "/votings/{voting_id}",
		Summary:     "Get a session with its votes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *votingPath) (*output[VotingResponse], error) {
		v, err := a.Voting.GetVoting(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		votes, err := a.Voting.ListVotes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(VotingResponse{DualHouseVoting: v, Votes: votes}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-voting-by-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}/voting",
		Summary:     "Get the session of a proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*output[domain.DualHouseVoting], error) {
		v, err := a.Voting.GetVotingByProposal(ctx, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cast-vote",
		Method:        http.MethodPost,
		Path:          "/votings/{voting_id}/votes",
		Summary:       "Cast a vote",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"voting_id"`
		Body CastVoteRequest
	}) (*output[domain.Vote], error) {
		vote, err := a.Voting.CastVote(ctx, input.ID, domain.House(input.Body.House), input.Body.MemberID, domain.VoteChoice(input.Body.Choice))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(vote), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-voting",
		Method:      http.MethodPost,
		Path:        "/votings/{voting_id}/finalize",
		Summary:     "Close a session and compute its outcome",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *votingPath) (*output[domain.DualHouseVoting], error) {
		v, err := a.Voting.FinalizeVoting(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-reconciliation-memo",
		Method:      http.MethodPut,
		Path:        "/votings/{voting_id}/memo",
		Summary:     "Attach a reconciliation memo to a split outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"voting_id"`
		Body ReconciliationMemoRequest
	}) (*output[domain.DualHouseVoting], error) {
		v, err := a.Voting.AttachReconciliationMemo(ctx, input.ID, input.Body.MemoID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})
}
