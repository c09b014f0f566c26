package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mossgov/internal/app"
	"mossgov/internal/domain"
)

type memberPath struct {
	ID string `path:"member_id"`
}

func registerMembers(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Register a house member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterMemberRequest
	}) (*output[domain.HouseMember], error) {
		m, err := a.Houses.RegisterMember(ctx, input.Body.registration())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List house members",
	}, func(ctx context.Context, input *struct {
		House  string `query:"house" enum:"mosscoin,opensource"`
		Status string `query:"status" enum:"active,inactive,suspended"`
	}) (*output[[]domain.HouseMember], error) {
		items, err := a.Houses.ListMembers(ctx, domain.MemberFilter{
			House:  domain.House(input.House),
			Status: domain.MemberStatus(input.Status),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-member",
		Method:      http.MethodGet,
		Path:        "/members/{member_id}",
		Summary:     "Get a member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *memberPath) (*output[domain.HouseMember], error) {
		m, err := a.Houses.GetMember(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-token-balance",
		Method:      http.MethodPut,
		Path:        "/members/{member_id}/token-balance",
		Summary:     "Set a MossCoin member's token balance",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"member_id"`
		Body UpdateTokenBalanceRequest
	}) (*output[domain.HouseMember], error) {
		m, err := a.Houses.UpdateTokenBalance(ctx, input.ID, input.Body.TokenBalance)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contribution",
		Method:      http.MethodPut,
		Path:        "/members/{member_id}/contribution",
		Summary:     "Set an OpenSource member's contribution score and roles",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"member_id"`
		Body UpdateContributionRequest
	}) (*output[domain.HouseMember], error) {
		m, err := a.Houses.UpdateContribution(ctx, input.ID, input.Body.ContributionScore, input.Body.Roles)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-member-status",
		Method:      http.MethodPut,
		Path:        "/members/{member_id}/status",
		Summary:     "Change a member's status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"member_id"`
		Body SetMemberStatusRequest
	}) (*output[domain.HouseMember], error) {
		m, err := a.Houses.SetStatus(ctx, input.ID, domain.MemberStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/members/{member_id}",
		Summary:       "Remove a member",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *memberPath) (*struct{}, error) {
		if err := a.Houses.RemoveMember(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-inactive-members",
		Method:      http.MethodPost,
		Path:        "/members/sweep-inactive",
		Summary:     "Mark members inactive after their house's inactivity window",
	}, func(ctx context.Context, _ *struct{}) (*output[IDsResponse], error) {
		ids, err := a.Houses.SweepInactive(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(IDsResponse{IDs: nonNil(ids)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "house-power",
		Method:      http.MethodGet,
		Path:        "/houses/{house}/power",
		Summary:     "Total voting power of a house's active members",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		House string `path:"house" enum:"mosscoin,opensource"`
	}) (*output[TotalPowerResponse], error) {
		power, err := a.Houses.GetTotalVotingPower(ctx, domain.House(input.House))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TotalPowerResponse{House: input.House, Power: power}), nil
	})
}

func registerDelegations(api huma.API, a *app.App) {
	type delegationPath struct {
		ID string `path:"delegation_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-delegation",
		Method:        http.MethodPost,
		Path:          "/delegations",
		Summary:       "Delegate voting power within a house",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateDelegationRequest
	}) (*output[domain.VoteDelegation], error) {
		d, err := a.Voting.CreateDelegation(ctx, input.Body.request())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegations",
		Method:      http.MethodGet,
		Path:        "/delegations",
		Summary:     "List delegations",
	}, func(ctx context.Context, input *struct {
		DelegatorID string `query:"delegator_id"`
		DelegateID  string `query:"delegate_id"`
		House       string `query:"house" enum:"mosscoin,opensource"`
		Active      bool   `query:"active"`
	}) (*output[[]domain.VoteDelegation], error) {
		items, err := a.Voting.ListDelegations(ctx, domain.DelegationFilter{
			DelegatorID: input.DelegatorID,
			DelegateID:  input.DelegateID,
			House:       domain.House(input.House),
			ActiveOnly:  input.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delegation",
		Method:      http.MethodGet,
		Path:        "/delegations/{delegation_id}",
		Summary:     "Get a delegation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *delegationPath) (*output[domain.VoteDelegation], error) {
		d, err := a.Voting.GetDelegation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-delegation",
		Method:      http.MethodPost,
		Path:        "/delegations/{delegation_id}/revoke",
		Summary:     "Revoke a delegation",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *delegationPath) (*output[domain.VoteDelegation], error) {
		d, err := a.Voting.RevokeDelegation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})
}
