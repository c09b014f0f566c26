package voting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mossgov/internal/domain"
)

type DelegationRequest struct {
	DelegatorID string                 `json:"delegator_id"`
	DelegateID  string                 `json:"delegate_id"`
	Scope       domain.DelegationScope `json:"scope"`
	ScopeValue  string                 `json:"scope_value,omitempty"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
}

// CreateDelegation snapshots the delegator's current power and lends it to the delegate.
// Later power changes do not alter an existing delegation. A delegator holds at
// most one active delegation that could cover any given session.
func (e Engine) CreateDelegation(ctx context.Context, req DelegationRequest) (domain.VoteDelegation, error) {
	if req.DelegatorID == "" || req.DelegateID == "" {
		return domain.VoteDelegation{}, domain.Validationf("delegation", "delegator_id and delegate_id are required")
	}
	if req.DelegatorID == req.DelegateID {
		return domain.VoteDelegation{}, domain.Validationf("delegate_id", "a member cannot delegate to itself")
	}
	if req.Scope == "" {
		req.Scope = domain.ScopeAll
	}
	if !req.Scope.Valid() {
		return domain.VoteDelegation{}, domain.Validationf("scope", "unknown scope %q", req.Scope)
	}
	req.ScopeValue = strings.TrimSpace(req.ScopeValue)
	if req.Scope == domain.ScopeAll && req.ScopeValue != "" {
		return domain.VoteDelegation{}, domain.Validationf("scope_value", "must be empty for scope all")
	}
	if req.Scope != domain.ScopeAll && req.ScopeValue == "" {
		return domain.VoteDelegation{}, domain.Validationf("scope_value", "required for scope %s", req.Scope)
	}
	now := e.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return domain.VoteDelegation{}, domain.Validationf("expires_at", "must be in the future")
	}

	delegator, err := e.Members.GetMember(ctx, req.DelegatorID)
	if err != nil {
		return domain.VoteDelegation{}, domain.Wrap(err, "member", req.DelegatorID)
	}
	delegate, err := e.Members.GetMember(ctx, req.DelegateID)
	if err != nil {
		return domain.VoteDelegation{}, domain.Wrap(err, "member", req.DelegateID)
	}
	if delegator.House != delegate.House {
		return domain.VoteDelegation{}, domain.Validationf("delegate_id", "delegation must stay within the %s house", delegator.House)
	}
	if !e.Members.CanVote(delegator) {
		return domain.VoteDelegation{}, domain.Conflictf("member", delegator.ID, "member is %s with power %d and cannot delegate", delegator.Status, delegator.VotingPower)
	}

	d := domain.VoteDelegation{
		ID:             uuid.NewString(),
		DelegatorID:    delegator.ID,
		DelegateID:     delegate.ID,
		House:          delegator.House,
		Scope:          req.Scope,
		ScopeValue:     req.ScopeValue,
		DelegatedPower: delegator.VotingPower,
		Active:         true,
		CreatedAt:      now,
	}
	if req.ExpiresAt != nil {
		exp := req.ExpiresAt.UTC()
		d.ExpiresAt = &exp
	}
	existing, err := e.Store.ListDelegations(ctx, domain.DelegationFilter{DelegatorID: delegator.ID, House: delegator.House, ActiveOnly: true})
	if err != nil {
		return domain.VoteDelegation{}, err
	}
	for _, o := range existing {
		if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
			continue
		}
		if d.Overlaps(o) {
			return domain.VoteDelegation{}, domain.Conflictf("delegation", delegator.ID, "overlaps active %s delegation %s to %s", o.Scope, o.ID, o.DelegateID)
		}
	}
	if err := e.Store.InsertDelegation(ctx, d); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.VoteDelegation{}, domain.Conflictf("delegation", delegator.ID, "an active %s delegation already exists", req.Scope)
		}
		return domain.VoteDelegation{}, err
	}
	e.Log.Info().Str("delegation_id", d.ID).Str("delegator_id", d.DelegatorID).Str("delegate_id", d.DelegateID).
		Str("scope", string(d.Scope)).Int64("power", d.DelegatedPower).Msg("delegation created")
	return d, nil
}

func (e Engine) RevokeDelegation(ctx context.Context, id string) (domain.VoteDelegation, error) {
	d, revoked, err := e.Store.RevokeDelegation(ctx, id, e.now())
	if err != nil {
		return domain.VoteDelegation{}, domain.Wrap(err, "delegation", id)
	}
	if !revoked {
		return d, domain.Conflictf("delegation", id, "already inactive")
	}
	e.Log.Info().Str("delegation_id", id).Msg("delegation revoked")
	return d, nil
}

func (e Engine) GetDelegation(ctx context.Context, id string) (domain.VoteDelegation, error) {
	d, err := e.Store.GetDelegation(ctx, id)
	return d, domain.Wrap(err, "delegation", id)
}

func (e Engine) ListDelegations(ctx context.Context, f domain.DelegationFilter) ([]domain.VoteDelegation, error) {
	return e.Store.ListDelegations(ctx, f)
}
