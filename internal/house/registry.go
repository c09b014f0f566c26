// Package house keeps the membership and voting power of the two governance houses.
package house

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
)

// Store is the member persistence the registry needs.
type Store interface {
	InsertMember(ctx context.Context, m domain.HouseMember) error
	GetMember(ctx context.Context, id string) (domain.HouseMember, error)
	GetMemberByIdentity(ctx context.Context, house domain.House, identity string) (domain.HouseMember, error)
	ListMembers(ctx context.Context, f domain.MemberFilter) ([]domain.HouseMember, error)
	UpdateMember(ctx context.Context, id string, fn func(*domain.HouseMember) error) (domain.HouseMember, error)
	DeleteMember(ctx context.Context, id string) error
	SumVotingPower(ctx context.Context, house domain.House, status domain.MemberStatus) (int64, error)
}

type Registry struct {
	Store  Store
	Config *config.Config
	Events events.Publisher
	Log    zerolog.Logger
	Now    func() time.Time
}

func (r Registry) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Registry) publish(ctx context.Context, e events.Event) {
	if r.Events != nil {
		r.Events.Publish(ctx, e)
	}
}

func (r Registry) houseConfig(h domain.House) config.HouseConfig {
	return r.Config.House(string(h))
}

// Registration describes a new member. Only the fields for the member's house are read.
type Registration struct {
	House             domain.House `json:"house"`
	Identity          string       `json:"identity"`
	TokenBalance      int64        `json:"token_balance,omitempty"`
	ContributionScore int64        `json:"contribution_score,omitempty"`
	Roles             []string     `json:"roles,omitempty"`
}

func normalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func normalizeRoles(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ContributionPower is floor(score × product of the multipliers of roles). Unknown roles count as 1.
func ContributionPower(score int64, roles []string, multipliers map[string]float64) int64 {
	p := float64(score)
	for _, role := range roles {
		if m, ok := multipliers[role]; ok {
			p *= m
		}
	}
	// absorb float error on products that should be whole
	return int64(math.Floor(p + 1e-9))
}

// basePower recomputes m.VotingPower from its variant.
func (r Registry) basePower(m domain.HouseMember) int64 {
	switch {
	case m.Token != nil:
		return m.Token.Balance
	case m.Contribution != nil:
		return ContributionPower(m.Contribution.Score, m.Contribution.Roles, r.houseConfig(domain.HouseOpenSource).RoleMultipliers)
	}
	return 0
}

// meetsMinimum reports whether the member's metric satisfies the house minimum.
func (r Registry) meetsMinimum(m domain.HouseMember) bool {
	cfg := r.houseConfig(m.House)
	switch {
	case m.Token != nil:
		return m.Token.Balance >= cfg.MinTokenBalance
	case m.Contribution != nil:
		return m.Contribution.Score >= cfg.MinContributionScore
	}
	return false
}

// refresh recomputes power and eligibility. Suspension is only lifted by SetStatus.
func (r Registry) refresh(m *domain.HouseMember) {
	m.VotingPower = r.basePower(*m)
	if m.Status == domain.MemberSuspended {
		return
	}
	if r.meetsMinimum(*m) {
		m.Status = domain.MemberActive
	} else {
		m.Status = domain.MemberInactive
	}
}

func (r Registry) RegisterMember(ctx context.Context, reg Registration) (domain.HouseMember, error) {
	if !reg.House.Valid() {
		return domain.HouseMember{}, domain.Validationf("house", "unknown house %q", reg.House)
	}
	identity := normalizeIdentity(reg.Identity)
	if identity == "" {
		return domain.HouseMember{}, domain.Validationf("identity", "required")
	}
	now := r.now()
	m := domain.HouseMember{
		ID:           uuid.NewString(),
		House:        reg.House,
		Identity:     identity,
		Status:       domain.MemberActive,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	cfg := r.houseConfig(reg.House)
	switch reg.House {
	case domain.HouseMossCoin:
		if reg.TokenBalance < cfg.MinTokenBalance {
			return domain.HouseMember{}, domain.Validationf("token_balance", "balance %d below minimum %d", reg.TokenBalance, cfg.MinTokenBalance)
		}
		m.Token = &domain.TokenHolding{Balance: reg.TokenBalance}
	case domain.HouseOpenSource:
		if reg.ContributionScore < cfg.MinContributionScore {
			return domain.HouseMember{}, domain.Validationf("contribution_score", "score %d below minimum %d", reg.ContributionScore, cfg.MinContributionScore)
		}
		m.Contribution = &domain.ContributionRecord{Score: reg.ContributionScore, Roles: normalizeRoles(reg.Roles)}
	}
	m.VotingPower = r.basePower(m)
	if err := r.Store.InsertMember(ctx, m); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.HouseMember{}, &domain.ValidationError{Field: "identity", Message: "already registered in " + string(reg.House), Err: err}
		}
		return domain.HouseMember{}, err
	}
	r.Log.Info().Str("member_id", m.ID).Str("house", string(m.House)).Int64("voting_power", m.VotingPower).Msg("member registered")
	return m, nil
}

func (r Registry) GetMember(ctx context.Context, id string) (domain.HouseMember, error) {
	m, err := r.Store.GetMember(ctx, id)
	return m, domain.Wrap(err, "member", id)
}

func (r Registry) GetMemberByIdentity(ctx context.Context, house domain.House, identity string) (domain.HouseMember, error) {
	identity = normalizeIdentity(identity)
	m, err := r.Store.GetMemberByIdentity(ctx, house, identity)
	return m, domain.Wrap(err, "member", identity)
}

func (r Registry) ListMembers(ctx context.Context, f domain.MemberFilter) ([]domain.HouseMember, error) {
	return r.Store.ListMembers(ctx, f)
}

// update runs fn under the store's per-member atomic update and publishes a status
// change event when the status moved.
func (r Registry) update(ctx context.Context, id string, fn func(*domain.HouseMember) error) (domain.HouseMember, error) {
	var before domain.MemberStatus
	m, err := r.Store.UpdateMember(ctx, id, func(m *domain.HouseMember) error {
		before = m.Status
		return fn(m)
	})
	if err != nil {
		return domain.HouseMember{}, domain.Wrap(err, "member", id)
	}
	if m.Status != before {
		r.Log.Info().Str("member_id", m.ID).Str("from", string(before)).Str("to", string(m.Status)).Msg("member status changed")
		r.publish(ctx, events.NewMemberStatusChanged(r.now(), m, before))
	}
	return m, nil
}

// UpdateTokenBalance sets a mosscoin member's balance and recomputes power and eligibility.
func (r Registry) UpdateTokenBalance(ctx context.Context, id string, balance int64) (domain.HouseMember, error) {
	if balance < 0 {
		return domain.HouseMember{}, domain.Validationf("token_balance", "must not be negative")
	}
	return r.update(ctx, id, func(m *domain.HouseMember) error {
		if m.Token == nil {
			return domain.Validationf("token_balance", "member %s is not in the mosscoin house", id)
		}
		m.Token.Balance = balance
		r.refresh(m)
		return nil
	})
}

// UpdateContribution sets an opensource member's score, and roles when non-nil.
func (r Registry) UpdateContribution(ctx context.Context, id string, score int64, roles []string) (domain.HouseMember, error) {
	if score < 0 {
		return domain.HouseMember{}, domain.Validationf("contribution_score", "must not be negative")
	}
	return r.update(ctx, id, func(m *domain.HouseMember) error {
		if m.Contribution == nil {
			return domain.Validationf("contribution_score", "member %s is not in the opensource house", id)
		}
		m.Contribution.Score = score
		if roles != nil {
			m.Contribution.Roles = normalizeRoles(roles)
		}
		r.refresh(m)
		return nil
	})
}

// SetStatus suspends a member, or lifts a suspension when status is active or inactive;
// a lifted member is re-evaluated against the house minimum.
func (r Registry) SetStatus(ctx context.Context, id string, status domain.MemberStatus) (domain.HouseMember, error) {
	if !status.Valid() {
		return domain.HouseMember{}, domain.Validationf("status", "unknown status %q", status)
	}
	return r.update(ctx, id, func(m *domain.HouseMember) error {
		if status == domain.MemberSuspended {
			m.Status = domain.MemberSuspended
			return nil
		}
		m.Status = status
		if status == domain.MemberActive {
			r.refresh(m)
		}
		return nil
	})
}

// Touch records activity at the current time.
func (r Registry) Touch(ctx context.Context, id string) error {
	at := r.now()
	_, err := r.update(ctx, id, func(m *domain.HouseMember) error {
		if at.After(m.LastActiveAt) {
			m.LastActiveAt = at
		}
		return nil
	})
	return err
}

// SweepInactive marks active members inactive when their last activity is older than
// the house inactivity window. It returns the affected member ids.
func (r Registry) SweepInactive(ctx context.Context) ([]string, error) {
	now := r.now()
	var changed []string
	for _, h := range domain.Houses {
		days := r.houseConfig(h).InactivityDays
		if days <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		members, err := r.Store.ListMembers(ctx, domain.MemberFilter{House: h, Status: domain.MemberActive})
		if err != nil {
			return changed, err
		}
		for _, m := range members {
			if !m.LastActiveAt.Before(cutoff) {
				continue
			}
			updated, err := r.update(ctx, m.ID, func(m *domain.HouseMember) error {
				if m.Status == domain.MemberActive && m.LastActiveAt.Before(cutoff) {
					m.Status = domain.MemberInactive
				}
				return nil
			})
			if err != nil {
				return changed, err
			}
			if updated.Status == domain.MemberInactive {
				changed = append(changed, m.ID)
			}
		}
	}
	return changed, nil
}

// RemoveMember deletes the member and any delegations involving it.
func (r Registry) RemoveMember(ctx context.Context, id string) error {
	return domain.Wrap(r.Store.DeleteMember(ctx, id), "member", id)
}

// GetTotalVotingPower sums the power of active members of house.
func (r Registry) GetTotalVotingPower(ctx context.Context, house domain.House) (int64, error) {
	return r.Store.SumVotingPower(ctx, house, domain.MemberActive)
}

// CanVote reports whether m is active with positive power.
func (r Registry) CanVote(m domain.HouseMember) bool {
	return m.Status == domain.MemberActive && m.VotingPower > 0
}

// ParticipationRate is votes/possible as a percentage, 0 when possible is 0.
func ParticipationRate(votes, possible int64) float64 {
	if possible <= 0 {
		return 0
	}
	return float64(votes) / float64(possible) * 100
}

// CheckQuorum reports whether participation meets the house quorum percentage.
func (r Registry) CheckQuorum(house domain.House, totalVotes, totalPossible int64) bool {
	if totalPossible <= 0 {
		return false
	}
	return float64(totalVotes)*100 >= r.houseConfig(house).QuorumPercentage*float64(totalPossible)
}

// CheckPassThreshold reports whether for/(for+against) meets the house pass threshold.
// Abstentions are ignored; no decisive votes never passes.
func (r Registry) CheckPassThreshold(house domain.House, votesFor, votesAgainst int64) bool {
	decisive := votesFor + votesAgainst
	if decisive <= 0 {
		return false
	}
	return float64(votesFor)*100 >= r.houseConfig(house).PassThreshold*float64(decisive)
}
