// Package voting runs dual-house voting sessions.
package voting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
)

// Store is the session, vote and delegation persistence the engine needs.
type Store interface {
	InsertVoting(ctx context.Context, v domain.DualHouseVoting) error
	GetVoting(ctx context.Context, id string) (domain.DualHouseVoting, error)
	GetVotingByProposal(ctx context.Context, proposalID string) (domain.DualHouseVoting, error)
	ListVotings(ctx context.Context, f domain.VotingFilter) ([]domain.DualHouseVoting, error)
	ListVotes(ctx context.Context, votingID string) ([]domain.Vote, error)
	UpdateVoting(ctx context.Context, id string, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error)
	AppendVote(ctx context.Context, vote domain.Vote, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error)

	InsertDelegation(ctx context.Context, d domain.VoteDelegation) error
	GetDelegation(ctx context.Context, id string) (domain.VoteDelegation, error)
	ListDelegations(ctx context.Context, f domain.DelegationFilter) ([]domain.VoteDelegation, error)
	RevokeDelegation(ctx context.Context, id string, at time.Time) (domain.VoteDelegation, bool, error)
}

// Members is the view of the house registry the engine consults.
type Members interface {
	GetMember(ctx context.Context, id string) (domain.HouseMember, error)
	GetTotalVotingPower(ctx context.Context, house domain.House) (int64, error)
	CanVote(m domain.HouseMember) bool
	CheckQuorum(house domain.House, totalVotes, totalPossible int64) bool
	CheckPassThreshold(house domain.House, votesFor, votesAgainst int64) bool
	Touch(ctx context.Context, id string) error
}

type Engine struct {
	Store   Store
	Members Members
	Config  *config.Config
	Events  events.Publisher
	Log     zerolog.Logger
	Now     func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) publish(ctx context.Context, evt events.Event) {
	if e.Events != nil {
		e.Events.Publish(ctx, evt)
	}
}

// CreateRequest opens a session for a MID or HIGH risk proposal. DurationHours 0 uses the default.
type CreateRequest struct {
	ProposalID    string           `json:"proposal_id"`
	Title         string           `json:"title"`
	RiskLevel     domain.RiskLevel `json:"risk_level"`
	Category      string           `json:"category,omitempty"`
	DurationHours int              `json:"duration_hours,omitempty"`
}

func (e Engine) CreateVoting(ctx context.Context, req CreateRequest) (domain.DualHouseVoting, error) {
	req.ProposalID = strings.TrimSpace(req.ProposalID)
	if req.ProposalID == "" {
		return domain.DualHouseVoting{}, domain.Validationf("proposal_id", "required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return domain.DualHouseVoting{}, domain.Validationf("title", "required")
	}
	if req.RiskLevel != domain.RiskMid && req.RiskLevel != domain.RiskHigh {
		return domain.DualHouseVoting{}, domain.Validationf("risk_level", "dual-house voting requires MID or HIGH risk, got %q", req.RiskLevel)
	}
	vc := e.Config.Voting
	hours := req.DurationHours
	if hours == 0 {
		hours = vc.DefaultDurationHours
	}
	if hours < vc.MinDurationHours || hours > vc.MaxDurationHours {
		return domain.DualHouseVoting{}, domain.Validationf("duration_hours", "%d outside [%d,%d]", hours, vc.MinDurationHours, vc.MaxDurationHours)
	}

	now := e.now()
	v := domain.DualHouseVoting{
		ID:         uuid.NewString(),
		ProposalID: req.ProposalID,
		Title:      req.Title,
		RiskLevel:  req.RiskLevel,
		Category:   req.Category,
		Status:     domain.VotingOpen,
		StartedAt:  now,
		EndsAt:     now.Add(time.Duration(hours) * time.Hour),
		Version:    1,
	}
	for _, h := range domain.Houses {
		possible, err := e.Members.GetTotalVotingPower(ctx, h)
		if err != nil {
			return domain.DualHouseVoting{}, err
		}
		*v.Tally(h) = e.tally(h, nil, possible)
	}
	if err := e.Store.InsertVoting(ctx, v); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.DualHouseVoting{}, domain.Conflictf("voting", req.ProposalID, "proposal already has a voting session")
		}
		return domain.DualHouseVoting{}, err
	}
	e.Log.Info().Str("voting_id", v.ID).Str("proposal_id", v.ProposalID).Str("risk", string(v.RiskLevel)).Time("ends_at", v.EndsAt).Msg("voting created")
	e.publish(ctx, events.NewVotingCreated(now, v))
	return v, nil
}

func (e Engine) GetVoting(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	v, err := e.Store.GetVoting(ctx, id)
	return v, domain.Wrap(err, "voting", id)
}

func (e Engine) GetVotingByProposal(ctx context.Context, proposalID string) (domain.DualHouseVoting, error) {
	v, err := e.Store.GetVotingByProposal(ctx, proposalID)
	return v, domain.Wrap(err, "voting for proposal", proposalID)
}

// GetActiveVotings lists sessions still accepting votes.
func (e Engine) GetActiveVotings(ctx context.Context) ([]domain.DualHouseVoting, error) {
	return e.Store.ListVotings(ctx, domain.VotingFilter{Statuses: []domain.VotingStatus{domain.VotingOpen}})
}

// GetVotingsRequiringReconciliation lists split outcomes that have no reconciliation memo yet.
func (e Engine) GetVotingsRequiringReconciliation(ctx context.Context) ([]domain.DualHouseVoting, error) {
	return e.Store.ListVotings(ctx, domain.VotingFilter{
		Statuses:  []domain.VotingStatus{domain.VotingMossCoinOnly, domain.VotingOpenSourceOnly},
		NeedsMemo: true,
	})
}

func (e Engine) ListVotings(ctx context.Context, f domain.VotingFilter) ([]domain.DualHouseVoting, error) {
	return e.Store.ListVotings(ctx, f)
}

func (e Engine) ListVotes(ctx context.Context, votingID string) ([]domain.Vote, error) {
	if _, err := e.GetVoting(ctx, votingID); err != nil {
		return nil, err
	}
	return e.Store.ListVotes(ctx, votingID)
}

// CastVote records memberID's vote in house. The recorded power is the member's
// own power plus every active delegation to it that covers this session, except
// delegations whose delegator's power is already counted in this house.
func (e Engine) CastVote(ctx context.Context, votingID string, house domain.House, memberID string, choice domain.VoteChoice) (domain.Vote, error) {
	if !choice.Valid() {
		return domain.Vote{}, domain.Validationf("choice", "unknown choice %q", choice)
	}
	if !house.Valid() {
		return domain.Vote{}, domain.Validationf("house", "unknown house %q", house)
	}
	member, err := e.Members.GetMember(ctx, memberID)
	if err != nil {
		return domain.Vote{}, domain.Wrap(err, "member", memberID)
	}
	if member.House != house {
		return domain.Vote{}, domain.Validationf("house", "member %s belongs to the %s house", memberID, member.House)
	}
	if !e.Members.CanVote(member) {
		return domain.Vote{}, domain.Conflictf("member", memberID, "member is %s with power %d and cannot vote", member.Status, member.VotingPower)
	}
	v, err := e.GetVoting(ctx, votingID)
	if err != nil {
		return domain.Vote{}, err
	}
	now := e.now()
	if err := checkOpen(v, now); err != nil {
		return domain.Vote{}, err
	}

	outgoing, err := e.Store.ListDelegations(ctx, domain.DelegationFilter{DelegatorID: memberID, House: member.House, ActiveOnly: true})
	if err != nil {
		return domain.Vote{}, err
	}
	for _, d := range outgoing {
		if d.AppliesTo(v.ProposalID, v.Category, now) {
			return domain.Vote{}, domain.Conflictf("member", memberID, "voting power is delegated to %s (delegation %s)", d.DelegateID, d.ID)
		}
	}
	prior, err := e.Store.ListVotes(ctx, votingID)
	if err != nil {
		return domain.Vote{}, err
	}
	shares, delegated, err := e.receivedShares(ctx, member, v, prior, now)
	if err != nil {
		return domain.Vote{}, err
	}

	vote := domain.Vote{
		ID:             uuid.NewString(),
		VotingID:       votingID,
		House:          member.House,
		MemberID:       memberID,
		Choice:         choice,
		VotingPower:    member.VotingPower + delegated,
		DelegatedPower: delegated,
		Delegations:    shares,
		CastAt:         now,
	}
	var quorumBefore bool
	updated, err := e.Store.AppendVote(ctx, vote, func(cur *domain.DualHouseVoting, votes []domain.Vote) error {
		if err := checkOpen(*cur, now); err != nil {
			return err
		}
		if err := checkUnspent(vote, votes); err != nil {
			return err
		}
		t := cur.Tally(member.House)
		quorumBefore = t.QuorumReached
		*t = e.tally(member.House, votes, t.TotalPossiblePower)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return domain.Vote{}, domain.Conflictf("vote", votingID, "member %s already voted in the %s house", memberID, member.House)
		}
		return domain.Vote{}, domain.Wrap(err, "voting", votingID)
	}
	if err := e.Members.Touch(ctx, memberID); err != nil {
		e.Log.Warn().Err(err).Str("member_id", memberID).Msg("record member activity")
	}

	tally := *updated.Tally(member.House)
	e.Log.Info().Str("voting_id", votingID).Str("member_id", memberID).Str("house", string(member.House)).
		Str("choice", string(choice)).Int64("power", vote.VotingPower).Float64("participation", tally.ParticipationRate).Msg("vote cast")
	e.publish(ctx, events.NewVoteCast(now, vote, tally))
	if tally.QuorumReached && !quorumBefore {
		e.publish(ctx, events.NewQuorumReached(now, votingID, member.House, tally.ParticipationRate))
	}

	if e.earlyFinalization(updated) {
		if _, err := e.finalize(ctx, votingID, true); err != nil && !domain.IsConflict(err) {
			e.Log.Error().Err(err).Str("voting_id", votingID).Msg("early finalization")
		}
	}
	return vote, nil
}

func checkOpen(v domain.DualHouseVoting, now time.Time) error {
	if v.Status != domain.VotingOpen {
		return domain.Conflictf("voting", v.ID, "session is %s", v.Status)
	}
	if !now.Before(v.EndsAt) {
		return domain.Conflictf("voting", v.ID, "voting period ended at %s", v.EndsAt.Format(time.RFC3339))
	}
	return nil
}

func (e Engine) earlyFinalization(v domain.DualHouseVoting) bool {
	q := e.Config.Voting.EarlyFinalizationQuorum
	return v.Status == domain.VotingOpen && v.MossCoin.ParticipationRate >= q && v.OpenSource.ParticipationRate >= q
}

// receivedShares collects delegations to member that cover session v, skipping
// delegators whose power a recorded vote already carries.
func (e Engine) receivedShares(ctx context.Context, member domain.HouseMember, v domain.DualHouseVoting, prior []domain.Vote, now time.Time) ([]domain.DelegatedShare, int64, error) {
	incoming, err := e.Store.ListDelegations(ctx, domain.DelegationFilter{DelegateID: member.ID, House: member.House, ActiveOnly: true})
	if err != nil {
		return nil, 0, err
	}
	var (
		shares []domain.DelegatedShare
		total  int64
	)
	for _, d := range incoming {
		if !d.AppliesTo(v.ProposalID, v.Category, now) {
			continue
		}
		if carrier, ok := carrierOf(prior, member.House, d.DelegatorID); ok {
			e.Log.Debug().Str("voting_id", v.ID).Str("delegation_id", d.ID).Str("carried_by", carrier.MemberID).Msg("delegated power already cast")
			continue
		}
		shares = append(shares, domain.DelegatedShare{DelegationID: d.ID, DelegatorID: d.DelegatorID, Power: d.DelegatedPower})
		total += d.DelegatedPower
	}
	return shares, total, nil
}

func carrierOf(votes []domain.Vote, h domain.House, memberID string) (domain.Vote, bool) {
	for _, v := range votes {
		if v.House == h && v.Carries(memberID) {
			return v, true
		}
	}
	return domain.Vote{}, false
}

// checkUnspent rejects vote when a different recorded vote in its house already
// carries the power of the voter or of one of its delegators.
func checkUnspent(vote domain.Vote, votes []domain.Vote) error {
	others := make([]domain.Vote, 0, len(votes))
	for _, v := range votes {
		if v.ID != vote.ID {
			others = append(others, v)
		}
	}
	if carrier, ok := carrierOf(others, vote.House, vote.MemberID); ok {
		return domain.Conflictf("member", vote.MemberID, "voting power was already cast by %s", carrier.MemberID)
	}
	for _, s := range vote.Delegations {
		if carrier, ok := carrierOf(others, vote.House, s.DelegatorID); ok {
			return domain.Conflictf("delegation", s.DelegationID, "power of %s was already cast by %s", s.DelegatorID, carrier.MemberID)
		}
	}
	return nil
}

// tally derives a house tally from votes alone; the result does not depend on vote order.
func (e Engine) tally(h domain.House, votes []domain.Vote, possible int64) domain.HouseVoteTally {
	t := domain.HouseVoteTally{House: h, TotalPossiblePower: possible}
	for _, v := range votes {
		if v.House != h {
			continue
		}
		switch v.Choice {
		case domain.ChoiceFor:
			t.VotesFor += v.VotingPower
		case domain.ChoiceAgainst:
			t.VotesAgainst += v.VotingPower
		case domain.ChoiceAbstain:
			t.VotesAbstain += v.VotingPower
		}
		t.VoterCount++
	}
	t.TotalVotes = t.VotesFor + t.VotesAgainst + t.VotesAbstain
	if possible > 0 {
		t.ParticipationRate = float64(t.TotalVotes) / float64(possible) * 100
	}
	t.QuorumReached = e.Members.CheckQuorum(h, t.TotalVotes, possible)
	t.Passed = t.QuorumReached && e.Members.CheckPassThreshold(h, t.VotesFor, t.VotesAgainst)
	return t
}

// Outcome maps the two house results onto a final session status.
func Outcome(mossCoinPassed, openSourcePassed bool) domain.VotingStatus {
	switch {
	case mossCoinPassed && openSourcePassed:
		return domain.VotingBothPassed
	case mossCoinPassed:
		return domain.VotingMossCoinOnly
	case openSourcePassed:
		return domain.VotingOpenSourceOnly
	}
	return domain.VotingRejected
}

// FinalizeVoting closes an open session, recomputing both tallies from the recorded votes.
func (e Engine) FinalizeVoting(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	return e.finalize(ctx, id, false)
}

func (e Engine) finalize(ctx context.Context, id string, early bool) (domain.DualHouseVoting, error) {
	now := e.now()
	v, err := e.Store.UpdateVoting(ctx, id, func(v *domain.DualHouseVoting, votes []domain.Vote) error {
		if v.Status != domain.VotingOpen {
			return domain.Conflictf("voting", id, "session already finalized as %s", v.Status)
		}
		for _, h := range domain.Houses {
			t := v.Tally(h)
			*t = e.tally(h, votes, t.TotalPossiblePower)
		}
		v.Status = Outcome(v.MossCoin.Passed, v.OpenSource.Passed)
		v.RequiresReconciliation = v.Status == domain.VotingMossCoinOnly || v.Status == domain.VotingOpenSourceOnly
		v.FinalizedAt = &now
		return nil
	})
	if err != nil {
		return domain.DualHouseVoting{}, domain.Wrap(err, "voting", id)
	}
	e.Log.Info().Str("voting_id", id).Str("status", string(v.Status)).Bool("early", early).Msg("voting finalized")
	e.publish(ctx, events.NewVotingFinalized(now, v, early))
	return v, nil
}

// FinalizeExpiredVotings finalizes every open session past its deadline and returns
// the ids it finalized. Failures for individual sessions are joined into the error.
func (e Engine) FinalizeExpiredVotings(ctx context.Context) ([]string, error) {
	now := e.now()
	due, err := e.Store.ListVotings(ctx, domain.VotingFilter{Statuses: []domain.VotingStatus{domain.VotingOpen}, EndsBefore: &now})
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		done = make([]bool, len(due))
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, v := range due {
		g.Go(func() error {
			_, err := e.FinalizeVoting(gctx, v.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				done[i] = true
			case !domain.IsConflict(err):
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	var ids []string
	for i, v := range due {
		if done[i] {
			ids = append(ids, v.ID)
		}
	}
	return ids, errors.Join(errs...)
}

func ensureVotingTransition(from, to domain.VotingStatus) error {
	switch from {
	case domain.VotingBothPassed:
		if to == domain.VotingExecuted || to == domain.VotingRejected {
			return nil
		}
	case domain.VotingMossCoinOnly, domain.VotingOpenSourceOnly:
		if to == domain.VotingReconciliation || to == domain.VotingRejected {
			return nil
		}
	case domain.VotingReconciliation:
		if to == domain.VotingExecuted || to == domain.VotingRejected {
			return nil
		}
	}
	return domain.Conflictf("voting", "", "invalid status transition %s -> %s", from, to)
}

func (e Engine) transition(ctx context.Context, id string, to domain.VotingStatus, fn func(*domain.DualHouseVoting)) (domain.DualHouseVoting, error) {
	v, err := e.Store.UpdateVoting(ctx, id, func(v *domain.DualHouseVoting, _ []domain.Vote) error {
		if err := ensureVotingTransition(v.Status, to); err != nil {
			return err
		}
		v.Status = to
		if fn != nil {
			fn(v)
		}
		return nil
	})
	if err != nil {
		return domain.DualHouseVoting{}, domain.Wrap(err, "voting", id)
	}
	e.Log.Info().Str("voting_id", id).Str("status", string(to)).Msg("voting status changed")
	return v, nil
}

// AttachReconciliationMemo moves a split outcome into reconciliation.
func (e Engine) AttachReconciliationMemo(ctx context.Context, id, memoID string) (domain.DualHouseVoting, error) {
	if strings.TrimSpace(memoID) == "" {
		return domain.DualHouseVoting{}, domain.Validationf("memo_id", "required")
	}
	return e.transition(ctx, id, domain.VotingReconciliation, func(v *domain.DualHouseVoting) {
		v.ReconciliationMemoID = memoID
	})
}

func (e Engine) MarkExecuted(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	return e.transition(ctx, id, domain.VotingExecuted, nil)
}

func (e Engine) MarkRejected(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	return e.transition(ctx, id, domain.VotingRejected, nil)
}

// RecomputeTally rebuilds the tallies of an open session from its votes.
func (e Engine) RecomputeTally(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	v, err := e.Store.UpdateVoting(ctx, id, func(v *domain.DualHouseVoting, votes []domain.Vote) error {
		if v.Status != domain.VotingOpen {
			return domain.Conflictf("voting", id, "session is %s", v.Status)
		}
		for _, h := range domain.Houses {
			t := v.Tally(h)
			*t = e.tally(h, votes, t.TotalPossiblePower)
		}
		return nil
	})
	return v, domain.Wrap(err, "voting", id)
}
