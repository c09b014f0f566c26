// Package memstore is an in-memory implementation of the component stores.
// A single mutex guards all maps, so every check-then-write is atomic.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"mossgov/internal/domain"
)

type Store struct {
	mu          sync.RWMutex
	members     map[string]domain.HouseMember
	votings     map[string]domain.DualHouseVoting
	votes       map[string][]domain.Vote
	delegations map[string]domain.VoteDelegation
	approvals   map[string]domain.HighRiskApproval
	pipelines   map[string]domain.PipelineContext
	locked      map[string]domain.LockedAction
	events      []domain.Event
	order       map[string]int64
	seq         int64
}

func New() *Store {
	return &Store{
		members:     map[string]domain.HouseMember{},
		votings:     map[string]domain.DualHouseVoting{},
		votes:       map[string][]domain.Vote{},
		delegations: map[string]domain.VoteDelegation{},
		approvals:   map[string]domain.HighRiskApproval{},
		pipelines:   map[string]domain.PipelineContext{},
		locked:      map[string]domain.LockedAction{},
		order:       map[string]int64{},
	}
}

// insertion order, used for stable listings
func (s *Store) mark(id string) {
	s.seq++
	s.order[id] = s.seq
}

func (s *Store) sortByOrder(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })
}

// clone deep-copies v through JSON so callers never share slices or pointers with the store.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

// Members

func (s *Store) InsertMember(_ context.Context, m domain.HouseMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return domain.ErrDuplicate
	}
	for _, existing := range s.members {
		if existing.House == m.House && strings.EqualFold(existing.Identity, m.Identity) {
			return domain.ErrDuplicate
		}
	}
	s.members[m.ID] = clone(m)
	s.mark(m.ID)
	return nil
}

func (s *Store) GetMember(_ context.Context, id string) (domain.HouseMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return domain.HouseMember{}, domain.ErrNotFound
	}
	return clone(m), nil
}

func (s *Store) GetMemberByIdentity(_ context.Context, house domain.House, identity string) (domain.HouseMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.House == house && m.Identity == identity {
			return clone(m), nil
		}
	}
	return domain.HouseMember{}, domain.ErrNotFound
}

func (s *Store) ListMembers(_ context.Context, f domain.MemberFilter) ([]domain.HouseMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, m := range s.members {
		if f.House != "" && m.House != f.House {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		ids = append(ids, id)
	}
	s.sortByOrder(ids)
	res := make([]domain.HouseMember, 0, len(ids))
	for _, id := range ids {
		res = append(res, clone(s.members[id]))
	}
	return res, nil
}

func (s *Store) UpdateMember(_ context.Context, id string, fn func(*domain.HouseMember) error) (domain.HouseMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return domain.HouseMember{}, domain.ErrNotFound
	}
	m = clone(m)
	if err := fn(&m); err != nil {
		return domain.HouseMember{}, err
	}
	s.members[id] = clone(m)
	return m, nil
}

func (s *Store) DeleteMember(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.members, id)
	for did, d := range s.delegations {
		if d.DelegatorID == id || d.DelegateID == id {
			delete(s.delegations, did)
		}
	}
	return nil
}

func (s *Store) SumVotingPower(_ context.Context, house domain.House, status domain.MemberStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, m := range s.members {
		if m.House == house && m.Status == status {
			total += m.VotingPower
		}
	}
	return total, nil
}

// Votings

func (s *Store) InsertVoting(_ context.Context, v domain.DualHouseVoting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.votings[v.ID]; ok {
		return domain.ErrDuplicate
	}
	for _, existing := range s.votings {
		if existing.ProposalID == v.ProposalID {
			return domain.ErrDuplicate
		}
	}
	v.Version = 1
	s.votings[v.ID] = clone(v)
	s.mark(v.ID)
	return nil
}

func (s *Store) GetVoting(_ context.Context, id string) (domain.DualHouseVoting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votings[id]
	if !ok {
		return domain.DualHouseVoting{}, domain.ErrNotFound
	}
	return clone(v), nil
}

func (s *Store) GetVotingByProposal(_ context.Context, proposalID string) (domain.DualHouseVoting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.votings {
		if v.ProposalID == proposalID {
			return clone(v), nil
		}
	}
	return domain.DualHouseVoting{}, domain.ErrNotFound
}

func (s *Store) ListVotings(_ context.Context, f domain.VotingFilter) ([]domain.DualHouseVoting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, v := range s.votings {
		if f.Match(v) {
			ids = append(ids, id)
		}
	}
	s.sortByOrder(ids)
	res := make([]domain.DualHouseVoting, 0, len(ids))
	for _, id := range ids {
		res = append(res, clone(s.votings[id]))
	}
	return res, nil
}

func (s *Store) ListVotes(_ context.Context, votingID string) ([]domain.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.votes[votingID]), nil
}

func (s *Store) UpdateVoting(_ context.Context, id string, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votings[id]
	if !ok {
		return domain.DualHouseVoting{}, domain.ErrNotFound
	}
	v = clone(v)
	if err := fn(&v, clone(s.votes[id])); err != nil {
		return domain.DualHouseVoting{}, err
	}
	v.Version++
	s.votings[id] = clone(v)
	return v, nil
}

func (s *Store) AppendVote(_ context.Context, vote domain.Vote, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votings[vote.VotingID]
	if !ok {
		return domain.DualHouseVoting{}, domain.ErrNotFound
	}
	for _, existing := range s.votes[vote.VotingID] {
		if existing.House == vote.House && existing.MemberID == vote.MemberID {
			return domain.DualHouseVoting{}, domain.ErrDuplicate
		}
	}
	votes := append(clone(s.votes[vote.VotingID]), vote)
	v = clone(v)
	if err := fn(&v, clone(votes)); err != nil {
		return domain.DualHouseVoting{}, err
	}
	v.Version++
	s.votes[vote.VotingID] = votes
	s.votings[v.ID] = clone(v)
	return v, nil
}

// Delegations

func (s *Store) InsertDelegation(_ context.Context, d domain.VoteDelegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegations[d.ID]; ok {
		return domain.ErrDuplicate
	}
	if d.Active {
		for _, existing := range s.delegations {
			if existing.Active && existing.DelegatorID == d.DelegatorID && existing.House == d.House &&
				existing.Scope == d.Scope && existing.ScopeValue == d.ScopeValue {
				return domain.ErrDuplicate
			}
		}
	}
	s.delegations[d.ID] = clone(d)
	s.mark(d.ID)
	return nil
}

func (s *Store) GetDelegation(_ context.Context, id string) (domain.VoteDelegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return domain.VoteDelegation{}, domain.ErrNotFound
	}
	return clone(d), nil
}

func (s *Store) ListDelegations(_ context.Context, f domain.DelegationFilter) ([]domain.VoteDelegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, d := range s.delegations {
		if f.Match(d) {
			ids = append(ids, id)
		}
	}
	s.sortByOrder(ids)
	res := make([]domain.VoteDelegation, 0, len(ids))
	for _, id := range ids {
		res = append(res, clone(s.delegations[id]))
	}
	return res, nil
}

func (s *Store) RevokeDelegation(_ context.Context, id string, at time.Time) (domain.VoteDelegation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return domain.VoteDelegation{}, false, domain.ErrNotFound
	}
	if !d.Active {
		return clone(d), false, nil
	}
	d.Active = false
	d.RevokedAt = &at
	s.delegations[id] = clone(d)
	return clone(d), true, nil
}

// Approvals

func (s *Store) InsertApproval(_ context.Context, a domain.HighRiskApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; ok {
		return domain.ErrDuplicate
	}
	for _, existing := range s.approvals {
		if existing.ProposalID == a.ProposalID {
			return domain.ErrDuplicate
		}
	}
	a.Version = 1
	s.approvals[a.ID] = clone(a)
	s.mark(a.ID)
	return nil
}

func (s *Store) GetApproval(_ context.Context, id string) (domain.HighRiskApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return domain.HighRiskApproval{}, domain.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) GetApprovalByProposal(_ context.Context, proposalID string) (domain.HighRiskApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.approvals {
		if a.ProposalID == proposalID {
			return clone(a), nil
		}
	}
	return domain.HighRiskApproval{}, domain.ErrNotFound
}

func (s *Store) ListApprovals(_ context.Context, f domain.ApprovalFilter) ([]domain.HighRiskApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, a := range s.approvals {
		if f.Match(a) {
			ids = append(ids, id)
		}
	}
	s.sortByOrder(ids)
	res := make([]domain.HighRiskApproval, 0, len(ids))
	for _, id := range ids {
		res = append(res, clone(s.approvals[id]))
	}
	return res, nil
}

func (s *Store) UpdateApproval(_ context.Context, id string, fn func(*domain.HighRiskApproval) error) (domain.HighRiskApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return domain.HighRiskApproval{}, domain.ErrNotFound
	}
	a = clone(a)
	if err := fn(&a); err != nil {
		return domain.HighRiskApproval{}, err
	}
	a.Version++
	s.approvals[id] = clone(a)
	return a, nil
}

// Pipelines

func (s *Store) InsertPipelineContext(_ context.Context, pc domain.PipelineContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[pc.ID]; ok {
		return domain.ErrDuplicate
	}
	s.pipelines[pc.ID] = clone(pc)
	s.mark(pc.ID)
	return nil
}

func (s *Store) SavePipelineContext(_ context.Context, pc domain.PipelineContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[pc.ID]; !ok {
		return domain.ErrNotFound
	}
	s.pipelines[pc.ID] = clone(pc)
	return nil
}

func (s *Store) GetPipelineContext(_ context.Context, id string) (domain.PipelineContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.pipelines[id]
	if !ok {
		return domain.PipelineContext{}, domain.ErrNotFound
	}
	return clone(pc), nil
}

func (s *Store) ListPipelineContexts(_ context.Context, status domain.PipelineStatus) ([]domain.PipelineContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, pc := range s.pipelines {
		if status == "" || pc.Status == status {
			ids = append(ids, id)
		}
	}
	s.sortByOrder(ids)
	res := make([]domain.PipelineContext, 0, len(ids))
	for _, id := range ids {
		res = append(res, clone(s.pipelines[id]))
	}
	return res, nil
}

func (s *Store) InsertLockedAction(_ context.Context, la domain.LockedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.locked {
		if existing.ID == la.ID || existing.ProposalID == la.ProposalID {
			return domain.ErrDuplicate
		}
	}
	s.locked[la.ID] = la
	return nil
}

func (s *Store) GetLockedAction(_ context.Context, id string) (domain.LockedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	la, ok := s.locked[id]
	if !ok {
		return domain.LockedAction{}, domain.ErrNotFound
	}
	return la, nil
}

func (s *Store) GetLockedActionByProposal(_ context.Context, proposalID string) (domain.LockedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, la := range s.locked {
		if la.ProposalID == proposalID {
			return la, nil
		}
	}
	return domain.LockedAction{}, domain.ErrNotFound
}

// Events

func (s *Store) AppendEvent(_ context.Context, e domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, clone(e))
	return e.ID, nil
}

func (s *Store) ListEvents(_ context.Context, f domain.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var res []domain.Event
	for _, e := range s.events {
		if e.ID <= f.AfterID || (f.Type != "" && e.Type != f.Type) {
			continue
		}
		res = append(res, clone(e))
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *Store) LatestEventID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}
