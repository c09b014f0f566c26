package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mossgov/internal/db"
	"mossgov/internal/domain"
	"mossgov/internal/migrate"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func TestMemberIdentityUniquePerHouse(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	m := domain.HouseMember{
		ID: "m-1", House: domain.HouseMossCoin, Identity: "0xabc", VotingPower: 150,
		Status: domain.MemberActive, Token: &domain.TokenHolding{Balance: 150}, JoinedAt: testNow, LastActiveAt: testNow,
	}
	require.NoError(t, r.InsertMember(ctx, m))

	dup := m
	dup.ID = "m-2"
	assert.ErrorIs(t, r.InsertMember(ctx, dup), domain.ErrDuplicate)

	other := dup
	other.House = domain.HouseOpenSource
	other.Token = nil
	other.Contribution = &domain.ContributionRecord{Score: 40, Roles: []string{"maintainer"}}
	require.NoError(t, r.InsertMember(ctx, other))

	got, err := r.GetMemberByIdentity(ctx, domain.HouseMossCoin, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)
	require.NotNil(t, got.Token)
	assert.Equal(t, int64(150), got.Token.Balance)
	assert.True(t, got.JoinedAt.Equal(testNow))

	got, err = r.GetMember(ctx, "m-2")
	require.NoError(t, err)
	require.NotNil(t, got.Contribution)
	assert.Equal(t, []string{"maintainer"}, got.Contribution.Roles)

	_, err = r.GetMember(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMemberErrorLeavesRowUntouched(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	require.NoError(t, r.InsertMember(ctx, domain.HouseMember{
		ID: "m-1", House: domain.HouseMossCoin, Identity: "0xabc", VotingPower: 150,
		Status: domain.MemberActive, Token: &domain.TokenHolding{Balance: 150}, JoinedAt: testNow, LastActiveAt: testNow,
	}))

	boom := errors.New("boom")
	_, err := r.UpdateMember(ctx, "m-1", func(m *domain.HouseMember) error {
		m.VotingPower = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)

	updated, err := r.UpdateMember(ctx, "m-1", func(m *domain.HouseMember) error {
		m.Status = domain.MemberSuspended
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), updated.VotingPower)

	total, err := r.SumVotingPower(ctx, domain.HouseMossCoin, domain.MemberActive)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func insertVoting(t *testing.T, r Repo, id, proposal string) {
	t.Helper()
	require.NoError(t, r.InsertVoting(context.Background(), domain.DualHouseVoting{
		ID: id, ProposalID: proposal, Title: "t", RiskLevel: domain.RiskMid,
		MossCoin:   domain.HouseVoteTally{House: domain.HouseMossCoin, TotalPossiblePower: 100},
		OpenSource: domain.HouseVoteTally{House: domain.HouseOpenSource, TotalPossiblePower: 100},
		Status:     domain.VotingOpen, StartedAt: testNow, EndsAt: testNow.Add(24 * time.Hour),
	}))
}

func TestAppendVoteIsAtomic(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	insertVoting(t, r, "v-1", "p-1")

	vote := domain.Vote{ID: "vote-1", VotingID: "v-1", House: domain.HouseMossCoin, MemberID: "m-1", Choice: domain.ChoiceFor, VotingPower: 60, DelegatedPower: 20,
		Delegations: []domain.DelegatedShare{{DelegationID: "d-1", DelegatorID: "m-9", Power: 20}}, CastAt: testNow}
	count := func(v *domain.DualHouseVoting, votes []domain.Vote) error {
		v.MossCoin.VoterCount = len(votes)
		return nil
	}
	v, err := r.AppendVote(ctx, vote, count)
	require.NoError(t, err)
	assert.Equal(t, 1, v.MossCoin.VoterCount)
	assert.Equal(t, int64(2), v.Version)

	again := vote
	again.ID = "vote-2"
	_, err = r.AppendVote(ctx, again, count)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	rejected := domain.Vote{ID: "vote-3", VotingID: "v-1", House: domain.HouseOpenSource, MemberID: "m-2", Choice: domain.ChoiceAgainst, VotingPower: 10, CastAt: testNow}
	_, err = r.AppendVote(ctx, rejected, func(*domain.DualHouseVoting, []domain.Vote) error {
		return domain.Conflictf("voting", "v-1", "closed")
	})
	assert.True(t, domain.IsConflict(err))

	votes, err := r.ListVotes(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "vote-1", votes[0].ID)
	assert.True(t, votes[0].Carries("m-9"))
	assert.Equal(t, vote.Delegations, votes[0].Delegations)

	_, err = r.GetVotingByProposal(ctx, "p-1")
	require.NoError(t, err)
	insertDup := func() error {
		return r.InsertVoting(ctx, domain.DualHouseVoting{ID: "v-2", ProposalID: "p-1", Title: "t", RiskLevel: domain.RiskMid, Status: domain.VotingOpen, StartedAt: testNow, EndsAt: testNow})
	}
	assert.ErrorIs(t, insertDup(), domain.ErrDuplicate)
}

func TestUpdateApprovalBumpsVersion(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	insertVoting(t, r, "v-1", "p-1")
	a := domain.HighRiskApproval{
		ID: "a-1", ProposalID: "p-1", VotingID: "v-1", ActionType: domain.ActionFundTransfer,
		Payload: domain.ExecutionPayload{
			ActionType:   domain.ActionFundTransfer,
			FundTransfer: &domain.FundTransfer{Recipient: "0xdef", Amount: 5, Asset: "MOSS"},
		},
		MossCoinHouse: true, OpenSourceHouse: true, LockStatus: domain.Locked, CreatedAt: testNow,
	}
	require.NoError(t, r.InsertApproval(ctx, a))
	assert.ErrorIs(t, r.InsertApproval(ctx, domain.HighRiskApproval{ID: "a-2", ProposalID: "p-1", VotingID: "v-1", Payload: a.Payload, LockStatus: domain.Locked, CreatedAt: testNow}), domain.ErrDuplicate)

	got, err := r.UpdateApproval(ctx, "a-1", func(x *domain.HighRiskApproval) error {
		x.Director3 = true
		x.Director3SignerID = "director-alice"
		x.LockStatus = domain.Unlocked
		at := testNow.Add(time.Hour)
		x.UnlockedAt = &at
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	loaded, err := r.GetApprovalByProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Unlocked, loaded.LockStatus)
	assert.Equal(t, "director-alice", loaded.Director3SignerID)
	require.NotNil(t, loaded.Payload.FundTransfer)
	assert.Equal(t, int64(5), loaded.Payload.FundTransfer.Amount)

	locked, err := r.ListApprovals(ctx, domain.ApprovalFilter{LockStatus: domain.Locked})
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestEventsCursor(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	for _, typ := range []string{"voting:created", "voting:vote_cast", "voting:vote_cast", "voting:finalized"} {
		_, err := r.AppendEvent(ctx, domain.Event{TS: testNow, Type: typ, EntityKind: "voting", EntityID: "v-1", Payload: map[string]any{"house": "mosscoin"}})
		require.NoError(t, err)
	}
	latest, err = r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest)

	page, err := r.ListEvents(ctx, domain.EventFilter{AfterID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)
	assert.Equal(t, "mosscoin", page[0].Payload["house"])

	casts, err := r.ListEvents(ctx, domain.EventFilter{Type: "voting:vote_cast"})
	require.NoError(t, err)
	assert.Len(t, casts, 2)
}

func TestPipelineContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	pc := domain.PipelineContext{
		ID: "pc-1", ProposalID: "p-1", Title: "t", Stage: domain.StageSignalIntake,
		CompletedStages: []domain.PipelineStage{}, Status: domain.PipelinePending, StartedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, r.InsertPipelineContext(ctx, pc))

	pc.Status = domain.PipelineLocked
	pc.CompletedStages = append(pc.CompletedStages, domain.StageSignalIntake, domain.StageIssueDetection)
	pc.Metadata.ExecutionBlocked = true
	pc.Metadata.Issue = &domain.Issue{ID: "i-1", Title: "t", Severity: "high"}
	require.NoError(t, r.SavePipelineContext(ctx, pc))

	got, err := r.GetPipelineContext(ctx, "pc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineLocked, got.Status)
	assert.True(t, got.Completed(domain.StageIssueDetection))
	assert.True(t, got.Metadata.ExecutionBlocked)
	require.NotNil(t, got.Metadata.Issue)

	locked, err := r.ListPipelineContexts(ctx, domain.PipelineLocked)
	require.NoError(t, err)
	assert.Len(t, locked, 1)
	pending, err := r.ListPipelineContexts(ctx, domain.PipelinePending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = r.GetPipelineContext(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
