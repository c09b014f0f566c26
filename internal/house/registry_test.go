package house

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/memstore"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newRegistry(t *testing.T) (Registry, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return Registry{Store: memstore.New(), Config: config.Default(), Now: c.Now}, c
}

func TestRegisterTokenMember(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	m, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xABC", TokenBalance: 500})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", m.Identity)
	assert.Equal(t, int64(500), m.VotingPower)
	assert.Equal(t, domain.MemberActive, m.Status)

	_, err = r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xabc", TokenBalance: 900})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xdef", TokenBalance: 99})
	assert.True(t, domain.IsValidation(err))
}

func TestContributionPowerAppliesRoleMultipliers(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	m, err := r.RegisterMember(ctx, Registration{House: domain.HouseOpenSource, Identity: "alice", ContributionScore: 100, Roles: []string{"maintainer", "core_contributor", "unknown"}})
	require.NoError(t, err)
	assert.Equal(t, int64(195), m.VotingPower)

	m, err = r.UpdateContribution(ctx, m.ID, 40, []string{"maintainer"})
	require.NoError(t, err)
	assert.Equal(t, int64(60), m.VotingPower)

	_, err = r.UpdateTokenBalance(ctx, m.ID, 1000)
	assert.True(t, domain.IsValidation(err))
}

func TestBalanceBelowMinimumDeactivatesAndRecovers(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	m, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0x1", TokenBalance: 200})
	require.NoError(t, err)

	m, err = r.UpdateTokenBalance(ctx, m.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberInactive, m.Status)
	assert.False(t, r.CanVote(m))

	m, err = r.UpdateTokenBalance(ctx, m.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberActive, m.Status)
	assert.True(t, r.CanVote(m))
}

func TestSuspensionSurvivesPowerUpdates(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	m, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0x2", TokenBalance: 200})
	require.NoError(t, err)

	_, err = r.SetStatus(ctx, m.ID, domain.MemberSuspended)
	require.NoError(t, err)
	m, err = r.UpdateTokenBalance(ctx, m.ID, 10_000)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberSuspended, m.Status)
	assert.Equal(t, int64(10_000), m.VotingPower)

	m, err = r.SetStatus(ctx, m.ID, domain.MemberActive)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberActive, m.Status)
}

func TestTotalVotingPowerCountsActiveOnly(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	a, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xa", TokenBalance: 300})
	require.NoError(t, err)
	_, err = r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xb", TokenBalance: 700})
	require.NoError(t, err)
	_, err = r.RegisterMember(ctx, Registration{House: domain.HouseOpenSource, Identity: "bob", ContributionScore: 50})
	require.NoError(t, err)

	total, err := r.GetTotalVotingPower(ctx, domain.HouseMossCoin)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)

	_, err = r.SetStatus(ctx, a.ID, domain.MemberSuspended)
	require.NoError(t, err)
	total, err = r.GetTotalVotingPower(ctx, domain.HouseMossCoin)
	require.NoError(t, err)
	assert.Equal(t, int64(700), total)
}

func TestSweepInactive(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()
	old, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xold", TokenBalance: 300})
	require.NoError(t, err)
	c.t = c.t.Add(80 * 24 * time.Hour)
	fresh, err := r.RegisterMember(ctx, Registration{House: domain.HouseMossCoin, Identity: "0xnew", TokenBalance: 300})
	require.NoError(t, err)
	c.t = c.t.Add(15 * 24 * time.Hour)

	changed, err := r.SweepInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, changed)

	got, err := r.GetMember(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberActive, got.Status)
}

func TestRemoveAndLookupMissing(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	m, err := r.RegisterMember(ctx, Registration{House: domain.HouseOpenSource, Identity: "carol", ContributionScore: 20})
	require.NoError(t, err)
	require.NoError(t, r.RemoveMember(ctx, m.ID))
	_, err = r.GetMember(ctx, m.ID)
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(r.RemoveMember(ctx, m.ID)))
}

func TestQuorumAndThresholdBoundaries(t *testing.T) {
	r, _ := newRegistry(t)
	assert.True(t, r.CheckQuorum(domain.HouseMossCoin, 200, 1000))
	assert.False(t, r.CheckQuorum(domain.HouseMossCoin, 199, 1000))
	assert.False(t, r.CheckQuorum(domain.HouseMossCoin, 0, 0))

	assert.True(t, r.CheckPassThreshold(domain.HouseOpenSource, 60, 40))
	assert.False(t, r.CheckPassThreshold(domain.HouseOpenSource, 59, 41))
	assert.False(t, r.CheckPassThreshold(domain.HouseOpenSource, 0, 0))
	assert.True(t, r.CheckPassThreshold(domain.HouseMossCoin, 180, 90))
}

func TestQuorumIsMonotonicInVotes(t *testing.T) {
	r, _ := newRegistry(t)
	rapid.Check(t, func(t *rapid.T) {
		possible := rapid.Int64Range(1, 1_000_000).Draw(t, "possible")
		votes := rapid.Int64Range(0, possible).Draw(t, "votes")
		more := rapid.Int64Range(votes, possible).Draw(t, "more")
		if r.CheckQuorum(domain.HouseMossCoin, votes, possible) && !r.CheckQuorum(domain.HouseMossCoin, more, possible) {
			t.Fatalf("quorum lost when votes grew from %d to %d of %d", votes, more, possible)
		}
	})
}
