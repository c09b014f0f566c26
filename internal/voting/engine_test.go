package voting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
	"mossgov/internal/house"
	"mossgov/internal/memstore"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorded struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorded) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorded) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Name
	for _, e := range r.events {
		out = append(out, e.EventName())
	}
	return out
}

type testEnv struct {
	ctx    context.Context
	cfg    *config.Config
	clock  *clock
	events *recorded
	reg    house.Registry
	eng    Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Houses.MossCoin.MinTokenBalance = 1
	cfg.Houses.OpenSource.MinContributionScore = 1
	store := memstore.New()
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorded{}
	reg := house.Registry{Store: store, Config: cfg, Events: rec, Now: c.Now}
	return &testEnv{
		ctx:    context.Background(),
		cfg:    cfg,
		clock:  c,
		events: rec,
		reg:    reg,
		eng:    Engine{Store: store, Members: reg, Config: cfg, Events: rec, Now: c.Now},
	}
}

func (env *testEnv) token(t *testing.T, identity string, balance int64) domain.HouseMember {
	t.Helper()
	m, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseMossCoin, Identity: identity, TokenBalance: balance})
	require.NoError(t, err)
	return m
}

func (env *testEnv) contributor(t *testing.T, identity string, score int64) domain.HouseMember {
	t.Helper()
	m, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseOpenSource, Identity: identity, ContributionScore: score})
	require.NoError(t, err)
	return m
}

func (env *testEnv) voting(t *testing.T, proposalID string, risk domain.RiskLevel) domain.DualHouseVoting {
	t.Helper()
	v, err := env.eng.CreateVoting(env.ctx, CreateRequest{ProposalID: proposalID, Title: "Proposal " + proposalID, RiskLevel: risk, Category: "treasury", DurationHours: 48})
	require.NoError(t, err)
	return v
}

func (env *testEnv) vote(t *testing.T, votingID string, m domain.HouseMember, choice domain.VoteChoice) domain.Vote {
	t.Helper()
	v, err := env.eng.CastVote(env.ctx, votingID, m.House, m.ID, choice)
	require.NoError(t, err)
	return v
}

func TestCreateVotingValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]CreateRequest{
		"low risk":       {ProposalID: "p", Title: "t", RiskLevel: domain.RiskLow},
		"missing title":  {ProposalID: "p", RiskLevel: domain.RiskMid},
		"too short":      {ProposalID: "p", Title: "t", RiskLevel: domain.RiskMid, DurationHours: 1},
		"too long":       {ProposalID: "p", Title: "t", RiskLevel: domain.RiskMid, DurationHours: 10_000},
		"missing id":     {Title: "t", RiskLevel: domain.RiskHigh},
		"negative hours": {ProposalID: "p", Title: "t", RiskLevel: domain.RiskHigh, DurationHours: -5},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.eng.CreateVoting(env.ctx, req)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err), err.Error())
		})
	}
}

func TestCreateVotingSnapshotsHousePower(t *testing.T) {
	env := newTestEnv(t)
	env.token(t, "0xa", 400)
	env.token(t, "0xb", 600)
	env.contributor(t, "dev", 30)

	v := env.voting(t, "p1", domain.RiskMid)
	assert.Equal(t, domain.VotingOpen, v.Status)
	assert.Equal(t, int64(1000), v.MossCoin.TotalPossiblePower)
	assert.Equal(t, int64(30), v.OpenSource.TotalPossiblePower)
	assert.Equal(t, v.StartedAt.Add(48*time.Hour), v.EndsAt)
	assert.Equal(t, []events.Name{events.VotingCreated}, env.events.names())

	_, err := env.eng.CreateVoting(env.ctx, CreateRequest{ProposalID: "p1", Title: "again", RiskLevel: domain.RiskMid})
	assert.True(t, domain.IsConflict(err))

	// later registrations do not move the denominator
	env.token(t, "0xc", 5000)
	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.MossCoin.TotalPossiblePower)
}

func TestScenarioQuorumMetAndPassed(t *testing.T) {
	env := newTestEnv(t)
	a := env.token(t, "0xa", 180)
	b := env.token(t, "0xb", 70)
	env.token(t, "0xc", 750)
	v := env.voting(t, "p1", domain.RiskMid)

	env.vote(t, v.ID, a, domain.ChoiceFor)
	env.vote(t, v.ID, b, domain.ChoiceAgainst)

	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	tally := got.MossCoin
	assert.Equal(t, int64(250), tally.TotalVotes)
	assert.InDelta(t, 25.0, tally.ParticipationRate, 1e-9)
	assert.True(t, tally.QuorumReached)
	assert.True(t, tally.Passed)
	assert.Equal(t, 2, tally.VoterCount)
	assert.Contains(t, env.events.names(), events.QuorumReached)
}

func TestScenarioQuorumNotMet(t *testing.T) {
	env := newTestEnv(t)
	a := env.token(t, "0xa", 150)
	env.token(t, "0xb", 850)
	v := env.voting(t, "p1", domain.RiskMid)

	env.vote(t, v.ID, a, domain.ChoiceFor)

	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got.MossCoin.ParticipationRate, 1e-9)
	assert.False(t, got.MossCoin.QuorumReached)
	assert.False(t, got.MossCoin.Passed)
	assert.NotContains(t, env.events.names(), events.QuorumReached)
}

func TestCastVoteRejections(t *testing.T) {
	env := newTestEnv(t)
	a := env.token(t, "0xa", 100)
	env.token(t, "0xz", 900)
	dev := env.contributor(t, "dev", 10)
	v := env.voting(t, "p1", domain.RiskMid)

	_, err := env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, a.ID, "maybe")
	assert.True(t, domain.IsValidation(err))

	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseOpenSource, a.ID, domain.ChoiceFor)
	assert.True(t, domain.IsValidation(err))

	_, err = env.eng.CastVote(env.ctx, "missing", domain.HouseMossCoin, a.ID, domain.ChoiceFor)
	assert.True(t, domain.IsNotFound(err))

	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, "ghost", domain.ChoiceFor)
	assert.True(t, domain.IsNotFound(err))

	_, err = env.reg.SetStatus(env.ctx, dev.ID, domain.MemberSuspended)
	require.NoError(t, err)
	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseOpenSource, dev.ID, domain.ChoiceFor)
	assert.True(t, domain.IsConflict(err))

	env.vote(t, v.ID, a, domain.ChoiceAbstain)
	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, a.ID, domain.ChoiceFor)
	assert.True(t, domain.IsConflict(err))

	env.clock.Advance(49 * time.Hour)
	b := env.token(t, "0xb", 100)
	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, b.ID, domain.ChoiceFor)
	assert.True(t, domain.IsConflict(err))
}

func TestConcurrentVotesSameMemberOnlyOneSucceeds(t *testing.T) {
	env := newTestEnv(t)
	a := env.token(t, "0xa", 100)
	env.token(t, "0xb", 10_000)
	v := env.voting(t, "p1", domain.RiskMid)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, a.ID, domain.ChoiceFor)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if domain.IsConflict(err) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	votes, err := env.eng.ListVotes(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

func TestConcurrentVotesConverge(t *testing.T) {
	env := newTestEnv(t)
	var members []domain.HouseMember
	for i := 0; i < 20; i++ {
		members = append(members, env.token(t, "0x"+string(rune('a'+i)), int64(10+i)))
	}
	env.token(t, "0xwhale", 100_000)
	v := env.voting(t, "p1", domain.RiskMid)

	var wg sync.WaitGroup
	var want int64
	for _, m := range members {
		want += m.VotingPower
		wg.Add(1)
		go func(m domain.HouseMember) {
			defer wg.Done()
			_, err := env.eng.CastVote(env.ctx, v.ID, m.House, m.ID, domain.ChoiceFor)
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()
	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got.MossCoin.VotesFor)
	assert.Equal(t, len(members), got.MossCoin.VoterCount)
}

func TestFinalizeOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		mocChoice domain.VoteChoice
		ossChoice domain.VoteChoice
		want      domain.VotingStatus
		reconcile bool
	}{
		{"both pass", domain.ChoiceFor, domain.ChoiceFor, domain.VotingBothPassed, false},
		{"mosscoin only", domain.ChoiceFor, domain.ChoiceAgainst, domain.VotingMossCoinOnly, true},
		{"opensource only", domain.ChoiceAgainst, domain.ChoiceFor, domain.VotingOpenSourceOnly, true},
		{"neither", domain.ChoiceAgainst, domain.ChoiceAgainst, domain.VotingRejected, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			holder := env.token(t, "0xa", 300)
			env.token(t, "0xb", 700)
			dev := env.contributor(t, "dev", 30)
			env.contributor(t, "dev2", 70)
			v := env.voting(t, "p1", domain.RiskHigh)
			env.vote(t, v.ID, holder, tc.mocChoice)
			env.vote(t, v.ID, dev, tc.ossChoice)

			got, err := env.eng.FinalizeVoting(env.ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			assert.Equal(t, tc.reconcile, got.RequiresReconciliation)
			require.NotNil(t, got.FinalizedAt)

			_, err = env.eng.FinalizeVoting(env.ctx, v.ID)
			assert.True(t, domain.IsConflict(err))
		})
	}
}

func TestEarlyFinalization(t *testing.T) {
	env := newTestEnv(t)
	holder := env.token(t, "0xa", 700)
	env.token(t, "0xb", 300)
	dev := env.contributor(t, "dev", 80)
	env.contributor(t, "dev2", 20)
	v := env.voting(t, "p1", domain.RiskMid)

	env.vote(t, v.ID, holder, domain.ChoiceFor)
	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VotingOpen, got.Status)

	env.vote(t, v.ID, dev, domain.ChoiceFor)
	got, err = env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VotingBothPassed, got.Status)
	assert.Contains(t, env.events.names(), events.VotingFinalized)
}

func TestFinalizeExpiredVotings(t *testing.T) {
	env := newTestEnv(t)
	holder := env.token(t, "0xa", 100)
	env.token(t, "0xb", 100)
	short, err := env.eng.CreateVoting(env.ctx, CreateRequest{ProposalID: "short", Title: "s", RiskLevel: domain.RiskMid, DurationHours: 24})
	require.NoError(t, err)
	long, err := env.eng.CreateVoting(env.ctx, CreateRequest{ProposalID: "long", Title: "l", RiskLevel: domain.RiskMid, DurationHours: 72})
	require.NoError(t, err)
	env.vote(t, short.ID, holder, domain.ChoiceFor)

	env.clock.Advance(25 * time.Hour)
	ids, err := env.eng.FinalizeExpiredVotings(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{short.ID}, ids)

	active, err := env.eng.GetActiveVotings(env.ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.ID, active[0].ID)
}

func TestReconciliationFlow(t *testing.T) {
	env := newTestEnv(t)
	holder := env.token(t, "0xa", 100)
	dev := env.contributor(t, "dev", 100)
	v := env.voting(t, "p1", domain.RiskHigh)
	env.vote(t, v.ID, holder, domain.ChoiceFor)
	env.vote(t, v.ID, dev, domain.ChoiceAgainst)

	got, err := env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VotingMossCoinOnly, got.Status, "early finalization closes a fully participated session")

	pending, err := env.eng.GetVotingsRequiringReconciliation(env.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = env.eng.MarkExecuted(env.ctx, v.ID)
	assert.True(t, domain.IsConflict(err))

	got, err = env.eng.AttachReconciliationMemo(env.ctx, v.ID, "memo-7")
	require.NoError(t, err)
	assert.Equal(t, domain.VotingReconciliation, got.Status)
	assert.Equal(t, "memo-7", got.ReconciliationMemoID)

	pending, err = env.eng.GetVotingsRequiringReconciliation(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
