package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
	"mossgov/internal/house"
	"mossgov/internal/memstore"
	"mossgov/internal/voting"
)

type recorded struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorded) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorded) count(name events.Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

type testEnv struct {
	ctx    context.Context
	cfg    *config.Config
	store  *memstore.Store
	reg    house.Registry
	eng    voting.Engine
	gate   *Gate
	events *recorded
	now    time.Time
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Houses.MossCoin.MinTokenBalance = 1
	cfg.Houses.OpenSource.MinContributionScore = 1
	cfg.Approval.Director3Signers = []string{"director-alice"}
	if mutate != nil {
		mutate(cfg)
	}
	env := &testEnv{
		ctx:    context.Background(),
		cfg:    cfg,
		store:  memstore.New(),
		events: &recorded{},
		now:    time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.reg = house.Registry{Store: env.store, Config: cfg, Events: env.events, Now: clock}
	env.eng = voting.Engine{Store: env.store, Members: env.reg, Config: cfg, Events: env.events, Now: clock}
	env.gate = New(env.store, env.eng, cfg.Approval, WithPublisher(env.events), WithClock(clock))
	return env
}

// decided runs a session to completion with one fresh voter per house.
func (env *testEnv) decided(t *testing.T, proposalID string, risk domain.RiskLevel, moc, oss domain.VoteChoice) domain.DualHouseVoting {
	t.Helper()
	tok, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseMossCoin, Identity: "0x" + proposalID, TokenBalance: 500})
	require.NoError(t, err)
	con, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseOpenSource, Identity: "gh-" + proposalID, ContributionScore: 200})
	require.NoError(t, err)
	v, err := env.eng.CreateVoting(env.ctx, voting.CreateRequest{ProposalID: proposalID, Title: "Treasury move", RiskLevel: risk, DurationHours: 48})
	require.NoError(t, err)
	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseMossCoin, tok.ID, moc)
	require.NoError(t, err)
	_, err = env.eng.CastVote(env.ctx, v.ID, domain.HouseOpenSource, con.ID, oss)
	require.NoError(t, err)
	v, err = env.eng.GetVoting(env.ctx, v.ID)
	require.NoError(t, err)
	if v.Status == domain.VotingOpen {
		v, err = env.eng.FinalizeVoting(env.ctx, v.ID)
		require.NoError(t, err)
	}
	return v
}

func transfer() domain.ExecutionPayload {
	return domain.ExecutionPayload{
		ActionType:   domain.ActionFundTransfer,
		FundTransfer: &domain.FundTransfer{Recipient: "0xgrantee", Amount: 25_000, Asset: "MOSS"},
	}
}

func (env *testEnv) approval(t *testing.T, proposalID string) domain.HighRiskApproval {
	t.Helper()
	v := env.decided(t, proposalID, domain.RiskHigh, domain.ChoiceFor, domain.ChoiceFor)
	require.Equal(t, domain.VotingBothPassed, v.Status)
	a, err := env.gate.CreateApprovalFromVoting(env.ctx, v, transfer())
	require.NoError(t, err)
	require.NotNil(t, a)
	return *a
}

func TestCreateApprovalBothHousesPassed(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-c")

	assert.True(t, a.MossCoinHouse)
	assert.True(t, a.OpenSourceHouse)
	assert.False(t, a.Director3)
	assert.Equal(t, domain.Locked, a.LockStatus)
	assert.Equal(t, []string{"Director 3 approval"}, env.gate.GetMissingApprovals(a))

	a, err := env.gate.RecordDirector3Approval(env.ctx, a.ID, "director-alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Unlocked, a.LockStatus)
	require.NotNil(t, a.UnlockedAt)
	assert.Equal(t, "director-alice", a.Director3SignerID)
	assert.Empty(t, env.gate.GetMissingApprovals(a))
	assert.Equal(t, 1, env.events.count(events.ApprovalCreated))
	assert.Equal(t, 1, env.events.count(events.Director3Approved))
	assert.Equal(t, 1, env.events.count(events.ApprovalUnlocked))
}

func TestCreateApprovalSkipsOtherOutcomes(t *testing.T) {
	env := newTestEnv(t, nil)

	split := env.decided(t, "prop-d", domain.RiskHigh, domain.ChoiceFor, domain.ChoiceAgainst)
	assert.Equal(t, domain.VotingMossCoinOnly, split.Status)
	assert.True(t, split.RequiresReconciliation)
	a, err := env.gate.CreateApprovalFromVoting(env.ctx, split, transfer())
	require.NoError(t, err)
	assert.Nil(t, a)

	mid := env.decided(t, "prop-mid", domain.RiskMid, domain.ChoiceFor, domain.ChoiceFor)
	a, err = env.gate.CreateApprovalFromVoting(env.ctx, mid, transfer())
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = env.gate.GetApprovalByProposal(env.ctx, "prop-d")
	assert.True(t, domain.IsNotFound(err))
}

func TestCreateApprovalDuplicateAndPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	v := env.decided(t, "prop-dup", domain.RiskHigh, domain.ChoiceFor, domain.ChoiceFor)

	_, err := env.gate.CreateApprovalFromVoting(env.ctx, v, domain.ExecutionPayload{ActionType: domain.ActionFundTransfer})
	assert.True(t, domain.IsValidation(err))

	_, err = env.gate.CreateApprovalFromVoting(env.ctx, v, transfer())
	require.NoError(t, err)
	_, err = env.gate.CreateApprovalFromVoting(env.ctx, v, transfer())
	assert.True(t, domain.IsConflict(err))
}

func TestDirector3NotRequiredUnlocksAtCreation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Approval.Director3Required = false })
	a := env.approval(t, "prop-auto")
	assert.Equal(t, domain.Unlocked, a.LockStatus)
	assert.Equal(t, 1, env.events.count(events.ApprovalUnlocked))
}

func TestUnauthorizedSigner(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-signer")

	_, err := env.gate.RecordDirector3Approval(env.ctx, a.ID, "mallory")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSigner)

	got, err := env.gate.GetApproval(env.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Locked, got.LockStatus)
	assert.False(t, got.Director3)
}

func TestUnlockIsMonotonic(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-mono")

	a, err := env.gate.RecordDirector3Approval(env.ctx, a.ID, "director-alice")
	require.NoError(t, err)
	unlockedAt := *a.UnlockedAt

	env.now = env.now.Add(time.Hour)
	_, err = env.gate.RecordDirector3Approval(env.ctx, a.ID, "director-alice")
	assert.True(t, domain.IsConflict(err))
	_, err = env.gate.RecordHouseApproval(env.ctx, a.ID, domain.HouseMossCoin)
	assert.True(t, domain.IsConflict(err))

	got, err := env.gate.GetApproval(env.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Unlocked, got.LockStatus)
	assert.True(t, unlockedAt.Equal(*got.UnlockedAt))
	assert.Equal(t, 1, env.events.count(events.ApprovalUnlocked))
}

func TestExecuteRequiresUnlockAndHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-exec")

	_, err := env.gate.Execute(env.ctx, a.ID)
	assert.True(t, domain.IsConflict(err), "no handler registered")

	env.gate.RegisterHandler(domain.ActionFundTransfer, DryRun(env.gate.log))
	_, err = env.gate.Execute(env.ctx, a.ID)
	assert.True(t, domain.IsConflict(err), "still locked")

	_, err = env.gate.Execute(env.ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestExecuteIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-once")
	_, err := env.gate.RecordDirector3Approval(env.ctx, a.ID, "director-alice")
	require.NoError(t, err)

	var calls atomic.Int32
	env.gate.RegisterHandler(domain.ActionFundTransfer, HandlerFunc(func(_ context.Context, a domain.HighRiskApproval) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"tx": "0xabc", "amount": a.Payload.FundTransfer.Amount}, nil
	}))

	const n = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.gate.Execute(env.ctx, a.ID)
			switch {
			case err == nil:
				successes.Add(1)
			case domain.IsConflict(err):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, n-1, conflicts.Load())

	got, err := env.gate.GetApproval(env.ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExecutedAt)
	assert.Equal(t, "0xabc", got.ExecutionResult["tx"])

	v, err := env.eng.GetVoting(env.ctx, a.VotingID)
	require.NoError(t, err)
	assert.Equal(t, domain.VotingExecuted, v.Status)

	_, err = env.gate.Execute(env.ctx, a.ID)
	assert.True(t, domain.IsConflict(err))
	assert.Equal(t, 1, env.events.count(events.ApprovalExecuted))
}

func TestExecuteHandlerFailureReleasesClaim(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Approval.Director3Required = false })
	a := env.approval(t, "prop-retry")

	fail := true
	env.gate.RegisterHandler(domain.ActionFundTransfer, HandlerFunc(func(context.Context, domain.HighRiskApproval) (map[string]any, error) {
		if fail {
			return nil, errors.New("rpc unavailable")
		}
		return map[string]any{"ok": true}, nil
	}))

	_, err := env.gate.Execute(env.ctx, a.ID)
	require.ErrorContains(t, err, "rpc unavailable")
	got, err := env.gate.GetApproval(env.ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExecutedAt)

	fail = false
	got, err = env.gate.Execute(env.ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ExecutedAt)
}

func TestReject(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.approval(t, "prop-reject")

	_, err := env.gate.Reject(env.ctx, a.ID, " ")
	assert.True(t, domain.IsValidation(err))

	a, err = env.gate.Reject(env.ctx, a.ID, "treasury audit failed")
	require.NoError(t, err)
	require.NotNil(t, a.RejectedAt)
	assert.Equal(t, "treasury audit failed", a.RejectionReason)

	v, err := env.eng.GetVoting(env.ctx, a.VotingID)
	require.NoError(t, err)
	assert.Equal(t, domain.VotingRejected, v.Status)

	_, err = env.gate.RecordDirector3Approval(env.ctx, a.ID, "director-alice")
	assert.True(t, domain.IsConflict(err))
	_, err = env.gate.Reject(env.ctx, a.ID, "again")
	assert.True(t, domain.IsConflict(err))

	st, err := env.gate.GetApprovalStatus(env.ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, st.Rejected)
	assert.False(t, st.Executed)
	assert.Equal(t, 1, env.events.count(events.ApprovalRejected))
}

func TestRejectAfterExecutionFails(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Approval.Director3Required = false })
	a := env.approval(t, "prop-late")
	env.gate.RegisterAll(DryRun(env.gate.log))

	_, err := env.gate.Execute(env.ctx, a.ID)
	require.NoError(t, err)
	_, err = env.gate.Reject(env.ctx, a.ID, "too late")
	assert.True(t, domain.IsConflict(err))
}

func TestListApprovalsByLockStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	locked := env.approval(t, "prop-l1")
	open := env.approval(t, "prop-l2")
	_, err := env.gate.RecordDirector3Approval(env.ctx, open.ID, "director-alice")
	require.NoError(t, err)

	list, err := env.gate.ListApprovals(env.ctx, domain.ApprovalFilter{LockStatus: domain.Locked})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, locked.ID, list[0].ID)
}

func TestSummary(t *testing.T) {
	s := Summary(domain.ExecutionPayload{
		ActionType:      domain.ActionProtocolUpgrade,
		ProtocolUpgrade: &domain.ProtocolUpgrade{Component: "bridge", FromVersion: "1.2", ToVersion: "1.3"},
	})
	assert.Equal(t, "bridge", s["component"])
	assert.Equal(t, "1.2 -> 1.3", s["version"])
}
