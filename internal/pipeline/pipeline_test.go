package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mossgov/internal/approval"
	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
	"mossgov/internal/house"
	"mossgov/internal/memstore"
	"mossgov/internal/voting"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) ClassifyRisk(ctx context.Context, a domain.ActionDescriptor) (domain.RiskLevel, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(domain.RiskLevel), args.Error(1)
}

type MockWorkflows struct {
	mock.Mock
}

func (m *MockWorkflows) CreateWorkflow(ctx context.Context, issue domain.Issue, t domain.WorkflowType) (string, error) {
	args := m.Called(ctx, issue, t)
	return args.String(0), args.Error(1)
}

func (m *MockWorkflows) RunWorkflow(ctx context.Context, id string) ([]domain.Document, error) {
	args := m.Called(ctx, id)
	docs, _ := args.Get(0).([]domain.Document)
	return docs, args.Error(1)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteTask(ctx context.Context, t domain.Task) (domain.TaskOutput, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(domain.TaskOutput), args.Error(1)
}

// gateAuthority approves a locked action once the proposal's approval is unlocked.
type gateAuthority struct {
	gate *approval.Gate
	mu   sync.Mutex
	ids  map[string]string
}

func (a *gateAuthority) CreateLockedAction(_ context.Context, req LockedActionRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := "la-" + req.ProposalID
	a.ids[id] = req.ProposalID
	return id, nil
}

func (a *gateAuthority) CheckApproval(ctx context.Context, id string) (ApprovalCheck, error) {
	a.mu.Lock()
	proposal := a.ids[id]
	a.mu.Unlock()
	ap, err := a.gate.GetApprovalByProposal(ctx, proposal)
	if domain.IsNotFound(err) {
		return ApprovalCheck{}, nil
	}
	if err != nil {
		return ApprovalCheck{}, err
	}
	return ApprovalCheck{Approved: ap.LockStatus == domain.Unlocked}, nil
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
	ctx       context.Context
	cfg       *config.Config
	store     *memstore.Store
	reg       house.Registry
	eng       voting.Engine
	gate      *approval.Gate
	risk      *MockClassifier
	workflows *MockWorkflows
	executor  *MockExecutor
	events    *recorded
	delays    []time.Duration
	pipe      *Pipeline
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Houses.MossCoin.MinTokenBalance = 1
	cfg.Houses.OpenSource.MinContributionScore = 1
	cfg.Approval.Director3Signers = []string{"director-alice"}
	cfg.Pipeline.StageTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}
	env := &testEnv{
		ctx:       context.Background(),
		cfg:       cfg,
		store:     memstore.New(),
		risk:      &MockClassifier{},
		workflows: &MockWorkflows{},
		executor:  &MockExecutor{},
		events:    &recorded{},
	}
	env.reg = house.Registry{Store: env.store, Config: cfg}
	env.eng = voting.Engine{Store: env.store, Members: env.reg, Config: cfg}
	env.gate = approval.New(env.store, env.eng, cfg.Approval)
	env.gate.RegisterAll(approval.HandlerFunc(func(_ context.Context, a domain.HighRiskApproval) (map[string]any, error) {
		return approval.Summary(a.Payload), nil
	}))
	svc := Services{
		Risk:      env.risk,
		Authority: &gateAuthority{gate: env.gate, ids: map[string]string{}},
		Workflows: env.workflows,
		Executor:  env.executor,
		Votings:   env.eng,
		Approvals: env.gate,
	}
	env.pipe = New(env.store, svc, cfg.Pipeline,
		WithPublisher(env.events),
		WithSleep(func(_ context.Context, d time.Duration) error {
			env.delays = append(env.delays, d)
			return nil
		}),
	)
	return env
}

// happyCollaborators wires workflow and executor mocks that always succeed.
func (env *testEnv) happyCollaborators() {
	env.workflows.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).Return("wf-1", nil)
	env.workflows.On("RunWorkflow", mock.Anything, "wf-1").Return([]domain.Document{{Name: "report.md", Kind: "report", Content: "# Findings"}}, nil)
	env.executor.On("ExecuteTask", mock.Anything, mock.Anything).Return(domain.TaskOutput{Content: "analysis"}, nil)
}

func (env *testEnv) create(t *testing.T, req CreateRequest) domain.PipelineContext {
	t.Helper()
	pc, err := env.pipe.CreateContext(env.ctx, req)
	require.NoError(t, err)
	return pc
}

func transfer() *domain.ExecutionPayload {
	return &domain.ExecutionPayload{
		ActionType:   domain.ActionFundTransfer,
		FundTransfer: &domain.FundTransfer{Recipient: "0xgrantee", Amount: 50_000, Asset: "MOSS"},
	}
}

func TestRunLowRiskSkipsVoting(t *testing.T) {
	env := newTestEnv(t, nil)
	env.happyCollaborators()
	env.risk.On("ClassifyRisk", mock.Anything, mock.MatchedBy(func(a domain.ActionDescriptor) bool {
		return a.ProposalID == "prop-low"
	})).Return(domain.RiskLow, nil).Once()

	pc := env.create(t, CreateRequest{
		ProposalID: "prop-low",
		Title:      "Fix typo in docs",
		Signals:    []domain.Signal{{Kind: "Forum", Content: "  small fix  "}, {Content: " "}},
	})
	pc, err := env.pipe.Run(env.ctx, pc.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, pc.Status)
	assert.Equal(t, domain.Stages, pc.CompletedStages)
	assert.Equal(t, domain.RiskLow, pc.RiskLevel)
	assert.Empty(t, pc.VotingID)
	assert.Empty(t, pc.ApprovalID)
	require.Len(t, pc.Signals, 1)
	assert.Equal(t, "manual", pc.Signals[0].Source)
	assert.Equal(t, "small fix", pc.Signals[0].Content)
	assert.NotNil(t, pc.CompletedAt)
	require.NotNil(t, pc.Metadata.Outcome)
	assert.Len(t, pc.Metadata.Outcome.ContentHash, 64)
	assert.Len(t, pc.Metadata.SpecialistOutputs, 2, "proposal_review runs research and impact_analysis")

	names := env.events.names()
	assert.Equal(t, events.PipelineCompleted, names[len(names)-1])
	env.risk.AssertExpectations(t)
	env.workflows.AssertNumberOfCalls(t, "CreateWorkflow", 1)
}

func TestRunMidRiskOpensVoting(t *testing.T) {
	env := newTestEnv(t, nil)
	env.happyCollaborators()

	pc := env.create(t, CreateRequest{ProposalID: "prop-mid", Title: "Amend code of conduct", Category: "Policy", RiskLevel: domain.RiskMid})
	pc, err := env.pipe.Run(env.ctx, pc.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, pc.Status)
	require.NotEmpty(t, pc.VotingID)
	v, err := env.eng.GetVoting(env.ctx, pc.VotingID)
	require.NoError(t, err)
	assert.Equal(t, "policy", v.Category)
	assert.Equal(t, domain.VotingOpen, pc.Metadata.Outcome.VotingStatus)
	assert.Equal(t, "policy_update", pc.Metadata.Notes["workflow_type"])
	env.workflows.AssertCalled(t, "CreateWorkflow", mock.Anything, mock.Anything, domain.WorkflowPolicyUpdate)
	env.risk.AssertNotCalled(t, "ClassifyRisk", mock.Anything, mock.Anything)
}

func TestStageRetriesTransientFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.workflows.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("workflow service unavailable")).Twice()
	env.happyCollaborators()

	pc := env.create(t, CreateRequest{ProposalID: "prop-e", Title: "Community call budget", RiskLevel: domain.RiskLow})
	pc, err := env.pipe.Run(env.ctx, pc.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PipelineCompleted, pc.Status)
	assert.Empty(t, pc.Error)
	assert.Equal(t, "wf-1", pc.WorkflowID)
	env.workflows.AssertNumberOfCalls(t, "CreateWorkflow", 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, env.delays)
}

func TestStageRetriesExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.workflows.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("workflow service unavailable"))

	pc := env.create(t, CreateRequest{ProposalID: "prop-x", Title: "Flaky", RiskLevel: domain.RiskLow})
	pc, err := env.pipe.Run(env.ctx, pc.ID)
	require.Error(t, err)

	var serr *domain.StageExecutionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.StageWorkflowDispatch, serr.Stage)
	assert.Equal(t, 3, serr.Attempts)
	assert.Equal(t, domain.PipelineError, pc.Status)
	assert.Contains(t, pc.Error, "workflow service unavailable")
	assert.Equal(t, []domain.PipelineStage{domain.StageSignalIntake, domain.StageIssueDetection}, pc.CompletedStages)
	assert.Contains(t, env.events.names(), events.PipelineFailed)

	stored, err := env.pipe.GetContext(env.ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineError, stored.Status)
}

func TestNonRetryableErrorsSurfaceImmediately(t *testing.T) {
	env := newTestEnv(t, nil)
	pc := env.create(t, CreateRequest{ProposalID: "prop-v", RiskLevel: domain.RiskLow})
	_, err := env.pipe.Run(env.ctx, pc.ID)

	var serr *domain.StageExecutionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.StageSignalIntake, serr.Stage)
	assert.Equal(t, 1, serr.Attempts)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, env.delays)
}

func TestRetryAllErrorsRetriesValidation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Pipeline.RetryAllErrors = true })
	pc := env.create(t, CreateRequest{ProposalID: "prop-v", RiskLevel: domain.RiskLow})
	_, err := env.pipe.Run(env.ctx, pc.ID)

	var serr *domain.StageExecutionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, serr.Attempts)
	assert.Len(t, env.delays, 2)
}

func TestStageTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Pipeline.StageTimeout = 20 * time.Millisecond
		c.Pipeline.MaxRetriesPerStage = 2
	})
	env.workflows.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	pc := env.create(t, CreateRequest{ProposalID: "prop-slow", Title: "Slow", RiskLevel: domain.RiskLow})
	pc, err := env.pipe.Run(env.ctx, pc.ID)

	var terr *domain.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 20*time.Millisecond, terr.After)
	assert.Equal(t, domain.PipelineError, pc.Status)
	env.workflows.AssertNumberOfCalls(t, "CreateWorkflow", 2)
}

func TestHighRiskBlocksUntilApprovedThenResumes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.happyCollaborators()
	env.risk.On("ClassifyRisk", mock.Anything, mock.Anything).Return(domain.RiskHigh, nil).Once()

	tok, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseMossCoin, Identity: "0xwhale", TokenBalance: 1000})
	require.NoError(t, err)
	con, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseOpenSource, Identity: "octocat", ContributionScore: 400})
	require.NoError(t, err)

	pc := env.create(t, CreateRequest{ProposalID: "prop-f", Title: "Fund audit", Category: "treasury", Action: transfer()})
	pc, err = env.pipe.Run(env.ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineLocked, pc.Status)
	assert.True(t, pc.Metadata.ExecutionBlocked)
	assert.Equal(t, domain.StageExecution, pc.Stage)
	assert.NotEmpty(t, pc.LockedActionID)
	assert.Empty(t, pc.ApprovalID, "voting is still open")
	assert.NotContains(t, pc.CompletedStages, domain.StageExecution)
	assert.Contains(t, env.events.names(), events.PipelineBlocked)
	require.NotNil(t, pc.Metadata.Block)
	assert.Equal(t, domain.VotingOpen, pc.Metadata.Block.VotingStatus)
	assert.False(t, pc.Metadata.Block.Final)

	_, err = env.pipe.Run(env.ctx, pc.ID)
	assert.True(t, domain.IsConflict(err), "locked pipelines resume, not run")

	_, err = env.eng.CastVote(env.ctx, pc.VotingID, domain.HouseMossCoin, tok.ID, domain.ChoiceFor)
	require.NoError(t, err)
	_, err = env.eng.CastVote(env.ctx, pc.VotingID, domain.HouseOpenSource, con.ID, domain.ChoiceFor)
	require.NoError(t, err)

	pc, err = env.pipe.Resume(env.ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineLocked, pc.Status, "director 3 has not signed")
	require.NotEmpty(t, pc.ApprovalID)
	require.NotNil(t, pc.Metadata.Block)
	assert.Equal(t, "awaiting director 3", pc.Metadata.Block.Reason)

	_, err = env.gate.RecordDirector3Approval(env.ctx, pc.ApprovalID, "director-alice")
	require.NoError(t, err)

	pc, err = env.pipe.Resume(env.ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineCompleted, pc.Status)
	assert.False(t, pc.Metadata.ExecutionBlocked)
	assert.Nil(t, pc.Metadata.Block)
	assert.Equal(t, domain.Stages, pc.CompletedStages)
	require.NotNil(t, pc.Metadata.Outcome)
	assert.True(t, pc.Metadata.Outcome.Executed)
	assert.Equal(t, domain.VotingExecuted, pc.Metadata.Outcome.VotingStatus)

	env.workflows.AssertNumberOfCalls(t, "CreateWorkflow", 1)
	env.workflows.AssertNumberOfCalls(t, "RunWorkflow", 1)
	env.executor.AssertNumberOfCalls(t, "ExecuteTask", 3)

	_, err = env.pipe.Resume(env.ctx, pc.ID)
	assert.True(t, domain.IsConflict(err))
}

func TestHighRiskRejectedVotingBlocksForGood(t *testing.T) {
	env := newTestEnv(t, nil)
	env.happyCollaborators()

	tok, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseMossCoin, Identity: "0xwhale", TokenBalance: 1000})
	require.NoError(t, err)
	con, err := env.reg.RegisterMember(env.ctx, house.Registration{House: domain.HouseOpenSource, Identity: "octocat", ContributionScore: 400})
	require.NoError(t, err)

	pc := env.create(t, CreateRequest{ProposalID: "prop-r", Title: "Fund audit", RiskLevel: domain.RiskHigh, Action: transfer()})
	pc, err = env.pipe.Run(env.ctx, pc.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PipelineLocked, pc.Status)

	_, err = env.eng.CastVote(env.ctx, pc.VotingID, domain.HouseMossCoin, tok.ID, domain.ChoiceAgainst)
	require.NoError(t, err)
	_, err = env.eng.CastVote(env.ctx, pc.VotingID, domain.HouseOpenSource, con.ID, domain.ChoiceAgainst)
	require.NoError(t, err)
	v, err := env.eng.GetVoting(env.ctx, pc.VotingID)
	require.NoError(t, err)
	require.Equal(t, domain.VotingRejected, v.Status, "full participation finalizes early")

	pc, err = env.pipe.Resume(env.ctx, pc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PipelineLocked, pc.Status)
	assert.Empty(t, pc.ApprovalID)
	require.NotNil(t, pc.Metadata.Block)
	assert.True(t, pc.Metadata.Block.Final)
	assert.Equal(t, domain.VotingRejected, pc.Metadata.Block.VotingStatus)
	assert.Contains(t, pc.Metadata.Block.Reason, "never unlock")

	var last events.PipelineEvent
	for _, e := range env.events.events {
		if pe, ok := e.(events.PipelineEvent); ok && pe.Kind == events.PipelineBlocked {
			last = pe
		}
	}
	require.NotNil(t, last.Block)
	assert.True(t, last.Block.Final)
}

func TestHighRiskWithoutPayloadFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.happyCollaborators()
	pc := env.create(t, CreateRequest{ProposalID: "prop-np", Title: "Upgrade", RiskLevel: domain.RiskHigh})
	pc, err := env.pipe.Run(env.ctx, pc.ID)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.StageApprovalRouting, pc.Stage)
}

func TestActivePipelineCount(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	entered := make(chan struct{})
	env.workflows.On("CreateWorkflow", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return("wf-1", nil).Once()
	env.happyCollaborators()

	pc := env.create(t, CreateRequest{ProposalID: "prop-busy", Title: "Busy", RiskLevel: domain.RiskLow})
	done := make(chan error, 1)
	go func() {
		_, err := env.pipe.Run(env.ctx, pc.ID)
		done <- err
	}()

	<-entered
	assert.Equal(t, 1, env.pipe.GetActivePipelineCount())
	_, err := env.pipe.Run(env.ctx, pc.ID)
	assert.True(t, domain.IsConflict(err), "same context cannot run twice")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, env.pipe.GetActivePipelineCount())
}

func TestCreateContextValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.pipe.CreateContext(env.ctx, CreateRequest{Title: "x"})
	assert.True(t, domain.IsValidation(err))
	_, err = env.pipe.CreateContext(env.ctx, CreateRequest{ProposalID: "p", RiskLevel: "EXTREME"})
	assert.True(t, domain.IsValidation(err))
	_, err = env.pipe.GetContext(env.ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestContentHash(t *testing.T) {
	outs := []domain.TaskOutput{{Kind: domain.TaskResearch, Content: "a"}}
	docs := []domain.Document{{Name: "r", Kind: "report", Content: "b"}}
	h := ContentHash(outs, docs)
	assert.Len(t, h, 64)
	assert.Equal(t, h, ContentHash(outs, docs))
	assert.NotEqual(t, h, ContentHash(outs, []domain.Document{{Name: "r", Kind: "report", Content: "c"}}))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 80*time.Millisecond, backoff(10*time.Millisecond, 3))
}
