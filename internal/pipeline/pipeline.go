// Package pipeline carries a proposal through the nine governance stages, from signal
// intake to outcome verification.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
)

type Pipeline struct {
	store  Store
	svc    Services
	cfg    config.PipelineConfig
	pub    events.Publisher
	log    zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	active  atomic.Int64
	mu      sync.Mutex
	running map[string]struct{}
}

type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.log = l } }

func WithPublisher(pub events.Publisher) Option { return func(p *Pipeline) { p.pub = pub } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithTracer(t trace.Tracer) Option { return func(p *Pipeline) { p.tracer = t } }

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func New(store Store, svc Services, cfg config.PipelineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		svc:     svc,
		cfg:     cfg,
		pub:     events.Nop{},
		log:     zerolog.Nop(),
		tracer:  otel.Tracer("mossgov/pipeline"),
		now:     time.Now,
		sleep:   sleepCtx,
		running: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.cfg.MaxRetriesPerStage < 1 {
		p.cfg.MaxRetriesPerStage = 1
	}
	return p
}

func (p *Pipeline) clock() time.Time { return p.now().UTC() }

// CreateRequest describes a proposal entering the pipeline. RiskLevel is optional and
// skips classification when set.
type CreateRequest struct {
	ProposalID  string                   `json:"proposal_id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description,omitempty"`
	Category    string                   `json:"category,omitempty"`
	Signals     []domain.Signal          `json:"signals,omitempty"`
	Action      *domain.ExecutionPayload `json:"action,omitempty"`
	RiskLevel   domain.RiskLevel         `json:"risk_level,omitempty"`
}

func (p *Pipeline) CreateContext(ctx context.Context, req CreateRequest) (domain.PipelineContext, error) {
	if strings.TrimSpace(req.ProposalID) == "" {
		return domain.PipelineContext{}, domain.Validationf("proposal_id", "required")
	}
	if req.RiskLevel != "" && !req.RiskLevel.Valid() {
		return domain.PipelineContext{}, domain.Validationf("risk_level", "unknown risk level %q", req.RiskLevel)
	}
	now := p.clock()
	pc := domain.PipelineContext{
		ID:              uuid.NewString(),
		ProposalID:      strings.TrimSpace(req.ProposalID),
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Category:        strings.ToLower(strings.TrimSpace(req.Category)),
		Signals:         req.Signals,
		Action:          req.Action,
		Stage:           domain.StageSignalIntake,
		CompletedStages: []domain.PipelineStage{},
		Status:          domain.PipelinePending,
		RiskLevel:       req.RiskLevel,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.store.InsertPipelineContext(ctx, pc); err != nil {
		return domain.PipelineContext{}, domain.Wrap(err, "pipeline", pc.ID)
	}
	p.log.Info().Str("pipeline_id", pc.ID).Str("proposal_id", pc.ProposalID).Msg("pipeline context created")
	return pc, nil
}

func (p *Pipeline) GetContext(ctx context.Context, id string) (domain.PipelineContext, error) {
	pc, err := p.store.GetPipelineContext(ctx, id)
	return pc, domain.Wrap(err, "pipeline", id)
}

// ListContexts lists contexts, filtered by status when one is given.
func (p *Pipeline) ListContexts(ctx context.Context, status domain.PipelineStatus) ([]domain.PipelineContext, error) {
	return p.store.ListPipelineContexts(ctx, status)
}

// GetActivePipelineCount is the number of runs currently executing in this process.
func (p *Pipeline) GetActivePipelineCount() int {
	return int(p.active.Load())
}

// Run executes a pending context through all stages.
func (p *Pipeline) Run(ctx context.Context, id string) (domain.PipelineContext, error) {
	return p.start(ctx, id, func(pc domain.PipelineContext) error {
		if pc.Status != domain.PipelinePending {
			return domain.Conflictf("pipeline", id, "cannot run a %s pipeline; use resume", pc.Status)
		}
		return nil
	})
}

// Resume re-runs a locked or failed context from the first stage. Completed stages
// skip work they already recorded.
func (p *Pipeline) Resume(ctx context.Context, id string) (domain.PipelineContext, error) {
	return p.start(ctx, id, func(pc domain.PipelineContext) error {
		if pc.Status != domain.PipelineLocked && pc.Status != domain.PipelineError {
			return domain.Conflictf("pipeline", id, "only locked or failed pipelines can be resumed, status is %s", pc.Status)
		}
		return nil
	})
}

func (p *Pipeline) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[id]; ok {
		return false
	}
	p.running[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

func (p *Pipeline) start(ctx context.Context, id string, check func(domain.PipelineContext) error) (domain.PipelineContext, error) {
	if !p.claim(id) {
		return domain.PipelineContext{}, domain.Conflictf("pipeline", id, "already running")
	}
	defer p.release(id)

	pc, err := p.GetContext(ctx, id)
	if err != nil {
		return domain.PipelineContext{}, err
	}
	if err := check(pc); err != nil {
		return pc, err
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	return p.run(ctx, pc)
}

func (p *Pipeline) run(ctx context.Context, pc domain.PipelineContext) (domain.PipelineContext, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.id", pc.ID),
		attribute.String("proposal.id", pc.ProposalID),
	))
	defer span.End()
	log := p.log.With().Str("pipeline_id", pc.ID).Str("proposal_id", pc.ProposalID).Logger()

	pc.Status = domain.PipelineRunning
	pc.Error = ""
	pc.Metadata.ExecutionBlocked = false
	pc.Metadata.Block = nil
	pc.CompletedAt = nil
	if err := p.save(ctx, &pc); err != nil {
		return pc, err
	}
	log.Info().Int("completed", len(pc.CompletedStages)).Msg("pipeline run started")

	for _, stage := range domain.Stages {
		pc.Stage = stage
		started := p.now()
		attempts, err := p.executeWithRetry(ctx, &pc, stage, p.stage(stage))
		switch {
		case errors.Is(err, errBlocked):
			pc.Status = domain.PipelineLocked
			if err := p.save(ctx, &pc); err != nil {
				return pc, err
			}
			span.SetAttributes(attribute.String("pipeline.status", string(pc.Status)))
			ev := log.Info().Str("stage", string(stage)).Str("locked_action_id", pc.LockedActionID)
			if b := pc.Metadata.Block; b != nil {
				ev = ev.Str("reason", b.Reason).Bool("final", b.Final)
			}
			ev.Msg("pipeline blocked")
			p.pub.Publish(ctx, events.NewPipelineEvent(p.clock(), events.PipelineBlocked, pc))
			return pc, nil
		case err != nil:
			pc.Status = domain.PipelineError
			pc.Error = err.Error()
			if serr := p.save(ctx, &pc); serr != nil {
				log.Error().Err(serr).Msg("persist failed pipeline")
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("stage", string(stage)).Int("attempts", attempts).Msg("pipeline failed")
			evt := events.NewPipelineEvent(p.clock(), events.PipelineFailed, pc)
			evt.Attempts = attempts
			p.pub.Publish(ctx, evt)
			return pc, err
		}

		if !pc.Completed(stage) {
			pc.CompletedStages = append(pc.CompletedStages, stage)
		}
		if err := p.save(ctx, &pc); err != nil {
			return pc, err
		}
		evt := events.NewPipelineEvent(p.clock(), events.StageCompleted, pc)
		evt.Attempts = attempts
		evt.Duration = p.now().Sub(started)
		p.pub.Publish(ctx, evt)
	}

	now := p.clock()
	pc.Status = domain.PipelineCompleted
	pc.CompletedAt = &now
	if err := p.save(ctx, &pc); err != nil {
		return pc, err
	}
	span.SetAttributes(attribute.String("pipeline.status", string(pc.Status)))
	log.Info().Str("risk", string(pc.RiskLevel)).Msg("pipeline completed")
	p.pub.Publish(ctx, events.NewPipelineEvent(now, events.PipelineCompleted, pc))
	return pc, nil
}

// save persists pc on a context detached from cancellation so a cancelled run still
// records where it stopped.
func (p *Pipeline) save(ctx context.Context, pc *domain.PipelineContext) error {
	pc.UpdatedAt = p.clock()
	if err := p.store.SavePipelineContext(context.WithoutCancel(ctx), *pc); err != nil {
		return domain.Wrap(err, "pipeline", pc.ID)
	}
	return nil
}

func cloneContext(pc domain.PipelineContext) (domain.PipelineContext, error) {
	data, err := json.Marshal(pc)
	if err != nil {
		return pc, err
	}
	var out domain.PipelineContext
	if err := json.Unmarshal(data, &out); err != nil {
		return pc, err
	}
	return out, nil
}
