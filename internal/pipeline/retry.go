package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mossgov/internal/domain"
)

// errBlocked ends a run without failing it.
var errBlocked = errors.New("execution blocked pending approval")

type stageFunc func(ctx context.Context, pc *domain.PipelineContext) error

type attemptResult struct {
	pc  domain.PipelineContext
	err error
}

// backoff is the delay after failed attempt n, counted from 1: base * 2^n, so
// 2s then 4s with a 1s base.
func backoff(base time.Duration, n int) time.Duration {
	return base << n
}

// executeWithRetry runs fn against a copy of pc, at most MaxRetriesPerStage times,
// each attempt bounded by StageTimeout. On success the copy replaces pc.
// It returns the number of attempts made.
func (p *Pipeline) executeWithRetry(ctx context.Context, pc *domain.PipelineContext, stage domain.PipelineStage, fn stageFunc) (int, error) {
	cfg := p.cfg
	log := p.log.With().Str("pipeline_id", pc.ID).Str("stage", string(stage)).Logger()
	var last error
	for attempt := 0; attempt < cfg.MaxRetriesPerStage; attempt++ {
		if attempt > 0 {
			delay := backoff(cfg.BackoffBase, attempt)
			log.Debug().Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying stage")
			if err := p.sleep(ctx, delay); err != nil {
				return attempt, err
			}
		}

		actx, span := p.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
			attribute.String("pipeline.id", pc.ID),
			attribute.String("pipeline.stage", string(stage)),
			attribute.Int("pipeline.attempt", attempt+1),
		))
		next, err := p.attempt(actx, *pc, stage, fn)
		if err == nil || errors.Is(err, errBlocked) {
			span.End()
			*pc = next
			return attempt + 1, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		last = err
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max", cfg.MaxRetriesPerStage).Msg("stage attempt failed")
		if ctx.Err() != nil {
			return attempt + 1, ctx.Err()
		}
		if !cfg.RetryAllErrors && !domain.IsRetryable(err) {
			return attempt + 1, &domain.StageExecutionError{Stage: stage, Attempts: attempt + 1, Err: err}
		}
	}
	return cfg.MaxRetriesPerStage, &domain.StageExecutionError{Stage: stage, Attempts: cfg.MaxRetriesPerStage, Err: last}
}

// attempt races one stage invocation against the stage timeout. The stage works on its
// own copy so a late finisher cannot touch the caller's context.
func (p *Pipeline) attempt(ctx context.Context, pc domain.PipelineContext, stage domain.PipelineStage, fn stageFunc) (domain.PipelineContext, error) {
	work, err := cloneContext(pc)
	if err != nil {
		return pc, err
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("stage %s panicked: %v", stage, r)}
			}
		}()
		err := fn(tctx, &work)
		done <- attemptResult{pc: work, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return pc, &domain.TimeoutError{Op: "stage " + string(stage), After: p.cfg.StageTimeout}
		}
		return res.pc, res.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return pc, ctx.Err()
		}
		return pc, &domain.TimeoutError{Op: "stage " + string(stage), After: p.cfg.StageTimeout}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
