package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"mossgov/internal/app"
	"mossgov/internal/domain"
)

type pipelinePath struct {
	ID string `path:"pipeline_id"`
}

func registerPipelines(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pipeline",
		Method:        http.MethodPost,
		Path:          "/pipelines",
		Summary:       "Create a pending pipeline context",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreatePipelineRequest
	}) (*output[domain.PipelineContext], error) {
		pc, err := a.Pipeline.CreateContext(ctx, input.Body.request())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(pc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/pipelines",
		Summary:     "List pipeline contexts",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,running,locked,completed,error"`
	}) (*output[[]domain.PipelineContext], error) {
		items, err := a.Pipeline.ListContexts(ctx, domain.PipelineStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-pipelines",
		Method:      http.MethodGet,
		Path:        "/pipelines/active",
		Summary:     "Number of pipelines executing in this process",
	}, func(ctx context.Context, _ *struct{}) (*output[ActivePipelinesResponse], error) {
		return reply(ActivePipelinesResponse{Active: a.Pipeline.GetActivePipelineCount()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/pipelines/{pipeline_id}",
		Summary:     "Get a pipeline context",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *pipelinePath) (*output[domain.PipelineContext], error) {
		pc, err := a.Pipeline.GetContext(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(pc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines/{pipeline_id}/run",
		Summary:     "Run a pending pipeline through its stages",
		Description: "A stage that fails after its retries leaves the context in status error; the context is returned.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *pipelinePath) (*output[domain.PipelineContext], error) {
		return pipelineResult(a.Pipeline.Run(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-pipeline",
		Method:      http.MethodPost,
		Path:        "/pipelines/{pipeline_id}/resume",
		Summary:     "Resume a locked or failed pipeline",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *pipelinePath) (*output[domain.PipelineContext], error) {
		return pipelineResult(a.Pipeline.Resume(ctx, input.ID))
	})
}

// pipelineResult reports stage failures through the returned context status.
func pipelineResult(pc domain.PipelineContext, err error) (*output[domain.PipelineContext], error) {
	var se *domain.StageExecutionError
	if err != nil && !(errors.As(err, &se) && pc.Status == domain.PipelineError) {
		return nil, handleError(err)
	}
	return reply(pc), nil
}
