package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mossgov/internal/domain"
)

type workflow struct {
	issue domain.Issue
	kind  domain.WorkflowType
	docs  []domain.Document
}

// LocalWorkflows produces template documents in process. It is used when no
// workflow service is configured.
type LocalWorkflows struct {
	mu        sync.Mutex
	workflows map[string]*workflow
}

func NewLocalWorkflows() *LocalWorkflows {
	return &LocalWorkflows{workflows: map[string]*workflow{}}
}

func (w *LocalWorkflows) CreateWorkflow(_ context.Context, issue domain.Issue, t domain.WorkflowType) (string, error) {
	if issue.Title == "" {
		return "", domain.Validationf("issue.title", "required")
	}
	id := uuid.NewString()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workflows[id] = &workflow{issue: issue, kind: t}
	return id, nil
}

func (w *LocalWorkflows) RunWorkflow(_ context.Context, id string) ([]domain.Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wf, ok := w.workflows[id]
	if !ok {
		return nil, domain.NotFound("workflow", id)
	}
	if wf.docs == nil {
		wf.docs = []domain.Document{{
			Name:    fmt.Sprintf("%s-%s.md", wf.kind, wf.issue.ID),
			Kind:    string(wf.kind),
			Content: brief(wf.issue, wf.kind),
		}}
	}
	return append([]domain.Document(nil), wf.docs...), nil
}

func brief(issue domain.Issue, t domain.WorkflowType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", issue.Title)
	fmt.Fprintf(&b, "Workflow: %s\nCategory: %s\nSeverity: %s\n", t, issue.Category, issue.Severity)
	if issue.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", issue.Summary)
	}
	return b.String()
}

// LocalExecutor answers tasks without a model backend.
type LocalExecutor struct {
	// DefaultModel is reported for tasks with no routed model.
	DefaultModel string
}

func (e LocalExecutor) ExecuteTask(_ context.Context, t domain.Task) (domain.TaskOutput, error) {
	model := t.Model
	if model == "" {
		model = e.DefaultModel
	}
	if model == "" {
		model = "local"
	}
	first, _, _ := strings.Cut(strings.TrimSpace(t.Prompt), "\n")
	return domain.TaskOutput{
		Kind:    t.Kind,
		Model:   model,
		Content: fmt.Sprintf("[%s] %s", t.Kind, first),
	}, nil
}
