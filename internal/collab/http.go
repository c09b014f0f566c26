package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mossgov/internal/domain"
)

// HTTPClient talks to remote workflow, executor and action services over JSON.
//
//	POST {base}/workflows            {issue, type}   -> {id}
//	POST {base}/workflows/{id}/run                   -> {documents}
//	POST {base}/tasks                {task}          -> {kind, model, content}
//	POST {base}/actions              {approval}      -> {result}
type HTTPClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{BaseURL: baseURL, Token: token, HTTPClient: &http.Client{Timeout: timeout}}
}

// StatusError is a non-2xx response. 4xx responses are not retryable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collaborator returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (c *HTTPClient) CreateWorkflow(ctx context.Context, issue domain.Issue, t domain.WorkflowType) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]any{"issue": issue, "type": t}
	if err := c.do(ctx, http.MethodPost, "workflows", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("workflow service returned no id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) RunWorkflow(ctx context.Context, id string) ([]domain.Document, error) {
	var resp struct {
		Documents []domain.Document `json:"documents"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("workflows/%s/run", url.PathEscape(id)), nil, &resp)
	return resp.Documents, err
}

func (c *HTTPClient) ExecuteTask(ctx context.Context, t domain.Task) (domain.TaskOutput, error) {
	var out domain.TaskOutput
	if err := c.do(ctx, http.MethodPost, "tasks", t, &out); err != nil {
		return domain.TaskOutput{}, err
	}
	if out.Kind == "" {
		out.Kind = t.Kind
	}
	return out, nil
}

// Execute forwards an unlocked approval to the action service. It satisfies
// approval.Handler.
func (c *HTTPClient) Execute(ctx context.Context, a domain.HighRiskApproval) (map[string]any, error) {
	var resp struct {
		Result map[string]any `json:"result"`
	}
	body := map[string]any{
		"approval_id": a.ID,
		"proposal_id": a.ProposalID,
		"payload":     a.Payload,
	}
	if err := c.do(ctx, http.MethodPost, "actions", body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
