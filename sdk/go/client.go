// Package mossgovsdk is a small client for the mossgov governance HTTP API.
package mossgovsdk

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

// Client is a minimal mossgov HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps the audit log listing.
type PaginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// ApprovalStatus is the reporting view of an approval.
type ApprovalStatus struct {
	Approval  domain.HighRiskApproval `json:"approval"`
	CanUnlock bool                    `json:"can_unlock"`
	Missing   []string                `json:"missing_approvals"`
	Executed  bool                    `json:"executed"`
	Rejected  bool                    `json:"rejected"`
}

// VotingDetail is a session with its recorded votes.
type VotingDetail struct {
	domain.DualHouseVoting
	Votes []domain.Vote `json:"votes"`
}

// Members

func (c *Client) RegisterMember(ctx context.Context, house domain.House, identity string, tokenBalance, contributionScore int64, roles []string) (domain.HouseMember, error) {
	body := map[string]any{"house": house, "identity": identity}
	if tokenBalance != 0 {
		body["token_balance"] = tokenBalance
	}
	if contributionScore != 0 {
		body["contribution_score"] = contributionScore
	}
	if len(roles) > 0 {
		body["roles"] = roles
	}
	var resp domain.HouseMember
	err := c.do(ctx, http.MethodPost, "members", body, &resp)
	return resp, err
}

func (c *Client) GetMember(ctx context.Context, id string) (domain.HouseMember, error) {
	var resp domain.HouseMember
	err := c.do(ctx, http.MethodGet, "members/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListMembers filters by house and status when they are non-empty.
func (c *Client) ListMembers(ctx context.Context, house domain.House, status domain.MemberStatus) ([]domain.HouseMember, error) {
	q := url.Values{}
	if house != "" {
		q.Set("house", string(house))
	}
	if status != "" {
		q.Set("status", string(status))
	}
	var resp []domain.HouseMember
	err := c.do(ctx, http.MethodGet, withQuery("members", q), nil, &resp)
	return resp, err
}

func (c *Client) SetMemberStatus(ctx context.Context, id string, status domain.MemberStatus) (domain.HouseMember, error) {
	var resp domain.HouseMember
	err := c.do(ctx, http.MethodPut, "members/"+url.PathEscape(id)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) TotalVotingPower(ctx context.Context, house domain.House) (int64, error) {
	var resp struct {
		Power int64 `json:"power"`
	}
	err := c.do(ctx, http.MethodGet, "houses/"+url.PathEscape(string(house))+"/power", nil, &resp)
	return resp.Power, err
}

// Votings

func (c *Client) CreateVoting(ctx context.Context, proposalID, title string, risk domain.RiskLevel, category string, durationHours int) (domain.DualHouseVoting, error) {
	body := map[string]any{"proposal_id": proposalID, "title": title, "risk_level": risk}
	if category != "" {
		body["category"] = category
	}
	if durationHours > 0 {
		body["duration_hours"] = durationHours
	}
	var resp domain.DualHouseVoting
	err := c.do(ctx, http.MethodPost, "votings", body, &resp)
	return resp, err
}

func (c *Client) GetVoting(ctx context.Context, id string) (VotingDetail, error) {
	var resp VotingDetail
	err := c.do(ctx, http.MethodGet, "votings/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ActiveVotings(ctx context.Context) ([]domain.DualHouseVoting, error) {
	var resp []domain.DualHouseVoting
	err := c.do(ctx, http.MethodGet, "votings/active", nil, &resp)
	return resp, err
}

func (c *Client) CastVote(ctx context.Context, votingID string, house domain.House, memberID string, choice domain.VoteChoice) (domain.Vote, error) {
	body := map[string]any{"house": house, "member_id": memberID, "choice": choice}
	var resp domain.Vote
	err := c.do(ctx, http.MethodPost, "votings/"+url.PathEscape(votingID)+"/votes", body, &resp)
	return resp, err
}

func (c *Client) FinalizeVoting(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	var resp domain.DualHouseVoting
	err := c.do(ctx, http.MethodPost, "votings/"+url.PathEscape(id)+"/finalize", nil, &resp)
	return resp, err
}

func (c *Client) AttachReconciliationMemo(ctx context.Context, id, memoID string) (domain.DualHouseVoting, error) {
	var resp domain.DualHouseVoting
	err := c.do(ctx, http.MethodPut, "votings/"+url.PathEscape(id)+"/memo", map[string]any{"memo_id": memoID}, &resp)
	return resp, err
}

// Delegations

func (c *Client) CreateDelegation(ctx context.Context, delegatorID, delegateID string, scope domain.DelegationScope, scopeValue string) (domain.VoteDelegation, error) {
	body := map[string]any{"delegator_id": delegatorID, "delegate_id": delegateID, "scope": scope}
	if scopeValue != "" {
		body["scope_value"] = scopeValue
	}
	var resp domain.VoteDelegation
	err := c.do(ctx, http.MethodPost, "delegations", body, &resp)
	return resp, err
}

func (c *Client) RevokeDelegation(ctx context.Context, id string) (domain.VoteDelegation, error) {
	var resp domain.VoteDelegation
	err := c.do(ctx, http.MethodPost, "delegations/"+url.PathEscape(id)+"/revoke", nil, &resp)
	return resp, err
}

// Approvals

func (c *Client) CreateApproval(ctx context.Context, votingID string, payload domain.ExecutionPayload) (domain.HighRiskApproval, error) {
	body := map[string]any{"voting_id": votingID, "execution_payload": payload}
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodPost, "approvals", body, &resp)
	return resp, err
}

func (c *Client) GetApproval(ctx context.Context, id string) (domain.HighRiskApproval, error) {
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodGet, "approvals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error) {
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodGet, "proposals/"+url.PathEscape(proposalID)+"/approval", nil, &resp)
	return resp, err
}

func (c *Client) ApprovalStatus(ctx context.Context, id string) (ApprovalStatus, error) {
	var resp ApprovalStatus
	err := c.do(ctx, http.MethodGet, "approvals/"+url.PathEscape(id)+"/status", nil, &resp)
	return resp, err
}

func (c *Client) ListApprovals(ctx context.Context, lock domain.LockStatus, pending bool) ([]domain.HighRiskApproval, error) {
	q := url.Values{}
	if lock != "" {
		q.Set("lock_status", string(lock))
	}
	if pending {
		q.Set("pending", "true")
	}
	var resp []domain.HighRiskApproval
	err := c.do(ctx, http.MethodGet, withQuery("approvals", q), nil, &resp)
	return resp, err
}

func (c *Client) RecordHouseApproval(ctx context.Context, id string, house domain.House) (domain.HighRiskApproval, error) {
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodPost, "approvals/"+url.PathEscape(id)+"/house-approvals", map[string]any{"house": house}, &resp)
	return resp, err
}

// RecordDirector3Approval signs as signerID, or as the token subject when signerID is
// empty and the client carries a bearer token.
func (c *Client) RecordDirector3Approval(ctx context.Context, id, signerID string) (domain.HighRiskApproval, error) {
	body := map[string]any{}
	if signerID != "" {
		body["signer_id"] = signerID
	}
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodPost, "approvals/"+url.PathEscape(id)+"/director3", body, &resp)
	return resp, err
}

func (c *Client) ExecuteApproval(ctx context.Context, id string) (domain.HighRiskApproval, error) {
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodPost, "approvals/"+url.PathEscape(id)+"/execute", nil, &resp)
	return resp, err
}

func (c *Client) RejectApproval(ctx context.Context, id, reason string) (domain.HighRiskApproval, error) {
	var resp domain.HighRiskApproval
	err := c.do(ctx, http.MethodPost, "approvals/"+url.PathEscape(id)+"/reject", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Pipelines

// CreatePipeline accepts the same fields as the create-pipeline request body.
func (c *Client) CreatePipeline(ctx context.Context, req map[string]any) (domain.PipelineContext, error) {
	var resp domain.PipelineContext
	err := c.do(ctx, http.MethodPost, "pipelines", req, &resp)
	return resp, err
}

func (c *Client) GetPipeline(ctx context.Context, id string) (domain.PipelineContext, error) {
	var resp domain.PipelineContext
	err := c.do(ctx, http.MethodGet, "pipelines/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) RunPipeline(ctx context.Context, id string) (domain.PipelineContext, error) {
	var resp domain.PipelineContext
	err := c.do(ctx, http.MethodPost, "pipelines/"+url.PathEscape(id)+"/run", nil, &resp)
	return resp, err
}

func (c *Client) ResumePipeline(ctx context.Context, id string) (domain.PipelineContext, error) {
	var resp domain.PipelineContext
	err := c.do(ctx, http.MethodPost, "pipelines/"+url.PathEscape(id)+"/resume", nil, &resp)
	return resp, err
}

// Events

// EventsPage returns a page of the audit log after cursor.
func (c *Client) EventsPage(ctx context.Context, eventType string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
