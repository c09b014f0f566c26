// Package approval locks HIGH risk actions behind house and director-3 sign-off
// and dispatches them to per-action handlers once unlocked.
package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mossgov/internal/config"
	"mossgov/internal/domain"
	"mossgov/internal/events"
)

// Store persists approval records. UpdateApproval must apply fn atomically.
type Store interface {
	InsertApproval(ctx context.Context, a domain.HighRiskApproval) error
	GetApproval(ctx context.Context, id string) (domain.HighRiskApproval, error)
	GetApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error)
	ListApprovals(ctx context.Context, f domain.ApprovalFilter) ([]domain.HighRiskApproval, error)
	UpdateApproval(ctx context.Context, id string, fn func(*domain.HighRiskApproval) error) (domain.HighRiskApproval, error)
}

// Votings is the slice of the voting engine the gate drives.
type Votings interface {
	MarkExecuted(ctx context.Context, id string) (domain.DualHouseVoting, error)
	MarkRejected(ctx context.Context, id string) (domain.DualHouseVoting, error)
}

// Handler performs the side effect of an unlocked action and returns a result summary.
type Handler interface {
	Execute(ctx context.Context, a domain.HighRiskApproval) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, a domain.HighRiskApproval) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, a domain.HighRiskApproval) (map[string]any, error) {
	return f(ctx, a)
}

// Status is the reporting view of one approval.
type Status struct {
	Approval  domain.HighRiskApproval `json:"approval"`
	CanUnlock bool                    `json:"can_unlock"`
	Missing   []string                `json:"missing_approvals"`
	Executed  bool                    `json:"executed"`
	Rejected  bool                    `json:"rejected"`
}

type Gate struct {
	store   Store
	votings Votings
	cfg     config.ApprovalConfig
	pub     events.Publisher
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[domain.ActionType]Handler
}

type Option func(*Gate)

func WithLogger(l zerolog.Logger) Option { return func(g *Gate) { g.log = l } }

func WithPublisher(p events.Publisher) Option { return func(g *Gate) { g.pub = p } }

func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// New builds a gate. votings may be nil when no voting engine is attached.
func New(store Store, votings Votings, cfg config.ApprovalConfig, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		votings:  votings,
		cfg:      cfg,
		pub:      events.Nop{},
		log:      zerolog.Nop(),
		now:      time.Now,
		handlers: make(map[domain.ActionType]Handler),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RegisterHandler installs h for action type t, replacing any previous handler.
func (g *Gate) RegisterHandler(t domain.ActionType, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[t] = h
}

func (g *Gate) handler(t domain.ActionType) (Handler, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handlers[t]
	return h, ok
}

func (g *Gate) clock() time.Time { return g.now().UTC() }

// CreateApprovalFromVoting opens the approval for a HIGH risk session both houses
// passed. Any other session yields (nil, nil).
func (g *Gate) CreateApprovalFromVoting(ctx context.Context, v domain.DualHouseVoting, payload domain.ExecutionPayload) (*domain.HighRiskApproval, error) {
	if v.RiskLevel != domain.RiskHigh || v.Status != domain.VotingBothPassed {
		return nil, nil
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	now := g.clock()
	a := domain.HighRiskApproval{
		ID:              uuid.NewString(),
		ProposalID:      v.ProposalID,
		VotingID:        v.ID,
		ActionType:      payload.ActionType,
		Payload:         payload,
		MossCoinHouse:   true,
		OpenSourceHouse: true,
		LockStatus:      domain.Locked,
		CreatedAt:       now,
		Version:         1,
	}
	if g.canUnlock(a) {
		a.LockStatus = domain.Unlocked
		a.UnlockedAt = &now
	}
	if err := g.store.InsertApproval(ctx, a); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.Conflictf("approval", v.ProposalID, "proposal already has a high-risk approval")
		}
		return nil, err
	}
	g.log.Info().Str("approval_id", a.ID).Str("voting_id", v.ID).Str("action", string(a.ActionType)).Str("lock", string(a.LockStatus)).Msg("approval created")
	g.pub.Publish(ctx, events.NewApprovalEvent(now, events.ApprovalCreated, a))
	if a.LockStatus == domain.Unlocked {
		g.pub.Publish(ctx, events.NewApprovalEvent(now, events.ApprovalUnlocked, a))
	}
	return &a, nil
}

func (g *Gate) GetApproval(ctx context.Context, id string) (domain.HighRiskApproval, error) {
	a, err := g.store.GetApproval(ctx, id)
	return a, domain.Wrap(err, "approval", id)
}

func (g *Gate) GetApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error) {
	a, err := g.store.GetApprovalByProposal(ctx, proposalID)
	return a, domain.Wrap(err, "approval for proposal", proposalID)
}

func (g *Gate) ListApprovals(ctx context.Context, f domain.ApprovalFilter) ([]domain.HighRiskApproval, error) {
	return g.store.ListApprovals(ctx, f)
}

func ensureOpen(a domain.HighRiskApproval) error {
	switch {
	case a.RejectedAt != nil:
		return domain.Conflictf("approval", a.ID, "approval was rejected")
	case a.LockStatus == domain.Unlocked:
		return domain.Conflictf("approval", a.ID, "approval is already unlocked")
	}
	return nil
}

// RecordHouseApproval sets the approval flag of house and unlocks when the gate is satisfied.
func (g *Gate) RecordHouseApproval(ctx context.Context, id string, house domain.House) (domain.HighRiskApproval, error) {
	if !house.Valid() {
		return domain.HighRiskApproval{}, domain.Validationf("house", "unknown house %q", house)
	}
	now := g.clock()
	var unlocked bool
	a, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
		if err := ensureOpen(*a); err != nil {
			return err
		}
		if house == domain.HouseOpenSource {
			a.OpenSourceHouse = true
		} else {
			a.MossCoinHouse = true
		}
		unlocked = g.unlock(a, now)
		return nil
	})
	if err != nil {
		return domain.HighRiskApproval{}, domain.Wrap(err, "approval", id)
	}
	g.log.Info().Str("approval_id", id).Str("house", string(house)).Msg("house approval recorded")
	evt := events.NewApprovalEvent(now, events.HouseApproved, a)
	evt.House = house
	g.pub.Publish(ctx, evt)
	if unlocked {
		g.announceUnlock(ctx, now, a)
	}
	return a, nil
}

// RecordDirector3Approval records the supervisory sign-off. With a configured allow-list
// only listed signers are accepted.
func (g *Gate) RecordDirector3Approval(ctx context.Context, id, signerID string) (domain.HighRiskApproval, error) {
	signerID = strings.TrimSpace(signerID)
	if signerID == "" {
		return domain.HighRiskApproval{}, domain.Validationf("signer_id", "required")
	}
	if len(g.cfg.Director3Signers) > 0 && !slices.Contains(g.cfg.Director3Signers, signerID) {
		return domain.HighRiskApproval{}, &domain.ValidationError{
			Field:   "signer_id",
			Message: fmt.Sprintf("%s is not an authorized director-3 signer", signerID),
			Err:     domain.ErrUnauthorizedSigner,
		}
	}
	now := g.clock()
	var unlocked bool
	a, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
		if err := ensureOpen(*a); err != nil {
			return err
		}
		a.Director3 = true
		a.Director3SignerID = signerID
		a.Director3ApprovedAt = &now
		unlocked = g.unlock(a, now)
		return nil
	})
	if err != nil {
		return domain.HighRiskApproval{}, domain.Wrap(err, "approval", id)
	}
	g.log.Info().Str("approval_id", id).Str("signer_id", signerID).Msg("director-3 approval recorded")
	evt := events.NewApprovalEvent(now, events.Director3Approved, a)
	evt.SignerID = signerID
	g.pub.Publish(ctx, evt)
	if unlocked {
		g.announceUnlock(ctx, now, a)
	}
	return a, nil
}

// unlock flips a LOCKED approval whose conditions hold. It never relocks.
func (g *Gate) unlock(a *domain.HighRiskApproval, now time.Time) bool {
	if a.LockStatus != domain.Locked || !g.canUnlock(*a) {
		return false
	}
	a.LockStatus = domain.Unlocked
	a.UnlockedAt = &now
	return true
}

func (g *Gate) announceUnlock(ctx context.Context, now time.Time, a domain.HighRiskApproval) {
	g.log.Info().Str("approval_id", a.ID).Str("proposal_id", a.ProposalID).Msg("approval unlocked")
	g.pub.Publish(ctx, events.NewApprovalEvent(now, events.ApprovalUnlocked, a))
}

func (g *Gate) canUnlock(a domain.HighRiskApproval) bool {
	if !a.MossCoinHouse || !a.OpenSourceHouse {
		return false
	}
	return a.Director3 || !g.cfg.Director3Required
}

// CanUnlock reports whether the approval's conditions are met.
func (g *Gate) CanUnlock(a domain.HighRiskApproval) bool { return g.canUnlock(a) }

// GetMissingApprovals lists the approvals still outstanding for a.
func (g *Gate) GetMissingApprovals(a domain.HighRiskApproval) []string {
	var missing []string
	if !a.MossCoinHouse {
		missing = append(missing, "MossCoin House approval")
	}
	if !a.OpenSourceHouse {
		missing = append(missing, "OpenSource House approval")
	}
	if g.cfg.Director3Required && !a.Director3 {
		missing = append(missing, "Director 3 approval")
	}
	return missing
}

func (g *Gate) GetApprovalStatus(ctx context.Context, id string) (Status, error) {
	a, err := g.GetApproval(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Approval:  a,
		CanUnlock: g.canUnlock(a),
		Missing:   g.GetMissingApprovals(a),
		Executed:  a.ExecutedAt != nil,
		Rejected:  a.RejectedAt != nil,
	}, nil
}

// Execute runs the registered handler for an unlocked approval exactly once. The
// executedAt claim is written before the handler runs and released if it fails.
func (g *Gate) Execute(ctx context.Context, id string) (domain.HighRiskApproval, error) {
	cur, err := g.GetApproval(ctx, id)
	if err != nil {
		return domain.HighRiskApproval{}, err
	}
	h, ok := g.handler(cur.ActionType)
	if !ok {
		return domain.HighRiskApproval{}, domain.Conflictf("approval", id, "no execution handler registered for %s", cur.ActionType)
	}

	now := g.clock()
	claimed, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
		switch {
		case a.RejectedAt != nil:
			return domain.Conflictf("approval", id, "approval was rejected")
		case a.LockStatus != domain.Unlocked:
			return domain.Conflictf("approval", id, "approval is locked; missing %s", strings.Join(g.GetMissingApprovals(*a), ", "))
		case a.ExecutedAt != nil:
			return domain.Conflictf("approval", id, "already executed at %s", a.ExecutedAt.Format(time.RFC3339))
		}
		a.ExecutedAt = &now
		return nil
	})
	if err != nil {
		return domain.HighRiskApproval{}, domain.Wrap(err, "approval", id)
	}

	log := g.log.With().Str("approval_id", id).Str("action", string(claimed.ActionType)).Logger()
	result, herr := h.Execute(ctx, claimed)
	if herr != nil {
		log.Error().Err(herr).Msg("execution handler failed")
		if _, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
			a.ExecutedAt = nil
			return nil
		}); err != nil {
			log.Error().Err(err).Msg("release execution claim")
		}
		return domain.HighRiskApproval{}, fmt.Errorf("execute %s: %w", claimed.ActionType, herr)
	}

	a, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
		a.ExecutionResult = result
		return nil
	})
	if err != nil {
		return domain.HighRiskApproval{}, domain.Wrap(err, "approval", id)
	}
	if g.votings != nil {
		if _, err := g.votings.MarkExecuted(ctx, a.VotingID); err != nil {
			log.Warn().Err(err).Str("voting_id", a.VotingID).Msg("mark voting executed")
		}
	}
	log.Info().Msg("approval executed")
	g.pub.Publish(ctx, events.NewApprovalEvent(now, events.ApprovalExecuted, a))
	return a, nil
}

// Reject closes an approval that has not been executed. The record is kept.
func (g *Gate) Reject(ctx context.Context, id, reason string) (domain.HighRiskApproval, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.HighRiskApproval{}, domain.Validationf("reason", "required")
	}
	now := g.clock()
	a, err := g.store.UpdateApproval(ctx, id, func(a *domain.HighRiskApproval) error {
		switch {
		case a.ExecutedAt != nil:
			return domain.Conflictf("approval", id, "approval was already executed")
		case a.RejectedAt != nil:
			return domain.Conflictf("approval", id, "approval was already rejected")
		}
		a.RejectedAt = &now
		a.RejectionReason = reason
		return nil
	})
	if err != nil {
		return domain.HighRiskApproval{}, domain.Wrap(err, "approval", id)
	}
	if g.votings != nil {
		if _, err := g.votings.MarkRejected(ctx, a.VotingID); err != nil {
			g.log.Warn().Err(err).Str("voting_id", a.VotingID).Msg("mark voting rejected")
		}
	}
	g.log.Info().Str("approval_id", id).Str("reason", reason).Msg("approval rejected")
	g.pub.Publish(ctx, events.NewApprovalEvent(now, events.ApprovalRejected, a))
	return a, nil
}
