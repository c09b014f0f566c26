package approval

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mossgov/internal/domain"
)

// Summary flattens the active payload variant into result fields.
func Summary(p domain.ExecutionPayload) map[string]any {
	out := map[string]any{"action_type": string(p.ActionType)}
	switch {
	case p.FundTransfer != nil:
		out["recipient"] = p.FundTransfer.Recipient
		out["amount"] = p.FundTransfer.Amount
		out["asset"] = p.FundTransfer.Asset
	case p.ContractDeploy != nil:
		out["network"] = p.ContractDeploy.Network
		out["bytecode_hash"] = p.ContractDeploy.BytecodeHash
	case p.ProtocolUpgrade != nil:
		out["component"] = p.ProtocolUpgrade.Component
		out["version"] = fmt.Sprintf("%s -> %s", p.ProtocolUpgrade.FromVersion, p.ProtocolUpgrade.ToVersion)
	case p.ParameterChange != nil:
		out["key"] = p.ParameterChange.Key
		out["value"] = p.ParameterChange.NewValue
	}
	return out
}

// DryRun returns a handler that only logs the action. It is installed for every action
// type when no executor is configured.
func DryRun(log zerolog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, a domain.HighRiskApproval) (map[string]any, error) {
		res := Summary(a.Payload)
		res["dry_run"] = true
		log.Info().Str("approval_id", a.ID).Str("proposal_id", a.ProposalID).Fields(res).Msg("dry-run execution")
		return res, nil
	})
}

// RegisterAll installs h for every known action type.
func (g *Gate) RegisterAll(h Handler) {
	for _, t := range []domain.ActionType{
		domain.ActionFundTransfer,
		domain.ActionContractDeploy,
		domain.ActionProtocolUpgrade,
		domain.ActionParameterChange,
	} {
		g.RegisterHandler(t, h)
	}
}
