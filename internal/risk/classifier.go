// Package risk classifies proposed actions with a Rego policy.
package risk

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"mossgov/internal/domain"
)

//go:embed risk.rego
var DefaultPolicy string

// Query is the decision the policy must define.
const Query = "data.mossgov.risk.level"

type Classifier struct {
	query rego.PreparedEvalQuery
	log   zerolog.Logger
}

// New compiles policy, or DefaultPolicy when policy is blank.
func New(ctx context.Context, policy string, log zerolog.Logger) (*Classifier, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	module, err := ast.ParseModuleWithOpts("risk.rego", policy, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse risk policy: %w", err)
	}
	prepared, err := rego.New(
		rego.Query(Query),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile risk policy: %w", err)
	}
	return &Classifier{query: prepared, log: log}, nil
}

func (c *Classifier) ClassifyRisk(ctx context.Context, a domain.ActionDescriptor) (domain.RiskLevel, error) {
	input, err := toInput(a)
	if err != nil {
		return "", err
	}
	results, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate risk policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", domain.Validationf("risk_policy", "policy produced no level for %s", a.ProposalID)
	}
	s, ok := results[0].Expressions[0].Value.(string)
	level := domain.RiskLevel(strings.ToUpper(s))
	if !ok || !level.Valid() {
		return "", domain.Validationf("risk_policy", "unexpected level %v", results[0].Expressions[0].Value)
	}
	c.log.Debug().Str("proposal_id", a.ProposalID).Str("risk", string(level)).Msg("risk classified")
	return level, nil
}

func toInput(a domain.ActionDescriptor) (map[string]any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
