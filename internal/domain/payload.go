package domain

import "strings"

type ActionType string

const (
	ActionFundTransfer    ActionType = "fund_transfer"
	ActionContractDeploy  ActionType = "contract_deploy"
	ActionProtocolUpgrade ActionType = "protocol_upgrade"
	ActionParameterChange ActionType = "parameter_change"
)

type FundTransfer struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Asset     string `json:"asset"`
}

type ContractDeploy struct {
	Network      string   `json:"network"`
	BytecodeHash string   `json:"bytecode_hash"`
	InitArgs     []string `json:"init_args,omitempty"`
}

type ProtocolUpgrade struct {
	Component   string `json:"component"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
}

type ParameterChange struct {
	Key      string `json:"key"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value"`
}

// ExecutionPayload carries exactly one variant, selected by ActionType.
type ExecutionPayload struct {
	ActionType      ActionType       `json:"action_type" enum:"fund_transfer,contract_deploy,protocol_upgrade,parameter_change"`
	FundTransfer    *FundTransfer    `json:"fund_transfer,omitempty"`
	ContractDeploy  *ContractDeploy  `json:"contract_deploy,omitempty"`
	ProtocolUpgrade *ProtocolUpgrade `json:"protocol_upgrade,omitempty"`
	ParameterChange *ParameterChange `json:"parameter_change,omitempty"`
}

func (p ExecutionPayload) variants() int {
	n := 0
	if p.FundTransfer != nil {
		n++
	}
	if p.ContractDeploy != nil {
		n++
	}
	if p.ProtocolUpgrade != nil {
		n++
	}
	if p.ParameterChange != nil {
		n++
	}
	return n
}

// Validate checks that the variant matching ActionType, and only it, is set.
func (p ExecutionPayload) Validate() error {
	if p.variants() != 1 {
		return Validationf("execution_payload", "exactly one payload variant must be set")
	}
	switch p.ActionType {
	case ActionFundTransfer:
		if p.FundTransfer == nil {
			break
		}
		if strings.TrimSpace(p.FundTransfer.Recipient) == "" {
			return Validationf("fund_transfer.recipient", "required")
		}
		if p.FundTransfer.Amount <= 0 {
			return Validationf("fund_transfer.amount", "must be positive")
		}
		return nil
	case ActionContractDeploy:
		if p.ContractDeploy == nil {
			break
		}
		if p.ContractDeploy.Network == "" || p.ContractDeploy.BytecodeHash == "" {
			return Validationf("contract_deploy", "network and bytecode_hash are required")
		}
		return nil
	case ActionProtocolUpgrade:
		if p.ProtocolUpgrade == nil {
			break
		}
		if p.ProtocolUpgrade.Component == "" || p.ProtocolUpgrade.ToVersion == "" {
			return Validationf("protocol_upgrade", "component and to_version are required")
		}
		return nil
	case ActionParameterChange:
		if p.ParameterChange == nil {
			break
		}
		if p.ParameterChange.Key == "" {
			return Validationf("parameter_change.key", "required")
		}
		return nil
	default:
		return Validationf("action_type", "unknown action type %q", p.ActionType)
	}
	return Validationf("execution_payload", "payload does not match action type %s", p.ActionType)
}
