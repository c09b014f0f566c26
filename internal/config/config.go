package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models mossgov.yml.
type Config struct {
	Houses struct {
		MossCoin   HouseConfig `yaml:"mosscoin"`
		OpenSource HouseConfig `yaml:"opensource"`
	} `yaml:"houses"`
	Voting        VotingConfig       `yaml:"voting"`
	Approval      ApprovalConfig     `yaml:"approval"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Risk          RiskConfig         `yaml:"risk"`
	Collaborators CollaboratorConfig `yaml:"collaborators"`
	Logging       LoggingConfig      `yaml:"logging"`
	Server        ServerConfig       `yaml:"server"`
	Webhooks      []WebhookConfig    `yaml:"webhooks"`
}

// HouseConfig holds the per-house parameters. Percentages are in the 0-100 range.
type HouseConfig struct {
	QuorumPercentage     float64            `yaml:"quorum_percentage"`
	PassThreshold        float64            `yaml:"pass_threshold"`
	MinTokenBalance      int64              `yaml:"min_token_balance,omitempty"`
	MinContributionScore int64              `yaml:"min_contribution_score,omitempty"`
	InactivityDays       int                `yaml:"inactivity_days"`
	RoleMultipliers      map[string]float64 `yaml:"role_multipliers,omitempty"`
}

type VotingConfig struct {
	MinDurationHours        int     `yaml:"min_duration_hours"`
	MaxDurationHours        int     `yaml:"max_duration_hours"`
	DefaultDurationHours    int     `yaml:"default_duration_hours"`
	EarlyFinalizationQuorum float64 `yaml:"early_finalization_quorum"`
}

type ApprovalConfig struct {
	Director3Required bool     `yaml:"director3_required"`
	Director3Signers  []string `yaml:"director3_signers"`
}

type PipelineConfig struct {
	MaxRetriesPerStage int                 `yaml:"max_retries_per_stage"`
	StageTimeout       time.Duration       `yaml:"stage_timeout"`
	BackoffBase        time.Duration       `yaml:"backoff_base"`
	RetryAllErrors     bool                `yaml:"retry_all_errors"`
	SpecialistTasks    map[string][]string `yaml:"specialist_tasks"`
	CategoryWorkflows  map[string]string   `yaml:"category_workflows"`
	// Models routes task kinds to model names.
	Models map[string]string `yaml:"models,omitempty"`
}

type RiskConfig struct {
	// Policy is Rego source for package mossgov.risk. Empty uses the built-in policy.
	Policy string `yaml:"policy,omitempty"`
}

type CollaboratorConfig struct {
	WorkflowURL string        `yaml:"workflow_url,omitempty"`
	ExecutorURL string        `yaml:"executor_url,omitempty"`
	Token       string        `yaml:"token,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret,omitempty"`
	JWTIssuer string `yaml:"jwt_issuer,omitempty"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Secret  string   `yaml:"secret,omitempty"`
	Enabled bool     `yaml:"enabled"`
}

// House returns the configuration for house name h ("mosscoin" or "opensource").
func (c *Config) House(h string) HouseConfig {
	if h == "opensource" {
		return c.Houses.OpenSource
	}
	return c.Houses.MossCoin
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for name, h := range map[string]HouseConfig{"mosscoin": c.Houses.MossCoin, "opensource": c.Houses.OpenSource} {
		if h.QuorumPercentage <= 0 || h.QuorumPercentage > 100 {
			return fmt.Errorf("houses.%s.quorum_percentage must be in (0,100]", name)
		}
		if h.PassThreshold <= 0 || h.PassThreshold > 100 {
			return fmt.Errorf("houses.%s.pass_threshold must be in (0,100]", name)
		}
		if h.InactivityDays < 0 {
			return fmt.Errorf("houses.%s.inactivity_days must not be negative", name)
		}
		for role, m := range h.RoleMultipliers {
			if role == "" {
				return fmt.Errorf("houses.%s.role_multipliers has empty role", name)
			}
			if m <= 0 {
				return fmt.Errorf("houses.%s.role_multipliers.%s must be positive", name, role)
			}
		}
	}
	if c.Houses.MossCoin.MinTokenBalance < 0 {
		return fmt.Errorf("houses.mosscoin.min_token_balance must not be negative")
	}
	if c.Houses.OpenSource.MinContributionScore < 0 {
		return fmt.Errorf("houses.opensource.min_contribution_score must not be negative")
	}
	v := c.Voting
	if v.MinDurationHours <= 0 || v.MaxDurationHours < v.MinDurationHours {
		return fmt.Errorf("voting duration bounds are invalid: min=%d max=%d", v.MinDurationHours, v.MaxDurationHours)
	}
	if v.DefaultDurationHours < v.MinDurationHours || v.DefaultDurationHours > v.MaxDurationHours {
		return fmt.Errorf("voting.default_duration_hours must be within [%d,%d]", v.MinDurationHours, v.MaxDurationHours)
	}
	if v.EarlyFinalizationQuorum <= 0 || v.EarlyFinalizationQuorum > 100 {
		return fmt.Errorf("voting.early_finalization_quorum must be in (0,100]")
	}
	for _, s := range c.Approval.Director3Signers {
		if s == "" {
			return fmt.Errorf("approval.director3_signers contains empty id")
		}
	}
	p := c.Pipeline
	if p.MaxRetriesPerStage < 1 {
		return fmt.Errorf("pipeline.max_retries_per_stage must be at least 1")
	}
	if p.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be positive")
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("pipeline.backoff_base must not be negative")
	}
	for wf, tasks := range p.SpecialistTasks {
		if len(tasks) == 0 {
			return fmt.Errorf("pipeline.specialist_tasks.%s is empty", wf)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mossgov.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Load reads config from the workspace, falling back to defaults when the file is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from data
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `houses:
  mosscoin:
    quorum_percentage: 20
    pass_threshold: 60
    min_token_balance: 100
    inactivity_days: 90
  opensource:
    quorum_percentage: 20
    pass_threshold: 60
    min_contribution_score: 10
    inactivity_days: 90
    role_multipliers:
      maintainer: 1.5
      core_contributor: 1.3

voting:
  min_duration_hours: 24
  max_duration_hours: 336
  default_duration_hours: 168
  early_finalization_quorum: 66.7

approval:
  director3_required: true
  director3_signers: []

pipeline:
  max_retries_per_stage: 3
  stage_timeout: 30s
  backoff_base: 1s
  retry_all_errors: false
  category_workflows:
    treasury: grant_evaluation
    security: incident_response
    policy: policy_update
  specialist_tasks:
    proposal_review: [research, impact_analysis]
    grant_evaluation: [research, impact_analysis, risk_review]
    incident_response: [risk_review, drafting]
    policy_update: [research, drafting]

collaborators:
  timeout: 60s

logging:
  level: info
  pretty: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
