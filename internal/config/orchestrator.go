package config

import (
	"time"

	"github.com/on-par/agent-ops/internal/orchestrator"
)

// OrchestratorConfig holds scheduling and retry tunables. Unset variables
// fall back to the orchestrator package defaults.
type OrchestratorConfig struct {
	CycleInterval     time.Duration `env:"AGENTOPS_CYCLE_INTERVAL"`
	MaxGlobalWorkers  int           `env:"AGENTOPS_MAX_GLOBAL_WORKERS"`
	MaxWorkersPerRepo int           `env:"AGENTOPS_MAX_WORKERS_PER_REPO"`
	MaxWorkersPerUser int           `env:"AGENTOPS_MAX_WORKERS_PER_USER"`
	MaxRetryAttempts  int           `env:"AGENTOPS_MAX_RETRY_ATTEMPTS"`
	RetryBaseDelay    time.Duration `env:"AGENTOPS_RETRY_BASE_DELAY"`
	RetryMaxDelay     time.Duration `env:"AGENTOPS_RETRY_MAX_DELAY"`
	AutoSpawnWorkers  bool          `env:"AGENTOPS_AUTO_SPAWN_WORKERS"`
	DefaultTemplateID string        `env:"AGENTOPS_DEFAULT_TEMPLATE_ID"`
	OperationTimeout  time.Duration `env:"AGENTOPS_OPERATION_TIMEOUT"`

	Weights WeightsConfig
}

// WeightsConfig overrides individual scoring factors. Zero values keep the
// defaults.
type WeightsConfig struct {
	Workload        float64 `env:"AGENTOPS_WEIGHT_WORKLOAD"`
	ErrorHistory    float64 `env:"AGENTOPS_WEIGHT_ERROR_HISTORY"`
	ContextHeadroom float64 `env:"AGENTOPS_WEIGHT_CONTEXT_HEADROOM"`
	CostEfficiency  float64 `env:"AGENTOPS_WEIGHT_COST_EFFICIENCY"`
	CapabilityMatch float64 `env:"AGENTOPS_WEIGHT_CAPABILITY_MATCH"`
	RoleMatch       float64 `env:"AGENTOPS_WEIGHT_ROLE_MATCH"`
	RepoFamiliarity float64 `env:"AGENTOPS_WEIGHT_REPO_FAMILIARITY"`
}

// Resolve merges the environment overrides onto the orchestrator defaults.
func (c OrchestratorConfig) Resolve() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()

	if c.CycleInterval > 0 {
		cfg.CycleInterval = c.CycleInterval
	}
	if c.MaxGlobalWorkers > 0 {
		cfg.MaxGlobalWorkers = c.MaxGlobalWorkers
	}
	if c.MaxWorkersPerRepo > 0 {
		cfg.MaxWorkersPerRepo = c.MaxWorkersPerRepo
	}
	if c.MaxWorkersPerUser > 0 {
		cfg.MaxWorkersPerUser = c.MaxWorkersPerUser
	}
	if c.MaxRetryAttempts > 0 {
		cfg.MaxRetryAttempts = c.MaxRetryAttempts
	}
	if c.RetryBaseDelay > 0 {
		cfg.RetryBaseDelay = c.RetryBaseDelay
	}
	if c.RetryMaxDelay > 0 {
		cfg.RetryMaxDelay = c.RetryMaxDelay
	}
	if c.AutoSpawnWorkers {
		cfg.AutoSpawnWorkers = true
	}
	if c.DefaultTemplateID != "" {
		cfg.DefaultTemplateID = c.DefaultTemplateID
	}
	if c.OperationTimeout > 0 {
		cfg.OperationTimeout = c.OperationTimeout
	}

	if c.Weights.Workload > 0 {
		cfg.ScoringWeights.Workload = c.Weights.Workload
	}
	if c.Weights.ErrorHistory > 0 {
		cfg.ScoringWeights.ErrorHistory = c.Weights.ErrorHistory
	}
	if c.Weights.ContextHeadroom > 0 {
		cfg.ScoringWeights.ContextHeadroom = c.Weights.ContextHeadroom
	}
	if c.Weights.CostEfficiency > 0 {
		cfg.ScoringWeights.CostEfficiency = c.Weights.CostEfficiency
	}
	if c.Weights.CapabilityMatch > 0 {
		cfg.ScoringWeights.CapabilityMatch = c.Weights.CapabilityMatch
	}
	if c.Weights.RoleMatch > 0 {
		cfg.ScoringWeights.RoleMatch = c.Weights.RoleMatch
	}
	if c.Weights.RepoFamiliarity > 0 {
		cfg.ScoringWeights.RepoFamiliarity = c.Weights.RepoFamiliarity
	}

	return cfg
}
