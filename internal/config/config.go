package config

import (
	"fmt"

	"github.com/on-par/agent-ops/internal/env"
)

// Config holds the full configuration for the orchestrator binary.
type Config struct {
	Orchestrator  OrchestratorConfig
	Database      DatabaseConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// Load parses environment variables into a Config struct and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
