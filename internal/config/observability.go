package config

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"AGENTOPS_OTEL_ENABLED"`
	ServiceName string `env:"AGENTOPS_SERVICE_NAME"`
}
