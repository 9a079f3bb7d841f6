package config

import "fmt"

// DatabaseConfig holds work-store connection settings.
type DatabaseConfig struct {
	Driver string `env:"AGENTOPS_DB_DRIVER"` // "pgx" or "sqlite"
	DSN    string `env:"AGENTOPS_DB_DSN"`
}

// Validate is called automatically by env.Load.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "", "pgx", "sqlite":
	default:
		return fmt.Errorf("unknown AGENTOPS_DB_DRIVER: %s", c.Driver)
	}
	return nil
}

// ArchiveConfig selects where escalation reports are archived.
type ArchiveConfig struct {
	Type      string `env:"AGENTOPS_ARCHIVE_TYPE"` // "fs" (default) or "gcs"
	Dir       string `env:"AGENTOPS_ARCHIVE_DIR"`
	GCSBucket string `env:"AGENTOPS_ARCHIVE_GCS_BUCKET"`
}

// Validate is called automatically by env.Load.
func (c *ArchiveConfig) Validate() error {
	switch c.Type {
	case "", "fs":
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("AGENTOPS_ARCHIVE_GCS_BUCKET is required when AGENTOPS_ARCHIVE_TYPE is 'gcs'")
		}
	default:
		return fmt.Errorf("unknown AGENTOPS_ARCHIVE_TYPE: %s", c.Type)
	}
	return nil
}
