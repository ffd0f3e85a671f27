package woolfarm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines engine configuration.
type Config struct {
	// Production holds the production-rate model settings.
	Production ProductionConfig `yaml:"production"`

	// Anomaly configures statistical anomaly detection.
	Anomaly AnomalyConfig `yaml:"anomaly"`

	// Validator configures snapshot transition validation.
	Validator ValidatorConfig `yaml:"validator"`

	// Resolver configures three-way merge conflict resolution.
	Resolver ResolverConfig `yaml:"resolver"`

	// Sync configures the sync orchestrator.
	Sync SyncConfig `yaml:"sync"`

	// Store configures the SQLite snapshot store. Ignored when a custom
	// SnapshotStore is injected.
	Store SQLiteStoreConfig `yaml:"store"`

	// Archive configures the S3 archive for superseded snapshots.
	// If nil or Enabled is false, no archiving is performed.
	Archive *ArchiveConfig `yaml:"archive"`

	// Encryption configures encryption for archived snapshot blobs.
	// If nil or Enabled is false, blobs are archived unencrypted.
	Encryption *EncryptionConfig `yaml:"encryption"`

	// Retry configures retries for persistence and archive operations.
	Retry RetryConfig `yaml:"retry"`

	// AuditStream configures the websocket audit event broadcaster.
	AuditStream AuditStreamConfig `yaml:"audit_stream"`
}

// ArchiveConfig groups archive settings.
type ArchiveConfig struct {
	// Enabled turns on archiving of superseded authoritative snapshots.
	Enabled bool `yaml:"enabled"`

	// S3 holds the S3 backend settings. Ignored when a custom
	// ArchiveBackend is injected.
	S3 S3ArchiveConfig `yaml:"s3"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(path string) Config {
	store := DefaultSQLiteStoreConfig()
	store.Path = path
	return Config{
		Production:  DefaultProductionConfig(),
		Anomaly:     DefaultAnomalyConfig(),
		Validator:   DefaultValidatorConfig(),
		Resolver:    DefaultResolverConfig(),
		Sync:        DefaultSyncConfig(),
		Store:       store,
		Archive:     nil,
		Encryption:  nil,
		Retry:       DefaultRetryConfig(),
		AuditStream: DefaultAuditStreamConfig(),
	}
}

// LoadConfigFile reads a YAML configuration file. Fields absent from the
// file keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig("")
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions that would only
// surface at runtime.
func (c Config) Validate() error {
	if c.Validator.AcceptThreshold < 0 || c.Validator.AcceptThreshold > 1 {
		return fmt.Errorf("validator accept_threshold must be in [0, 1], got %v", c.Validator.AcceptThreshold)
	}
	if c.Anomaly.ZScoreThreshold < 0 {
		return fmt.Errorf("anomaly z_score_threshold must be non-negative, got %v", c.Anomaly.ZScoreThreshold)
	}
	if c.Archive != nil && c.Archive.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive enabled but no bucket configured")
	}
	if c.Encryption != nil && c.Encryption.Enabled &&
		len(c.Encryption.Key) == 0 && c.Encryption.KeyPassword == "" {
		return fmt.Errorf("encryption enabled but no key or key_password configured")
	}
	return nil
}
