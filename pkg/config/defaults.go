package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/quartzfs/quartz/internal/bytesize"
	"github.com/quartzfs/quartz/pkg/store/users"
)

// Default server limits.
const (
	DefaultPort           = 9000
	DefaultMaxClients     = 100
	DefaultMetricsPort    = 9090
	DefaultSessionTimeout = 30 * time.Minute
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTransferDefaults(&cfg.Transfer)
	cfg.Database.ApplyDefaults()
	applyDataDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets listener and session defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 64 * bytesize.KiB
	}
}

// applyTransferDefaults sets chunked transfer defaults.
func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.MiB
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = 100 * bytesize.MiB
	}
}

// applyDataDefaults sets metadata and storage paths relative to the config
// directory when unset.
func applyDataDefaults(cfg *Config) {
	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = filepath.Join(getConfigDir(), "metadata")
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(getConfigDir(), "files")
	}
}

// applyMetricsDefaults sets metrics defaults. Metrics are opt-in.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: users.Config{
			Type: users.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
