// Package am loads GNIS configuration from TOML files and GNIS_* environment
// variables.
package am

import "time"

// Config represents the core GNIS configuration
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline" toml:"pipeline" yaml:"pipeline"`
	Census   CensusConfig   `mapstructure:"census" toml:"census" yaml:"census"`
	Audit    AuditConfig    `mapstructure:"audit" toml:"audit" yaml:"audit"`
	Database DatabaseConfig `mapstructure:"database" toml:"database" yaml:"database"`
	Schema   DocumentConfig `mapstructure:"schema" toml:"schema" yaml:"schema"`
	Policy   DocumentConfig `mapstructure:"policy" toml:"policy" yaml:"policy"`
	Log      LogConfig      `mapstructure:"log" toml:"log" yaml:"log"`
}

// PipelineConfig configures the ingestion orchestrator
type PipelineConfig struct {
	Source           string  `mapstructure:"source" toml:"source" yaml:"source"`
	BatchSize        int     `mapstructure:"batch_size" toml:"batch_size" yaml:"batch_size"`
	Concurrency      int     `mapstructure:"concurrency" toml:"concurrency" yaml:"concurrency"` // 0 = whole batch at once
	QualityThreshold float64 `mapstructure:"quality_threshold" toml:"quality_threshold" yaml:"quality_threshold"`
}

// CensusConfig configures the US Census connector
type CensusConfig struct {
	APIURL            string  `mapstructure:"api_url" toml:"api_url" yaml:"api_url"`
	APIKey            string  `mapstructure:"api_key" toml:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries" toml:"max_retries" yaml:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"`
	AllowPrivateHosts bool    `mapstructure:"allow_private_hosts" toml:"allow_private_hosts" yaml:"allow_private_hosts"` // local mirrors and tests
}

// Timeout returns the request timeout.
func (c CensusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuditConfig selects where audit events go
type AuditConfig struct {
	Sink      string `mapstructure:"sink" toml:"sink" yaml:"sink"` // log, jsonl, sqlite, none
	JSONLPath string `mapstructure:"jsonl_path" toml:"jsonl_path" yaml:"jsonl_path"`
}

// Audit sink names
const (
	AuditSinkLog    = "log"
	AuditSinkJSONL  = "jsonl"
	AuditSinkSQLite = "sqlite"
	AuditSinkNone   = "none"
)

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// DocumentConfig points at an optional schema or policy document.
// An empty path selects the built-in document.
type DocumentConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" yaml:"json"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
