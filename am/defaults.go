package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Defaults
const (
	DefaultSource           = "US Census Bureau"
	DefaultBatchSize        = 1000
	DefaultConcurrency      = 10
	DefaultQualityThreshold = 0.90
	DefaultCensusAPIURL     = "https://api.census.gov/data"
	DefaultCensusTimeout    = 30
	DefaultCensusMaxRetries = 3
	DefaultCensusRPS        = 10.0
	DefaultDatabasePath     = "gnis.db"
	DefaultAuditJSONLPath   = "gnis-audit.jsonl"
	DefaultAuditSink        = AuditSinkLog
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.source", DefaultSource)
	v.SetDefault("pipeline.batch_size", DefaultBatchSize)
	v.SetDefault("pipeline.concurrency", DefaultConcurrency)
	v.SetDefault("pipeline.quality_threshold", DefaultQualityThreshold)

	// Census connector defaults
	v.SetDefault("census.api_url", DefaultCensusAPIURL)
	v.SetDefault("census.timeout_seconds", DefaultCensusTimeout)
	v.SetDefault("census.max_retries", DefaultCensusMaxRetries)
	v.SetDefault("census.requests_per_second", DefaultCensusRPS)
	v.SetDefault("census.allow_private_hosts", false)

	// Audit defaults
	v.SetDefault("audit.sink", DefaultAuditSink)
	v.SetDefault("audit.jsonl_path", DefaultAuditJSONLPath)

	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("schema.path", "")
	v.SetDefault("policy.path", "")
	v.SetDefault("log.json", false)
}

func newDefaultsViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("census.api_key", "GNIS_CENSUS_API_KEY")
	v.BindEnv("database.path", "GNIS_DATABASE_PATH")
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Pipeline: {Source: %s, BatchSize: %d}, Census: {APIURL: %s}, Audit: %s, Database: %s}",
		c.Pipeline.Source, c.Pipeline.BatchSize, c.Census.APIURL, c.Audit.Sink, c.Database.Path)
}
