package am

import (
	"math"

	"github.com/teranos/gnis/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return errors.Newf("pipeline.batch_size must be > 0, got %d", c.Pipeline.BatchSize)
	}
	// 0 = one goroutine per record of the batch
	if c.Pipeline.Concurrency < 0 {
		return errors.Newf("pipeline.concurrency must be >= 0, got %d", c.Pipeline.Concurrency)
	}
	if q := c.Pipeline.QualityThreshold; q < 0 || q > 1 || math.IsNaN(q) {
		return errors.Newf("pipeline.quality_threshold must be within [0,1], got %v", q)
	}

	if c.Census.TimeoutSeconds <= 0 {
		return errors.Newf("census.timeout_seconds must be > 0, got %d", c.Census.TimeoutSeconds)
	}
	if c.Census.MaxRetries < 0 {
		return errors.Newf("census.max_retries must be >= 0, got %d", c.Census.MaxRetries)
	}
	if c.Census.RequestsPerSecond <= 0 {
		return errors.Newf("census.requests_per_second must be > 0, got %v", c.Census.RequestsPerSecond)
	}

	switch c.Audit.Sink {
	case AuditSinkLog, AuditSinkSQLite, AuditSinkNone:
	case AuditSinkJSONL:
		if c.Audit.JSONLPath == "" {
			return errors.New("audit.jsonl_path cannot be empty when audit.sink is jsonl")
		}
	default:
		return errors.WithHint(
			errors.Newf("audit.sink %q is not one of log, jsonl, sqlite, none", c.Audit.Sink),
			"set audit.sink in gnis.toml or GNIS_AUDIT_SINK")
	}

	if c.Database.Path == "" && c.Audit.Sink == AuditSinkSQLite {
		return errors.New("database.path cannot be empty when audit.sink is sqlite")
	}
	return nil
}
