package commands

import (
	"database/sql"

	"github.com/teranos/gnis/am"
	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/db"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/governor"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/policy"
	"github.com/teranos/gnis/schema"
	"github.com/teranos/gnis/validation"
)

// loadConfig loads and validates the am configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// loadDefinitions reads the schema and policy documents named in cfg, falling
// back to the built-in ones.
func loadDefinitions(cfg *am.Config) (*schema.Definition, *policy.Policy, error) {
	def := schema.Default()
	if cfg.Schema.Path != "" {
		loaded, err := schema.Load(cfg.Schema.Path)
		if err != nil {
			return nil, nil, errors.WithHint(err, "fix or unset schema.path to use the built-in schema")
		}
		def = loaded
	}

	pol := policy.Default()
	if cfg.Policy.Path != "" {
		loaded, err := policy.Load(cfg.Policy.Path)
		if err != nil {
			return nil, nil, errors.WithHint(err, "fix or unset policy.path to use the built-in policy")
		}
		pol = loaded
	}
	return def, pol, nil
}

// openDatabase opens and migrates the database at cfg.Database.Path.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = am.DefaultDatabasePath
	}
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// auditSink builds the configured audit sink. The returned close function
// releases file handles and is never nil.
func auditSink(cfg *am.Config, database *sql.DB) (audit.Sink, func() error, error) {
	noop := func() error { return nil }
	l := logger.ComponentLogger("audit")

	switch cfg.Audit.Sink {
	case "", am.AuditSinkLog:
		return audit.NewLogSink(l), noop, nil
	case am.AuditSinkNone:
		return audit.Nop{}, noop, nil
	case am.AuditSinkJSONL:
		sink, err := audit.NewJSONLSink(cfg.Audit.JSONLPath, l)
		if err != nil {
			return nil, noop, err
		}
		return sink, sink.Close, nil
	case am.AuditSinkSQLite:
		if database == nil {
			return nil, noop, errors.NewInvalidRequestError("audit sink %q needs a database", cfg.Audit.Sink)
		}
		// Keep decisions visible in the log as well as the table.
		return audit.Multi(audit.NewSQLSink(database, l), audit.NewLogSink(l)), noop, nil
	default:
		return nil, noop, errors.WithHint(
			errors.NewInvalidRequestError("unknown audit sink %q", cfg.Audit.Sink),
			"use one of log, jsonl, sqlite, none",
		)
	}
}

// newValidator and newGovernor build the rule engines used by validate,
// review and ingest.
func newValidator(def *schema.Definition) *validation.Validator {
	return validation.New(def, validation.WithLogger(logger.ComponentLogger("validation")))
}

func newGovernor(pol *policy.Policy, sink audit.Sink) *governor.Governor {
	return governor.New(pol, sink, governor.WithLogger(logger.ComponentLogger("governor")))
}
