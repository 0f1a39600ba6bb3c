package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across GNIS.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID    = "run_id"
	FieldRecordID = "record_id"
	FieldRuleID   = "rule_id"

	// Components
	FieldComponent = "component"
	FieldSource    = "source"
	FieldConnector = "connector"

	// Pipeline progress
	FieldStage     = "stage"
	FieldBatch     = "batch"
	FieldBatchSize = "batch_size"
	FieldBatches   = "batches"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldAttempt    = "attempt"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount     = "count"
	FieldProcessed = "processed"
	FieldAccepted  = "accepted"
	FieldRejected  = "rejected"

	// Governance
	FieldDecision   = "decision"
	FieldEscalation = "escalation_level"
	FieldSeverity   = "severity"

	// Files and endpoints
	FieldPath = "path"
	FieldURL  = "url"
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a pipeline run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run ID carried by ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey).(string)
	return runID
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	p := pipeline.New(cfg, v, g, sink, logger.ComponentLogger("pipeline"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
