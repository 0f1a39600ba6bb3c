package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
)

// SQLSink stores events in the audit_events table.
type SQLSink struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLSink creates a sink over a migrated database.
func NewSQLSink(db *sql.DB, l *zap.SugaredLogger) *SQLSink {
	return &SQLSink{db: db, logger: logger.OrNop(l)}
}

// Log implements Sink.
func (s *SQLSink) Log(ctx context.Context, event string, payload any) {
	if err := s.insert(ctx, newEntry(ctx, event, payload)); err != nil {
		s.logger.Warnw("Dropping audit event", "event", event, logger.FieldError, err)
	}
}

func (s *SQLSink) insert(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal audit payload")
	}
	var runID sql.NullString
	if e.RunID != "" {
		runID = sql.NullString{String: e.RunID, Valid: true}
	}
	// The event must land even when the run's context is already cancelled.
	_, err = s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO audit_events (event, run_id, payload, logged_at) VALUES (?, ?, ?, ?)`,
		e.Event, runID, string(data), e.Time.Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "insert audit event")
}

// ListByRun returns the events of one run in insertion order.
func (s *SQLSink) ListByRun(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event, run_id, payload, logged_at FROM audit_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query audit events")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			run      sql.NullString
			payload  string
			loggedAt string
		)
		if err := rows.Scan(&e.Event, &run, &payload, &loggedAt); err != nil {
			return nil, errors.Wrap(err, "scan audit event")
		}
		e.RunID = run.String
		if e.Time, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
			return nil, errors.Wrapf(err, "parse logged_at %q", loggedAt)
		}
		if payload != "" && payload != "null" {
			var v any
			if err := json.Unmarshal([]byte(payload), &v); err != nil {
				return nil, errors.Wrap(err, "decode audit payload")
			}
			e.Payload = v
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate audit events")
}
