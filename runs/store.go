// Package runs keeps the history of pipeline runs in SQLite.
package runs

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/pipeline"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

// Store persists pipeline results in the pipeline_runs and
// pipeline_run_errors tables.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore wraps a migrated database.
func NewStore(db *sql.DB, l *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger.OrNop(l)}
}

// Save writes a run and its errors in one transaction. Saving the same run
// id twice fails.
func (s *Store) Save(ctx context.Context, res *pipeline.Result) error {
	if res == nil || res.RunID == "" {
		return errors.NewInvalidRequestError("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin run transaction")
	}
	defer tx.Rollback()

	finished := res.StartedAt.Add(res.Duration)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(id, source, started_at, finished_at, duration_ms, success, processed, accepted, rejected, avg_quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Source,
		formatTime(res.StartedAt), formatTime(finished),
		res.DurationMS, res.Success,
		res.RecordsProcessed, res.RecordsAccepted, res.RecordsRejected, res.AverageQuality,
	)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", res.RunID)
	}

	for i, e := range res.Errors {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_run_errors (run_id, position, stage, record_id, code, message, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, i, e.Stage, nullable(e.RecordID), nullable(e.Code), e.Message, formatTime(e.Timestamp),
		)
		if err != nil {
			return errors.Wrapf(err, "insert error %d of run %s", i, res.RunID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit run")
	}
	s.logger.Debugw("Saved pipeline run", logger.FieldRunID, res.RunID, logger.FieldCount, len(res.Errors))
	return nil
}

const runColumns = `id, source, started_at, duration_ms, success, processed, accepted, rejected, avg_quality`

// List returns the most recent runs, newest first, without their errors.
func (s *Store) List(ctx context.Context, limit int) ([]*pipeline.Result, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []*pipeline.Result
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}

// Get returns one run with its errors in their original order.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Result, error) {
	res, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, record_id, code, message, occurred_at
		FROM pipeline_run_errors WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query errors of run %s", id)
	}
	defer rows.Close()

	res.Errors = []pipeline.Error{}
	for rows.Next() {
		var (
			e          pipeline.Error
			recordID   sql.NullString
			code       sql.NullString
			occurredAt string
		)
		if err := rows.Scan(&e.Stage, &recordID, &code, &e.Message, &occurredAt); err != nil {
			return nil, errors.Wrap(err, "scan run error")
		}
		e.RecordID, e.Code = recordID.String, code.String
		if e.Timestamp, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		res.Errors = append(res.Errors, e)
	}
	return res, errors.Wrap(rows.Err(), "iterate run errors")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*pipeline.Result, error) {
	var (
		res       pipeline.Result
		startedAt string
	)
	err := row.Scan(&res.RunID, &res.Source, &startedAt, &res.DurationMS, &res.Success,
		&res.RecordsProcessed, &res.RecordsAccepted, &res.RecordsRejected, &res.AverageQuality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan run")
	}
	if res.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	res.Duration = time.Duration(res.DurationMS) * time.Millisecond
	return &res, nil
}

// storedTime has a fixed width so stored timestamps sort lexically.
const storedTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, errors.Wrapf(err, "parse timestamp %q", s)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
