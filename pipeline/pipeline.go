// Package pipeline drives a governed ingestion run: fetch once from a
// connector, split the records into batches, and push every record through
// validation, the quality gate and the truth governor.
//
// Batches run one after another. Records inside a batch run concurrently,
// bounded by Config.Concurrency, and each record's chain is never
// interrupted: cancellation is only observed between batches.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/governor"
	"github.com/teranos/gnis/internal/util"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/validation"
)

// Stage tags on pipeline errors.
const (
	StagePipeline   = "PIPELINE"
	StageProcessing = "PROCESSING"
)

// Codes on pipeline errors that do not come from a rule or a connector.
const (
	CodeQualityThreshold = "QUALITY_THRESHOLD"
	CodeCancelled        = "CANCELLED"
	CodeInvalidRecord    = "INVALID_RECORD"
)

// SuccessRatio is the accepted/processed ratio at which a run with
// rejections still counts as successful.
const SuccessRatio = 0.95

// Config is the orchestrator's constructor input.
type Config struct {
	Source           string  `json:"source"`
	BatchSize        int     `json:"batchSize"`
	Concurrency      int     `json:"concurrency"` // 0 runs every record of a batch at once
	QualityThreshold float64 `json:"qualityThreshold"`
}

// DefaultConfig returns the configuration used for census ingestion.
func DefaultConfig() Config {
	return Config{
		Source:           "US Census Bureau",
		BatchSize:        1000,
		Concurrency:      10,
		QualityThreshold: validation.MinOverallQuality,
	}
}

// Validate checks c.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.NewInvalidRequestError("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency < 0 {
		return errors.NewInvalidRequestError("concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 || math.IsNaN(c.QualityThreshold) {
		return errors.NewInvalidRequestError("quality threshold must be within [0,1], got %v", c.QualityThreshold)
	}
	return nil
}

// Error is a failure captured during a run. PROCESSING errors belong to one
// record; a PIPELINE error ends the run.
type Error struct {
	RecordID  string    `json:"recordId,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the outcome of one run.
type Result struct {
	RunID            string        `json:"runId"`
	Source           string        `json:"source"`
	Success          bool          `json:"success"`
	RecordsProcessed int           `json:"recordsProcessed"`
	RecordsAccepted  int           `json:"recordsAccepted"`
	RecordsRejected  int           `json:"recordsRejected"`
	AverageQuality   float64       `json:"averageQuality"`
	Errors           []Error       `json:"errors"`
	StartedAt        time.Time     `json:"startedAt"`
	Duration         time.Duration `json:"-"`
	DurationMS       int64         `json:"duration"`
}

// Statistics describes a configured pipeline.
type Statistics struct {
	Source string `json:"source"`
	Config Config `json:"config"`
}

// Pipeline is the orchestrator. It keeps no state between runs and may
// execute several runs concurrently.
type Pipeline struct {
	cfg       Config
	validator *validation.Validator
	governor  *governor.Governor
	sink      audit.Sink
	now       func() time.Time
	newRunID  func() string
	logger    *zap.SugaredLogger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for error and approval timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(newID func() string) Option {
	return func(p *Pipeline) { p.newRunID = newID }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a Pipeline. A nil validator or governor means the built-in
// schema or policy; a nil sink discards events.
func New(cfg Config, v *validation.Validator, g *governor.Governor, sink audit.Sink, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "pipeline config")
	}
	p := &Pipeline{
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.ComponentLogger("pipeline")
	}
	p.sink = audit.Safe(sink, p.logger)
	if v == nil {
		v = validation.New(nil, validation.WithClock(p.now))
	}
	if g == nil {
		g = governor.New(nil, p.sink, governor.WithClock(p.now))
	}
	p.validator = v
	p.governor = g
	return p, nil
}

// Statistics returns the source and configuration.
func (p *Pipeline) Statistics() Statistics {
	return Statistics{Source: p.cfg.Source, Config: p.cfg}
}

type startEvent struct {
	Source string           `json:"source"`
	Params connector.Params `json:"params"`
}

// Execute runs the pipeline once. Failures never escape as errors: a fetch
// failure or cancellation becomes a PIPELINE error and every per-record
// failure a PROCESSING error on the returned Result.
func (p *Pipeline) Execute(ctx context.Context, conn connector.Connector, params connector.Params) *Result {
	started := time.Now()
	res := &Result{
		RunID:     p.newRunID(),
		Source:    p.cfg.Source,
		Errors:    []Error{},
		StartedAt: p.now().UTC(),
	}
	ctx = logger.WithRunID(ctx, res.RunID)
	log := logger.FromContext(ctx, p.logger)

	var qualitySum float64
	defer func() {
		res.Duration = time.Since(started)
		res.DurationMS = res.Duration.Milliseconds()
		if res.RecordsProcessed > 0 {
			res.AverageQuality = util.Round3(qualitySum / float64(res.RecordsProcessed))
		}
		p.sink.Log(ctx, audit.EventPipelineComplete, res)
		log.Infow("Pipeline run complete",
			logger.FieldSource, res.Source,
			logger.FieldProcessed, res.RecordsProcessed,
			logger.FieldAccepted, res.RecordsAccepted,
			logger.FieldRejected, res.RecordsRejected,
			"success", res.Success,
			logger.FieldDurationMS, res.DurationMS,
		)
	}()

	p.sink.Log(ctx, audit.EventPipelineStart, startEvent{Source: p.cfg.Source, Params: params})
	log.Infow("Pipeline run started", logger.FieldSource, p.cfg.Source, "dataset", params.Dataset)

	resp, err := conn.FetchGeographicData(ctx, params)
	if err != nil {
		code := connector.Classify(err)
		log.Errorw("Fetch failed", logger.FieldErrorCode, code, logger.FieldError, err)
		res.Errors = append(res.Errors, p.runError(err.Error(), code))
		res.Success = false
		return res
	}
	var recs []*record.Record
	if resp != nil {
		recs = resp.Data
	}

	batches := (len(recs) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			log.Warnw("Pipeline cancelled", logger.FieldBatch, b, logger.FieldBatches, batches)
			res.Errors = append(res.Errors, p.runError(fmt.Sprintf("pipeline cancelled before batch %d of %d: %v", b+1, batches, err), CodeCancelled))
			res.Success = false
			return res
		}

		lo := b * p.cfg.BatchSize
		hi := min(lo+p.cfg.BatchSize, len(recs))
		for _, out := range p.processBatch(ctx, recs[lo:hi]) {
			res.RecordsProcessed++
			qualitySum += out.quality
			if out.err != nil {
				res.RecordsRejected++
				res.Errors = append(res.Errors, *out.err)
				continue
			}
			res.RecordsAccepted++
		}
		log.Debugw("Batch complete", logger.FieldBatch, b+1, logger.FieldBatches, batches, logger.FieldBatchSize, hi-lo)
	}

	res.Success = Succeeded(res.RecordsProcessed, res.RecordsAccepted, res.RecordsRejected)
	return res
}

// Succeeded applies the run success rule: no rejections, or at least
// SuccessRatio of a non-empty run accepted.
func Succeeded(processed, accepted, rejected int) bool {
	if rejected == 0 {
		return true
	}
	return processed > 0 && float64(accepted)/float64(processed) >= SuccessRatio
}

func (p *Pipeline) runError(msg, code string) Error {
	return Error{Stage: StagePipeline, Message: msg, Code: code, Timestamp: p.now().UTC()}
}

// outcome is one record's result; err is nil when the record was accepted.
type outcome struct {
	err     *Error
	quality float64
}

// processBatch fans the batch out and joins it. Each task writes only its own
// slot, so the merge after Wait needs no locking.
func (p *Pipeline) processBatch(ctx context.Context, batch []*record.Record) []outcome {
	outcomes := make([]outcome, len(batch))

	limit := p.cfg.Concurrency
	if limit <= 0 {
		limit = len(batch)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, rec := range batch {
		g.Go(func() error {
			outcomes[i] = p.processRecordSafely(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) processRecordSafely(ctx context.Context, rec *record.Record) (out outcome) {
	if rec == nil {
		return outcome{err: p.recordError("", "record is null", CodeInvalidRecord)}
	}
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx, p.logger).Errorw("Record processing panicked", logger.FieldRecordID, rec.ID, "panic", r)
			out = outcome{err: p.recordError(rec.ID, fmt.Sprintf("record processing panicked: %v", r), CodeInvalidRecord)}
		}
	}()
	return p.processRecord(ctx, rec)
}

type recordEvent struct {
	RecordID string `json:"recordId"`
}

type validationFailedEvent struct {
	RecordID string             `json:"recordId"`
	Errors   []validation.Error `json:"errors"`
	Quality  validation.Metrics `json:"quality"`
}

type qualityEvent struct {
	RecordID  string             `json:"recordId"`
	Quality   validation.Metrics `json:"quality"`
	Threshold float64            `json:"threshold,omitempty"`
}

type rejectedEvent struct {
	RecordID string `json:"recordId"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
}

// processRecord runs the validate, quality gate and review chain on one record.
func (p *Pipeline) processRecord(ctx context.Context, rec *record.Record) outcome {
	id := rec.ID

	p.sink.Log(ctx, audit.EventValidationStart, recordEvent{RecordID: id})
	vr := p.validator.Validate(rec)
	out := outcome{quality: vr.Quality.Overall}

	if !vr.Valid {
		p.sink.Log(ctx, audit.EventValidationFailed, validationFailedEvent{RecordID: id, Errors: vr.Errors, Quality: vr.Quality})
		msg, code := "", CodeQualityThreshold
		if first, ok := vr.FirstError(); ok {
			msg, code = first, vr.Errors[0].Rule
		} else {
			msg = fmt.Sprintf("overall quality %.3f below %.2f", vr.Quality.Overall, validation.MinOverallQuality)
		}
		out.err = p.recordError(id, "Validation failed: "+msg, code)
		return out
	}

	if vr.Quality.Overall < p.cfg.QualityThreshold {
		p.sink.Log(ctx, audit.EventQualityThresholdFailed, qualityEvent{RecordID: id, Quality: vr.Quality, Threshold: p.cfg.QualityThreshold})
		out.err = p.recordError(id, "Quality threshold not met", CodeQualityThreshold)
		return out
	}

	p.sink.Log(ctx, audit.EventGovernorReview, recordEvent{RecordID: id})
	review := p.governor.Review(rec)
	p.governor.LogDecision(ctx, rec, review)
	if !review.Approved {
		p.sink.Log(ctx, audit.EventGovernorRejected, rejectedEvent{RecordID: id, Reason: review.Reason, Severity: string(review.Severity)})
		code := ""
		if v, ok := review.FirstCritical(); ok {
			code = v.RuleID
		}
		out.err = p.recordError(id, "Truth Governor rejected: "+review.Reason, code)
		return out
	}

	rec.Approve(p.now())
	p.sink.Log(ctx, audit.EventRecordAccepted, qualityEvent{RecordID: id, Quality: vr.Quality})
	return out
}

func (p *Pipeline) recordError(id, msg, code string) *Error {
	return &Error{RecordID: id, Stage: StageProcessing, Message: msg, Code: code, Timestamp: p.now().UTC()}
}
