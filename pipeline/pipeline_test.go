package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/governor"
	gnistest "github.com/teranos/gnis/internal/testing"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/validation"
)

func newPipeline(t *testing.T, cfg Config, sink audit.Sink) *Pipeline {
	t.Helper()
	p, err := New(cfg,
		validation.New(nil, validation.WithClock(gnistest.Clock)),
		governor.New(nil, sink, governor.WithClock(gnistest.Clock)),
		sink,
		WithClock(gnistest.Clock),
		WithRunIDs(func() string { return "run-1" }),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	return cfg
}

func serve(recs []*record.Record) connector.Connector {
	return connector.Func(func(ctx context.Context, p connector.Params) (*connector.Response, error) {
		return connector.NewResponse(recs), nil
	})
}

// mixedRecords returns n records of which the first failing have an
// out-of-range latitude.
func mixedRecords(t *testing.T, n, failing int) []*record.Record {
	t.Helper()
	out := make([]*record.Record, n)
	for i := range out {
		doc := gnistest.ValidDocument(gnistest.RecordID(i))
		if i < failing {
			gnistest.Set(doc, "geometry.coordinates", []any{-89.65, 95.0})
		}
		out[i] = gnistest.Record(t, doc)
	}
	return out
}

func TestExecuteAcceptsValidRecords(t *testing.T) {
	rec := &audit.Recorder{}
	cfg := testConfig()
	cfg.BatchSize = 2
	recs := gnistest.ValidRecords(t, 5)

	res := newPipeline(t, cfg, rec).Execute(context.Background(), serve(recs), connector.Params{Dataset: "dec/pl"})

	assert.True(t, res.Success)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "US Census Bureau", res.Source)
	assert.Equal(t, 5, res.RecordsProcessed)
	assert.Equal(t, 5, res.RecordsAccepted)
	assert.Zero(t, res.RecordsRejected)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1.0, res.AverageQuality)
	assert.Equal(t, gnistest.Now, res.StartedAt)

	for _, r := range recs {
		at, ok := r.ApprovalTime()
		require.True(t, ok, r.ID)
		assert.Equal(t, gnistest.Now, at)
	}

	assert.Equal(t, 1, rec.Count(audit.EventPipelineStart))
	assert.Equal(t, 1, rec.Count(audit.EventPipelineComplete))
	assert.Equal(t, 5, rec.Count(audit.EventValidationStart))
	assert.Equal(t, 5, rec.Count(audit.EventGovernorReview))
	assert.Equal(t, 5, rec.Count(audit.EventGovernorDecision))
	assert.Equal(t, 5, rec.Count(audit.EventRecordAccepted))
	assert.Zero(t, rec.Count(audit.EventValidationFailed))

	events := rec.Events()
	assert.Equal(t, audit.EventPipelineStart, events[0])
	assert.Equal(t, audit.EventPipelineComplete, events[len(events)-1])
	for _, e := range rec.Entries() {
		assert.Equal(t, "run-1", e.RunID)
	}
}

func TestExecuteSuccessRule(t *testing.T) {
	tests := []struct {
		name    string
		failing int
		success bool
	}{
		{"94 percent accepted fails", 60, false},
		{"96 percent accepted succeeds", 40, true},
		{"exactly 95 percent succeeds", 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Concurrency = 8
			res := newPipeline(t, cfg, nil).Execute(context.Background(), serve(mixedRecords(t, 1000, tt.failing)), connector.Params{})

			assert.Equal(t, 1000, res.RecordsProcessed)
			assert.Equal(t, 1000-tt.failing, res.RecordsAccepted)
			assert.Equal(t, tt.failing, res.RecordsRejected)
			assert.Equal(t, tt.success, res.Success)
			require.Len(t, res.Errors, tt.failing)
			for _, e := range res.Errors {
				assert.Equal(t, StageProcessing, e.Stage)
				assert.Equal(t, "GEO-001", e.Code)
				assert.Equal(t, "Validation failed: Latitude must be between -90 and 90", e.Message)
			}
		})
	}
}

func TestExecuteErrorMultisetIsExact(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 7
	cfg.Concurrency = 0
	recs := mixedRecords(t, 50, 20)

	res := newPipeline(t, cfg, nil).Execute(context.Background(), serve(recs), connector.Params{})

	ids := make(map[string]int)
	for _, e := range res.Errors {
		ids[e.RecordID]++
	}
	require.Len(t, ids, 20)
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, ids[gnistest.RecordID(i)])
	}
	assert.Equal(t, res.RecordsProcessed, res.RecordsAccepted+res.RecordsRejected)
}

func TestExecuteFetchFailure(t *testing.T) {
	rec := &audit.Recorder{}
	failing := connector.Func(func(ctx context.Context, p connector.Params) (*connector.Response, error) {
		return nil, errors.Wrap(errors.ErrRateLimitExceeded, "fetch census dataset dec/pl")
	})

	res := newPipeline(t, testConfig(), rec).Execute(context.Background(), failing, connector.Params{Dataset: "dec/pl"})

	assert.False(t, res.Success)
	assert.Zero(t, res.RecordsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StagePipeline, res.Errors[0].Stage)
	assert.Equal(t, connector.CodeRateLimitExceeded, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "RATE_LIMIT_EXCEEDED")
	assert.Empty(t, res.Errors[0].RecordID)
	assert.Equal(t, []string{audit.EventPipelineStart, audit.EventPipelineComplete}, rec.Events())
}

func TestExecuteRejectsUnapprovedRecord(t *testing.T) {
	doc := gnistest.ValidDocument("place-1")
	gnistest.Delete(doc, "metadata.governance.truthGovernorApproved")
	rec := &audit.Recorder{}

	res := newPipeline(t, testConfig(), rec).Execute(context.Background(), serve([]*record.Record{gnistest.Record(t, doc)}), connector.Params{})

	assert.True(t, res.RecordsRejected == 1 && res.RecordsAccepted == 0)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, Error{
		RecordID:  "place-1",
		Stage:     StageProcessing,
		Message:   "Validation failed: Record must be approved by Truth Governor",
		Code:      "META-006",
		Timestamp: gnistest.Now,
	}, res.Errors[0])
	assert.Equal(t, 1, rec.Count(audit.EventValidationFailed))
	assert.Zero(t, rec.Count(audit.EventGovernorReview))
}

func TestExecuteQualityThreshold(t *testing.T) {
	doc := gnistest.ValidDocument("place-1")
	gnistest.Set(doc, "properties.demographics.households", 200000.0)
	rec := &audit.Recorder{}
	cfg := testConfig()
	cfg.QualityThreshold = 0.99

	res := newPipeline(t, cfg, rec).Execute(context.Background(), serve([]*record.Record{gnistest.Record(t, doc)}), connector.Params{})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Quality threshold not met", res.Errors[0].Message)
	assert.Equal(t, CodeQualityThreshold, res.Errors[0].Code)
	assert.Equal(t, 0.97, res.AverageQuality)
	assert.Equal(t, 1, rec.Count(audit.EventQualityThresholdFailed))
	assert.Zero(t, rec.Count(audit.EventGovernorReview))
}

func TestExecuteGovernorRejection(t *testing.T) {
	doc := gnistest.ValidDocument("place-1")
	gnistest.Set(doc, "metadata.quality.validationPassed", false)
	rec := &audit.Recorder{}
	recs := []*record.Record{gnistest.Record(t, doc)}

	res := newPipeline(t, testConfig(), rec).Execute(context.Background(), serve(recs), connector.Params{})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Truth Governor rejected: All API data must pass schema validation", res.Errors[0].Message)
	assert.Equal(t, "FA-002", res.Errors[0].Code)
	assert.Equal(t, 1, rec.Count(audit.EventGovernorRejected))
	assert.Equal(t, 1, rec.Count(audit.EventGovernorDecision))
	assert.Zero(t, rec.Count(audit.EventRecordAccepted))

	_, approved := recs[0].ApprovalTime()
	assert.False(t, approved)
}

func TestExecuteApprovalIsWriteOnce(t *testing.T) {
	recs := gnistest.ValidRecords(t, 1)
	p := newPipeline(t, testConfig(), nil)

	res := p.Execute(context.Background(), serve(recs), connector.Params{})
	require.Equal(t, 1, res.RecordsAccepted)
	first, ok := recs[0].ApprovalTime()
	require.True(t, ok)

	later, err := New(testConfig(), nil, nil, nil, WithClock(func() time.Time { return gnistest.Now.Add(time.Hour) }))
	require.NoError(t, err)
	res = later.Execute(context.Background(), serve(recs), connector.Params{})
	require.Equal(t, 1, res.RecordsAccepted)

	again, ok := recs[0].ApprovalTime()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

// cancelSink cancels the run's context when the first record is accepted.
type cancelSink struct {
	audit.Recorder
	once   sync.Once
	cancel context.CancelFunc
}

func (s *cancelSink) Log(ctx context.Context, event string, payload any) {
	s.Recorder.Log(ctx, event, payload)
	if event == audit.EventRecordAccepted {
		s.once.Do(s.cancel)
	}
}

func TestExecuteCancellationStopsAtBatchBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelSink{cancel: cancel}
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.Concurrency = 1

	res := newPipeline(t, cfg, sink).Execute(ctx, serve(gnistest.ValidRecords(t, 9)), connector.Params{})

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.RecordsProcessed, "the running batch finishes")
	assert.Equal(t, 3, res.RecordsAccepted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, StagePipeline, res.Errors[0].Stage)
	assert.Equal(t, CodeCancelled, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "before batch 2 of 3")
	assert.Equal(t, 1, sink.Count(audit.EventPipelineComplete))
}

// inflightSink tracks how many records are between validation start and acceptance.
type inflightSink struct {
	current, peak atomic.Int32
}

func (s *inflightSink) Log(_ context.Context, event string, _ any) {
	switch event {
	case audit.EventValidationStart:
		n := s.current.Add(1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
	case audit.EventRecordAccepted:
		s.current.Add(-1)
	}
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		batchSize   int
		maxPeak     int32
	}{
		{"bounded", 3, 20, 3},
		{"serial", 1, 20, 1},
		{"whole batch", 0, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &inflightSink{}
			cfg := testConfig()
			cfg.Concurrency = tt.concurrency
			cfg.BatchSize = tt.batchSize

			res := newPipeline(t, cfg, sink).Execute(context.Background(), serve(gnistest.ValidRecords(t, 40)), connector.Params{})

			assert.Equal(t, 40, res.RecordsAccepted)
			assert.LessOrEqual(t, sink.peak.Load(), tt.maxPeak)
			assert.GreaterOrEqual(t, sink.peak.Load(), int32(1))
		})
	}
}

func TestExecuteNullRecord(t *testing.T) {
	recs := append(gnistest.ValidRecords(t, 2), nil)

	res := newPipeline(t, testConfig(), nil).Execute(context.Background(), serve(recs), connector.Params{})

	assert.Equal(t, 3, res.RecordsProcessed)
	assert.Equal(t, 1, res.RecordsRejected)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeInvalidRecord, res.Errors[0].Code)
}

func TestExecuteEmptyRun(t *testing.T) {
	empty := connector.Func(func(ctx context.Context, p connector.Params) (*connector.Response, error) {
		return nil, nil
	})

	res := newPipeline(t, testConfig(), nil).Execute(context.Background(), empty, connector.Params{})

	assert.True(t, res.Success)
	assert.Zero(t, res.RecordsProcessed)
	assert.Zero(t, res.AverageQuality)
	assert.Empty(t, res.Errors)
}

type panickySink struct{}

func (panickySink) Log(context.Context, string, any) { panic("disk on fire") }

func TestExecuteSurvivesPanickingSink(t *testing.T) {
	res := newPipeline(t, testConfig(), panickySink{}).Execute(context.Background(), serve(gnistest.ValidRecords(t, 3)), connector.Params{})

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.RecordsAccepted)
}

func TestExecuteLogsSummary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p, err := New(testConfig(), nil, nil, nil, WithLogger(zap.New(core).Sugar()), WithRunIDs(func() string { return "run-7" }))
	require.NoError(t, err)

	res := p.Execute(context.Background(), serve(gnistest.ValidRecords(t, 2)), connector.Params{})
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
	assert.Equal(t, res.Duration.Milliseconds(), res.DurationMS)

	done := logs.FilterMessage("Pipeline run complete").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "run-7", fields["run_id"])
	assert.EqualValues(t, 2, fields["processed"])
	assert.Equal(t, true, fields["success"])
}

func TestSucceeded(t *testing.T) {
	tests := []struct {
		processed, accepted, rejected int
		want                          bool
	}{
		{0, 0, 0, true},
		{10, 10, 0, true},
		{100, 95, 5, true},
		{100, 94, 6, false},
		{1, 0, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Succeeded(tt.processed, tt.accepted, tt.rejected), "%+v", tt)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }},
		{"threshold above one", func(c *Config) { c.QualityThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.QualityThreshold = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.True(t, errors.IsInvalidRequestError(cfg.Validate()))

			_, err := New(cfg, nil, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestStatistics(t *testing.T) {
	cfg := testConfig()
	stats := newPipeline(t, cfg, nil).Statistics()
	assert.Equal(t, Statistics{Source: "US Census Bureau", Config: cfg}, stats)
}
