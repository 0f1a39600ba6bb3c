// Package audit defines the audit sink the pipeline and governor report to,
// and the sinks that persist those events.
//
// Sinks are fire-and-forget: Log never returns an error and never panics
// into the caller. Sinks that can fail report the failure on their own
// logger and drop the event.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gnis/logger"
)

// Audit event names.
const (
	EventPipelineStart          = "PIPELINE_START"
	EventPipelineComplete       = "PIPELINE_COMPLETE"
	EventValidationStart        = "VALIDATION_START"
	EventValidationFailed       = "VALIDATION_FAILED"
	EventQualityThresholdFailed = "QUALITY_THRESHOLD_FAILED"
	EventGovernorReview         = "TRUTH_GOVERNOR_REVIEW"
	EventGovernorRejected       = "TRUTH_GOVERNOR_REJECTED"
	EventGovernorDecision       = "TRUTH_GOVERNOR_DECISION"
	EventRecordAccepted         = "RECORD_ACCEPTED"
)

// Sink receives audit events.
type Sink interface {
	Log(ctx context.Context, event string, payload any)
}

// Entry is one audit event as stored by the persistent sinks.
type Entry struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	RunID   string    `json:"run_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

func newEntry(ctx context.Context, event string, payload any) Entry {
	return Entry{
		Time:    time.Now().UTC(),
		Event:   event,
		RunID:   logger.RunIDFromContext(ctx),
		Payload: payload,
	}
}

// Nop discards every event.
type Nop struct{}

// Log implements Sink.
func (Nop) Log(context.Context, string, any) {}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a LogSink. A nil logger means the "audit" component logger.
func NewLogSink(l *zap.SugaredLogger) *LogSink {
	if l == nil {
		l = logger.ComponentLogger("audit")
	}
	return &LogSink{logger: l}
}

// Log implements Sink.
func (s *LogSink) Log(ctx context.Context, event string, payload any) {
	logger.FromContext(ctx, s.logger).Infow(event, "payload", payload)
}

type multi []Sink

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Log(ctx context.Context, event string, payload any) {
	for _, s := range m {
		s.Log(ctx, event, payload)
	}
}

// safe shields callers from a sink that panics.
type safe struct {
	sink   Sink
	logger *zap.SugaredLogger
}

// Safe wraps sink so that a panic inside Log is logged and swallowed.
// A nil sink becomes Nop.
func Safe(sink Sink, l *zap.SugaredLogger) Sink {
	if sink == nil {
		return Nop{}
	}
	if s, ok := sink.(*safe); ok {
		return s
	}
	return &safe{sink: sink, logger: logger.OrNop(l)}
}

func (s *safe) Log(ctx context.Context, event string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Audit sink panicked", "event", event, "panic", r)
		}
	}()
	s.sink.Log(ctx, event, payload)
}

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Log implements Sink.
func (r *Recorder) Log(ctx context.Context, event string, payload any) {
	entry := newEntry(ctx, event, payload)
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded events in arrival order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Events returns the recorded event names in arrival order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Event
	}
	return out
}
