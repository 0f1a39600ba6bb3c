// Package governor implements the truth governor, the policy engine that
// decides whether a validated record may be accepted.
package governor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/gnis/audit"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/policy"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/rules"
)

// EscalationLevel summarizes how severe a review's violations are.
type EscalationLevel string

const (
	EscalationWarning   EscalationLevel = "L1_WARNING"
	EscalationRejection EscalationLevel = "L2_REJECTION"
	EscalationCritical  EscalationLevel = "L3_CRITICAL"
)

// Decisions recorded in the audit trail.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Violation is a forbidden-action or required-validation rule that fired.
type Violation struct {
	RuleID   string         `json:"ruleId"`
	Rule     string         `json:"rule"`
	Reason   string         `json:"reason"`
	Severity rules.Severity `json:"severity"`
}

// Warning is a compliance rule that fired. Warnings never block approval.
type Warning struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}

// Review is the outcome of reviewing one record. Reason and Severity come
// from the first critical violation in evaluation order.
type Review struct {
	Approved   bool           `json:"approved"`
	Reason     string         `json:"reason,omitempty"`
	Severity   rules.Severity `json:"severity,omitempty"`
	Violations []Violation    `json:"violations"`
	Warnings   []Warning      `json:"warnings"`
}

// FirstCritical returns the first critical violation, if any.
func (r Review) FirstCritical() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == rules.SeverityCritical {
			return v, true
		}
	}
	return Violation{}, false
}

// Decision is the audit payload of one review.
type Decision struct {
	Timestamp       time.Time       `json:"timestamp"`
	RecordID        string          `json:"recordId"`
	Decision        string          `json:"decision"`
	Violations      []Violation     `json:"violations"`
	Warnings        []Warning       `json:"warnings"`
	EscalationLevel EscalationLevel `json:"escalationLevel"`
}

// Governor evaluates records against a policy. It holds no per-record state
// and is safe for concurrent use.
type Governor struct {
	policy *policy.Policy
	sink   audit.Sink
	now    func() time.Time
	logger *zap.SugaredLogger
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock sets the clock used for decision timestamps and time-based rules.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the governor's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(g *Governor) { g.logger = l }
}

// New creates a Governor. A nil policy means the built-in one; a nil sink
// discards decisions.
func New(p *policy.Policy, sink audit.Sink, opts ...Option) *Governor {
	if p == nil {
		p = policy.Default()
	}
	g := &Governor{policy: p, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.OrNop(g.logger)
	g.sink = audit.Safe(sink, g.logger)
	return g
}

// Review evaluates every policy group on rec without short-circuiting.
func (g *Governor) Review(rec *record.Record) Review {
	env := rules.Env{Now: g.now()}
	review := Review{Violations: []Violation{}, Warnings: []Warning{}}

	for _, set := range []*rules.Set{g.policy.ForbiddenActions, g.policy.RequiredValidations} {
		for _, f := range set.Evaluate(rec, env) {
			review.Violations = append(review.Violations, Violation{
				RuleID:   f.RuleID,
				Rule:     f.Name,
				Reason:   f.Message,
				Severity: f.Severity,
			})
		}
	}
	for _, f := range g.policy.Compliance.Evaluate(rec, env) {
		review.Warnings = append(review.Warnings, Warning{RuleID: f.RuleID, Message: f.Message})
	}

	first, blocked := review.FirstCritical()
	review.Approved = !blocked
	if blocked {
		review.Reason = first.Reason
		review.Severity = first.Severity
	}
	return review
}

// EscalationLevelOf grades a list of violations: any critical violation is
// L3_CRITICAL, else any high one is L2_REJECTION, else L1_WARNING.
func EscalationLevelOf(violations []Violation) EscalationLevel {
	high := false
	for _, v := range violations {
		switch v.Severity {
		case rules.SeverityCritical:
			return EscalationCritical
		case rules.SeverityHigh:
			high = true
		}
	}
	if high {
		return EscalationRejection
	}
	return EscalationWarning
}

// EscalationLevel grades violations; see EscalationLevelOf.
func (g *Governor) EscalationLevel(violations []Violation) EscalationLevel {
	return EscalationLevelOf(violations)
}

// LogDecision writes one TRUTH_GOVERNOR_DECISION audit event for a review.
// Sink failures are logged and never reach the caller.
func (g *Governor) LogDecision(ctx context.Context, rec *record.Record, review Review) {
	decision := DecisionApproved
	if !review.Approved {
		decision = DecisionRejected
	}
	entry := Decision{
		Timestamp:       g.now().UTC(),
		RecordID:        rec.ID,
		Decision:        decision,
		Violations:      review.Violations,
		Warnings:        review.Warnings,
		EscalationLevel: g.EscalationLevel(review.Violations),
	}

	logger.FromContext(ctx, g.logger).Debugw("Truth governor decision",
		logger.FieldRecordID, rec.ID,
		logger.FieldDecision, decision,
		logger.FieldEscalation, entry.EscalationLevel,
		"violations", len(review.Violations),
		"warnings", len(review.Warnings),
	)
	g.sink.Log(ctx, audit.EventGovernorDecision, entry)
}
