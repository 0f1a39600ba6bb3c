package rules

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/gnis/record"
)

// Env carries evaluation inputs that do not come from the record.
type Env struct {
	Now time.Time
}

// subject is one record under evaluation. The serialized form is built on
// first use and shared by every text-scanning rule.
type subject struct {
	rec        *record.Record
	env        Env
	serialized *string
}

func (s *subject) text() string {
	if s.serialized == nil {
		data, err := json.Marshal(s.rec)
		str := ""
		if err == nil {
			str = strings.ToLower(string(data))
		}
		s.serialized = &str
	}
	return *s.serialized
}

// Evaluate runs every rule against rec and returns the findings in rule
// order. A nil Set yields no findings.
func (s *Set) Evaluate(rec *record.Record, env Env) []Finding {
	if s == nil || rec == nil {
		return nil
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}
	subj := &subject{rec: rec, env: env}

	var findings []Finding
	for _, c := range s.rules {
		if c.fires(subj) {
			findings = append(findings, Finding{
				RuleID:   c.ID,
				Name:     c.Name,
				Field:    c.label,
				Message:  c.Message,
				Severity: c.Severity,
			})
		}
	}
	return findings
}

func (c *compiled) exempted(r *record.Record) bool {
	return c.exempt != "" && r.Flag(c.exempt)
}

func (c *compiled) fires(s *subject) bool {
	r := s.rec
	switch c.Kind {
	case KindRange:
		v, ok := r.Number(c.fields[0])
		if !ok {
			return false
		}
		return (c.Min != nil && v < *c.Min) || (c.Max != nil && v > *c.Max)

	case KindOrder:
		first, ok1 := r.Time(c.fields[0])
		second, ok2 := r.Time(c.fields[1])
		return ok1 && ok2 && first.After(second)

	case KindNotFuture:
		for _, f := range c.fields {
			if t, ok := r.Time(f); ok && t.After(s.env.Now) {
				return true
			}
		}
		return false

	case KindNotExceeding:
		a, ok1 := r.Number(c.fields[0])
		b, ok2 := r.Number(c.fields[1])
		return ok1 && ok2 && a != 0 && b != 0 && a > b

	case KindFlagRequired:
		return !r.Flag(c.fields[0])

	case KindFlagForbidden:
		return r.Flag(c.fields[0])

	case KindEquals:
		v, ok := r.Text(c.fields[0])
		return ok && v == c.Value

	case KindKeywords:
		if c.exempted(r) {
			return false
		}
		text := s.text()
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false

	case KindPatterns:
		text := s.text()
		for _, re := range c.patterns {
			if re.MatchString(text) {
				return true
			}
		}
		return false

	case KindRequired:
		for _, f := range c.fields {
			if !r.Filled(f) {
				return true
			}
		}
		return false

	case KindQualityThreshold:
		if c.Thresholds == nil || !r.Filled(record.FieldQuality) {
			return false
		}
		return below(r, record.FieldCompleteness, c.Thresholds.Completeness) ||
			below(r, record.FieldAccuracy, c.Thresholds.Accuracy) ||
			below(r, record.FieldConsistency, c.Thresholds.Consistency)

	case KindCoordinateBounds:
		lon, ok1 := r.Number(record.FieldLongitude)
		lat, ok2 := r.Number(record.FieldLatitude)
		if !ok1 || !ok2 {
			return false
		}
		return lat < -90 || lat > 90 || lon < -180 || lon > 180

	case KindRegion:
		if c.exempted(r) {
			return false
		}
		v, ok := r.Text(c.fields[0])
		if !ok {
			return false
		}
		_, hit := c.values[v]
		return hit
	}
	return false
}

// below reports a declared metric under its threshold. Undeclared metrics pass.
func below(r *record.Record, f record.Field, min float64) bool {
	v, ok := r.Number(f)
	return ok && v < min
}
