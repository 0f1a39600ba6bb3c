package validation

import (
	"math"

	"github.com/teranos/gnis/internal/util"
	"github.com/teranos/gnis/record"
)

// Metric weights of the overall score.
const (
	WeightCompleteness = 0.35
	WeightAccuracy     = 0.35
	WeightConsistency  = 0.30
)

// consistencyChecks normalizes the consistency penalty: this many findings
// drive consistency to zero.
const consistencyChecks = 10

// consistencyPrefixes select the error rules that count against consistency.
var consistencyPrefixes = []string{"TIME", "DEMO"}

// CompletenessFields are the fields completeness is measured on.
var CompletenessFields = []record.Field{
	record.FieldID,
	record.FieldType,
	record.FieldNamePrimary,
	record.FieldGeometryType,
	record.FieldCoordinates,
	record.FieldCreated,
	record.FieldModified,
	record.FieldVersion,
	record.FieldProvider,
	record.FieldIngestionDate,
}

// Metrics are the quality scores of one record, each in [0,1] and rounded to
// three decimals.
type Metrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Overall      float64 `json:"overall"`
}

// Scorer computes quality metrics. The zero value is ready to use.
type Scorer struct{}

// Score rates rec given the findings validation produced for it.
func (Scorer) Score(rec *record.Record, errs []Error, warnings []Warning) Metrics {
	present := 0
	for _, f := range CompletenessFields {
		if rec.Present(f) {
			present++
		}
	}
	completeness := float64(present) / float64(len(CompletenessFields))

	accuracy := 0.0
	if total := countKeys(rec.Document()); total > 0 {
		fields := make(map[string]struct{}, len(errs))
		for _, e := range errs {
			fields[e.Field] = struct{}{}
		}
		accuracy = float64(total-len(fields)) / float64(total)
	}

	penalties := len(warnings)
	for _, e := range errs {
		if util.HasAnyPrefix(e.Rule, consistencyPrefixes) {
			penalties++
		}
	}
	consistency := 1 - math.Min(float64(penalties)/consistencyChecks, 1)

	completeness, accuracy, consistency = util.Clamp01(completeness), util.Clamp01(accuracy), util.Clamp01(consistency)
	overall := WeightCompleteness*completeness + WeightAccuracy*accuracy + WeightConsistency*consistency

	return Metrics{
		Completeness: util.Round3(completeness),
		Accuracy:     util.Round3(accuracy),
		Consistency:  util.Round3(consistency),
		Overall:      util.Round3(overall),
	}
}

// countKeys counts object keys across the whole tree. Arrays are walked but
// their indices are not keys.
func countKeys(v any) int {
	switch t := v.(type) {
	case map[string]any:
		n := len(t)
		for _, child := range t {
			n += countKeys(child)
		}
		return n
	case []any:
		n := 0
		for _, child := range t {
			n += countKeys(child)
		}
		return n
	}
	return 0
}
