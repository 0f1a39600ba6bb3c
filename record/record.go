// Package record defines the canonical geo-object that flows through the
// ingestion pipeline.
//
// A Record carries two views of the same data: the typed structure used by
// business and policy rules, and the source document exactly as received
// (used for structural schema checks, field counting and serialized scans).
// Records built in Go have no source document; Document derives one from the
// typed fields.
package record

import (
	"encoding/json"
	"time"

	"github.com/teranos/gnis/errors"
)

// Record is the canonical geo-object.
//
// A record belongs to one goroutine at a time; the pipeline never shares a
// record between concurrent tasks.
type Record struct {
	ID         string      `json:"id,omitempty"`
	Type       string      `json:"type,omitempty"`
	Name       *Name       `json:"name,omitempty"`
	Geometry   *Geometry   `json:"geometry,omitempty"`
	Properties *Properties `json:"properties,omitempty"`
	Metadata   *Metadata   `json:"metadata,omitempty"`

	source map[string]any
}

// Name holds the primary and alternate names of a feature.
type Name struct {
	Primary   string   `json:"primary,omitempty"`
	Alternate []string `json:"alternate,omitempty"`
}

// Geometry is a GeoJSON-like point; Coordinates are [lon, lat].
type Geometry struct {
	Type        string    `json:"type,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty"`
}

// Properties groups classification, location and demographic attributes.
type Properties struct {
	Classification *Classification   `json:"classification,omitempty"`
	Location       *Location         `json:"location,omitempty"`
	Demographics   *Demographics     `json:"demographics,omitempty"`
	Identifiers    map[string]string `json:"identifiers,omitempty"`
}

// Classification places the feature in the category tree.
type Classification struct {
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

// Location is the administrative location of the feature.
type Location struct {
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	State       string `json:"state,omitempty"`
	StateCode   string `json:"stateCode,omitempty"`
}

// Demographics are optional census counts. Pointers distinguish "absent" from zero.
type Demographics struct {
	Population     *float64 `json:"population,omitempty"`
	Households     *float64 `json:"households,omitempty"`
	PopulationYear int      `json:"populationYear,omitempty"`
}

// Metadata carries timestamps, provenance, quality and governance blocks.
type Metadata struct {
	Created    string      `json:"created,omitempty"`
	Modified   string      `json:"modified,omitempty"`
	Version    int         `json:"version"`
	Source     *Source     `json:"source,omitempty"`
	Quality    *Quality    `json:"quality,omitempty"`
	Governance *Governance `json:"governance,omitempty"`
}

// Source is the provenance of a record.
type Source struct {
	Provider        string `json:"provider,omitempty"`
	Dataset         string `json:"dataset,omitempty"`
	IngestionDate   string `json:"ingestionDate,omitempty"`
	License         string `json:"license,omitempty"`
	APIEndpoint     string `json:"apiEndpoint,omitempty"`
	IngestionMethod string `json:"ingestionMethod,omitempty"`
}

// Quality is the quality block a record arrives with.
type Quality struct {
	ValidationPassed bool     `json:"validationPassed"`
	Completeness     *float64 `json:"completeness,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Consistency      *float64 `json:"consistency,omitempty"`
	Overall          *float64 `json:"overall,omitempty"`
}

// Governance holds approval and compliance flags.
type Governance struct {
	TruthGovernorApproved bool   `json:"truthGovernorApproved,omitempty"`
	ApprovalTimestamp     string `json:"approvalTimestamp,omitempty"`
	SchemaBypassed        bool   `json:"schemaBypassed,omitempty"`
	PIIAuthorized         bool   `json:"piiAuthorized,omitempty"`
	GDPRCompliant         bool   `json:"gdprCompliant,omitempty"`
	CCPACompliant         bool   `json:"ccpaCompliant,omitempty"`
	DataClassification    string `json:"dataClassification,omitempty"`
}

// Decode parses one record document.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UnmarshalJSON keeps the source document and fills the typed view leniently:
// values of the wrong JSON type are left unset in the typed view and are
// reported later by the structural schema check.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "decode record document")
	}
	if doc == nil {
		return errors.New("record document is null")
	}

	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return errors.Wrap(err, "decode record")
		}
	}

	*r = Record(p)
	r.source = doc
	return nil
}

// MarshalJSON emits the source document when present so fields outside the
// typed view survive a round trip.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r.source != nil {
		return json.Marshal(r.source)
	}
	type plain Record
	return json.Marshal((*plain)(r))
}

// Document returns the record as a generic JSON tree.
// The returned map must be treated as read-only.
func (r *Record) Document() map[string]any {
	if r.source != nil {
		return r.source
	}
	type plain Record
	data, err := json.Marshal((*plain)(r))
	if err != nil {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// Approve sets the governance approval fields. They are written once: when an
// approval timestamp already exists nothing changes and Approve returns false.
func (r *Record) Approve(at time.Time) bool {
	if r.Metadata == nil {
		r.Metadata = &Metadata{}
	}
	if r.Metadata.Governance == nil {
		r.Metadata.Governance = &Governance{}
	}
	g := r.Metadata.Governance
	if g.ApprovalTimestamp != "" {
		return false
	}

	stamp := at.UTC().Format(time.RFC3339Nano)
	g.TruthGovernorApproved = true
	g.ApprovalTimestamp = stamp

	if r.source != nil {
		gov := ensureObject(ensureObject(r.source, "metadata"), "governance")
		gov["truthGovernorApproved"] = true
		gov["approvalTimestamp"] = stamp
	}
	return true
}

// ApprovalTime reports when the record was approved, if it was.
func (r *Record) ApprovalTime() (time.Time, bool) {
	if r.Metadata == nil || r.Metadata.Governance == nil || r.Metadata.Governance.ApprovalTimestamp == "" {
		return time.Time{}, false
	}
	return ParseTimestamp(r.Metadata.Governance.ApprovalTimestamp)
}

func ensureObject(parent map[string]any, key string) map[string]any {
	if child, ok := parent[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	parent[key] = child
	return child
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
