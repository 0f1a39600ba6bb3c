package schema

import (
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/internal/docfile"
	"github.com/teranos/gnis/internal/util"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/rules"
)

// VersionConstraint is the range of schema document versions this build reads.
const VersionConstraint = "^1"

// DocumentVersion is the version written by Document.
const DocumentVersion = "1.0.0"

// Document is the on-disk form of a schema: field specs plus business rules.
// Omitted sections fall back to the built-in ones.
type Document struct {
	Version string       `json:"version" yaml:"version" toml:"version"`
	Fields  []FieldSpec  `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
	Rules   []rules.Rule `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`
}

// Definition is a loaded schema, immutable for the life of the process.
type Definition struct {
	Schema *Schema
	Rules  *rules.Set
}

// BusinessRules are the built-in record rules, in evaluation order.
func BusinessRules() []rules.Rule {
	return []rules.Rule{
		{
			ID: "GEO-001", Kind: rules.KindRange, Severity: rules.SeverityCritical,
			Fields: []string{string(record.FieldLatitude)}, Min: util.Ptr(-90.0), Max: util.Ptr(90.0),
			Message: "Latitude must be between -90 and 90",
		},
		{
			ID: "GEO-002", Kind: rules.KindRange, Severity: rules.SeverityCritical,
			Fields: []string{string(record.FieldLongitude)}, Min: util.Ptr(-180.0), Max: util.Ptr(180.0),
			Message: "Longitude must be between -180 and 180",
		},
		{
			ID: "TIME-002", Kind: rules.KindOrder, Severity: rules.SeverityError, Field: "metadata",
			Fields:  []string{string(record.FieldCreated), string(record.FieldModified)},
			Message: "Created timestamp must be before modified timestamp",
		},
		{
			ID: "TIME-005", Kind: rules.KindNotFuture, Severity: rules.SeverityError, Field: "metadata",
			Fields:  []string{string(record.FieldCreated), string(record.FieldModified)},
			Message: "Timestamps cannot be in the future",
		},
		{
			ID: "DEMO-001", Kind: rules.KindRange, Severity: rules.SeverityCritical,
			Fields: []string{string(record.FieldPopulation)}, Min: util.Ptr(0.0),
			Message: "Population must be non-negative",
		},
		{
			ID: "DEMO-003", Kind: rules.KindNotExceeding, Severity: rules.SeverityWarning, Field: "properties.demographics",
			Fields:  []string{string(record.FieldHouseholds), string(record.FieldPopulation)},
			Message: "Households should not exceed population",
		},
		{
			ID: "META-006", Kind: rules.KindFlagRequired, Severity: rules.SeverityCritical,
			Fields:  []string{string(record.FieldApproved)},
			Message: "Record must be approved by Truth Governor",
		},
	}
}

// Default returns the canonical schema with the built-in business rules.
func Default() *Definition {
	def, err := Compile(Document{Version: DocumentVersion})
	if err != nil {
		panic(errors.Wrap(err, "built-in schema"))
	}
	return def
}

// DefaultDocument is the built-in schema in document form.
func DefaultDocument() Document {
	return Document{
		Version: DocumentVersion,
		Fields:  append([]FieldSpec(nil), CanonicalFields...),
		Rules:   BusinessRules(),
	}
}

// Compile checks the document version and builds a Definition.
func Compile(doc Document) (*Definition, error) {
	if err := docfile.CheckVersion(doc.Version, VersionConstraint); err != nil {
		return nil, errors.Wrap(err, "schema document")
	}

	fields := doc.Fields
	if len(fields) == 0 {
		fields = CanonicalFields
	}
	s, err := New(fields)
	if err != nil {
		return nil, errors.Wrap(err, "schema fields")
	}

	defs := doc.Rules
	if len(defs) == 0 {
		defs = BusinessRules()
	}
	set, err := rules.Compile(defs)
	if err != nil {
		return nil, errors.Wrap(err, "schema rules")
	}
	return &Definition{Schema: s, Rules: set}, nil
}

// Load reads a schema document from a YAML, TOML or JSON file.
func Load(path string) (*Definition, error) {
	var doc Document
	if err := docfile.Decode(path, &doc); err != nil {
		return nil, err
	}
	def, err := Compile(doc)
	return def, errors.Wrapf(err, "load %s", path)
}
