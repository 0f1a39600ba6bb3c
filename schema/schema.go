// Package schema holds the canonical geo-object schema and the business rules
// the validator applies on top of it.
package schema

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/teranos/gnis/errors"
)

// Type is a JSON value type.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// FormatDateTime is the only string format the checker knows: an RFC 3339
// timestamp with a zone.
const FormatDateTime = "date-time"

// FieldSpec describes one value of the document by its dotted path. Specs for
// nested values are only checked when their parent object exists.
type FieldSpec struct {
	Path     string   `json:"path" yaml:"path" toml:"path"`
	Type     Type     `json:"type" yaml:"type" toml:"type"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Format   string   `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Enum     []string `json:"enum,omitempty" yaml:"enum,omitempty" toml:"enum,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty" toml:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty" toml:"maximum,omitempty"`
	MinItems int      `json:"minItems,omitempty" yaml:"minItems,omitempty" toml:"minItems,omitempty"`
	MaxItems int      `json:"maxItems,omitempty" yaml:"maxItems,omitempty" toml:"maxItems,omitempty"`
	Items    Type     `json:"items,omitempty" yaml:"items,omitempty" toml:"items,omitempty"`
}

// Schema is a compiled list of field specs. It is read-only after New.
type Schema struct {
	specs []compiledSpec
	index map[string]int
	json  *jsonschema.Schema
}

type compiledSpec struct {
	FieldSpec
	key           string
	pointer       string
	parentPointer string
}

var knownTypes = map[Type]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true,
	TypeBoolean: true, TypeObject: true, TypeArray: true,
}

// New compiles specs into a JSON Schema (draft 2020-12) with format
// assertions on. Every parent path must be declared as an object before its
// children.
func New(specs []FieldSpec) (*Schema, error) {
	objects := map[string]bool{"": true}
	seen := map[string]bool{}
	s := &Schema{
		specs: make([]compiledSpec, 0, len(specs)),
		index: make(map[string]int, len(specs)),
	}

	for _, spec := range specs {
		if spec.Path == "" {
			return nil, errors.New("field spec without path")
		}
		if seen[spec.Path] {
			return nil, errors.Newf("field %s declared twice", spec.Path)
		}
		seen[spec.Path] = true

		if !knownTypes[spec.Type] {
			return nil, errors.Newf("field %s: unknown type %q", spec.Path, spec.Type)
		}
		if spec.Items != "" && (spec.Type != TypeArray || !knownTypes[spec.Items]) {
			return nil, errors.Newf("field %s: items %q needs an array of a known type", spec.Path, spec.Items)
		}
		if spec.Format != "" && (spec.Format != FormatDateTime || spec.Type != TypeString) {
			return nil, errors.Newf("field %s: unsupported format %q", spec.Path, spec.Format)
		}

		segments := strings.Split(spec.Path, ".")
		parent := segments[:len(segments)-1]
		if !objects[strings.Join(parent, ".")] {
			return nil, errors.Newf("field %s: parent object not declared", spec.Path)
		}
		if spec.Type == TypeObject {
			objects[spec.Path] = true
		}

		c := compiledSpec{
			FieldSpec: spec,
			key:           segments[len(segments)-1],
			pointer:       pointer(segments),
			parentPointer: pointer(parent),
		}
		s.index[c.pointer] = len(s.specs)
		s.specs = append(s.specs, c)
	}

	compiled, err := compileJSONSchema(s.specs)
	if err != nil {
		return nil, errors.Wrap(err, "compile json schema")
	}
	s.json = compiled
	return s, nil
}

// Specs returns a copy of the field specs in check order.
func (s *Schema) Specs() []FieldSpec {
	out := make([]FieldSpec, len(s.specs))
	for i, c := range s.specs {
		out[i] = c.FieldSpec
	}
	return out
}

func bound(v float64) *float64 { return &v }

// CanonicalFields is the built-in geo-object schema.
var CanonicalFields = []FieldSpec{
	{Path: "id", Type: TypeString, Required: true},
	{Path: "type", Type: TypeString, Required: true, Enum: []string{"Feature"}},
	{Path: "name", Type: TypeObject, Required: true},
	{Path: "name.primary", Type: TypeString, Required: true},
	{Path: "name.alternate", Type: TypeArray, Items: TypeString},
	{Path: "geometry", Type: TypeObject, Required: true},
	{Path: "geometry.type", Type: TypeString, Required: true, Enum: []string{"Point"}},
	{Path: "geometry.coordinates", Type: TypeArray, Required: true, Items: TypeNumber, MinItems: 2, MaxItems: 3},
	{Path: "properties", Type: TypeObject},
	{Path: "properties.classification", Type: TypeObject},
	{Path: "properties.classification.category", Type: TypeString},
	{Path: "properties.classification.subcategory", Type: TypeString},
	{Path: "properties.location", Type: TypeObject},
	{Path: "properties.location.country", Type: TypeString},
	{Path: "properties.location.countryCode", Type: TypeString},
	{Path: "properties.location.state", Type: TypeString},
	{Path: "properties.location.stateCode", Type: TypeString},
	{Path: "properties.demographics", Type: TypeObject},
	{Path: "properties.demographics.population", Type: TypeNumber},
	{Path: "properties.demographics.households", Type: TypeNumber},
	{Path: "properties.demographics.populationYear", Type: TypeInteger},
	{Path: "properties.identifiers", Type: TypeObject},
	{Path: "metadata", Type: TypeObject, Required: true},
	{Path: "metadata.created", Type: TypeString, Required: true, Format: FormatDateTime},
	{Path: "metadata.modified", Type: TypeString, Required: true, Format: FormatDateTime},
	{Path: "metadata.version", Type: TypeInteger, Required: true, Minimum: bound(1)},
	{Path: "metadata.source", Type: TypeObject, Required: true},
	{Path: "metadata.source.provider", Type: TypeString, Required: true},
	{Path: "metadata.source.dataset", Type: TypeString},
	{Path: "metadata.source.ingestionDate", Type: TypeString, Required: true, Format: FormatDateTime},
	{Path: "metadata.source.license", Type: TypeString},
	{Path: "metadata.source.apiEndpoint", Type: TypeString},
	{Path: "metadata.source.ingestionMethod", Type: TypeString},
	{Path: "metadata.quality", Type: TypeObject},
	{Path: "metadata.quality.validationPassed", Type: TypeBoolean},
	{Path: "metadata.quality.completeness", Type: TypeNumber, Minimum: bound(0), Maximum: bound(1)},
	{Path: "metadata.quality.accuracy", Type: TypeNumber, Minimum: bound(0), Maximum: bound(1)},
	{Path: "metadata.quality.consistency", Type: TypeNumber, Minimum: bound(0), Maximum: bound(1)},
	{Path: "metadata.quality.overall", Type: TypeNumber, Minimum: bound(0), Maximum: bound(1)},
	{Path: "metadata.governance", Type: TypeObject},
	{Path: "metadata.governance.truthGovernorApproved", Type: TypeBoolean},
	{Path: "metadata.governance.approvalTimestamp", Type: TypeString, Format: FormatDateTime},
	{Path: "metadata.governance.schemaBypassed", Type: TypeBoolean},
	{Path: "metadata.governance.piiAuthorized", Type: TypeBoolean},
	{Path: "metadata.governance.gdprCompliant", Type: TypeBoolean},
	{Path: "metadata.governance.ccpaCompliant", Type: TypeBoolean},
	{Path: "metadata.governance.dataClassification", Type: TypeString, Enum: []string{"public", "internal", "confidential", "restricted"}},
}
