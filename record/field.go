package record

import (
	"sort"
	"time"

	"github.com/teranos/gnis/errors"
)

// Field names a value a rule can read from a Record. The set is closed: rule
// documents refer to fields by these names and anything else is rejected at
// load time. The name doubles as the label reported in findings.
type Field string

const (
	FieldID               Field = "id"
	FieldType             Field = "type"
	FieldName             Field = "name"
	FieldNamePrimary      Field = "name.primary"
	FieldGeometry         Field = "geometry"
	FieldGeometryType     Field = "geometry.type"
	FieldCoordinates      Field = "geometry.coordinates"
	FieldLongitude        Field = "geometry.coordinates[0]"
	FieldLatitude         Field = "geometry.coordinates[1]"
	FieldCreated          Field = "metadata.created"
	FieldModified         Field = "metadata.modified"
	FieldVersion          Field = "metadata.version"
	FieldProvider         Field = "metadata.source.provider"
	FieldIngestionDate    Field = "metadata.source.ingestionDate"
	FieldAPIEndpoint      Field = "metadata.source.apiEndpoint"
	FieldIngestionMethod  Field = "metadata.source.ingestionMethod"
	FieldQuality          Field = "metadata.quality"
	FieldValidationPassed Field = "metadata.quality.validationPassed"
	FieldCompleteness     Field = "metadata.quality.completeness"
	FieldAccuracy         Field = "metadata.quality.accuracy"
	FieldConsistency      Field = "metadata.quality.consistency"
	FieldApproved         Field = "metadata.governance.truthGovernorApproved"
	FieldSchemaBypassed   Field = "metadata.governance.schemaBypassed"
	FieldPIIAuthorized    Field = "metadata.governance.piiAuthorized"
	FieldGDPRCompliant    Field = "metadata.governance.gdprCompliant"
	FieldCCPACompliant    Field = "metadata.governance.ccpaCompliant"
	FieldClassification   Field = "metadata.governance.dataClassification"
	FieldPopulation       Field = "properties.demographics.population"
	FieldHouseholds       Field = "properties.demographics.households"
	FieldCountryCode      Field = "properties.location.countryCode"
	FieldStateCode        Field = "properties.location.stateCode"
)

type accessor struct {
	path  []string // location in the source document
	index int      // array index under path, -1 for none
	value func(*Record) (any, bool)
}

func str(s string) (any, bool)     { return s, s != "" }
func num(f *float64) (any, bool)   { return deref(f), f != nil }
func flag(b bool) (any, bool)      { return b, b }
func obj(present bool) (any, bool) { return nil, present }

func coord(r *Record, i int) (any, bool) {
	if r.Geometry == nil || len(r.Geometry.Coordinates) < 2 {
		return nil, false
	}
	return r.Geometry.Coordinates[i], true
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func meta(r *Record) *Metadata {
	if r.Metadata == nil {
		return &Metadata{}
	}
	return r.Metadata
}

func source(r *Record) *Source {
	if m := meta(r); m.Source != nil {
		return m.Source
	}
	return &Source{}
}

func quality(r *Record) *Quality {
	if m := meta(r); m.Quality != nil {
		return m.Quality
	}
	return &Quality{}
}

func governance(r *Record) *Governance {
	if m := meta(r); m.Governance != nil {
		return m.Governance
	}
	return &Governance{}
}

func demographics(r *Record) *Demographics {
	if r.Properties != nil && r.Properties.Demographics != nil {
		return r.Properties.Demographics
	}
	return &Demographics{}
}

func location(r *Record) *Location {
	if r.Properties != nil && r.Properties.Location != nil {
		return r.Properties.Location
	}
	return &Location{}
}

var accessors = map[Field]accessor{
	FieldID:   {path: []string{"id"}, index: -1, value: func(r *Record) (any, bool) { return str(r.ID) }},
	FieldType: {path: []string{"type"}, index: -1, value: func(r *Record) (any, bool) { return str(r.Type) }},
	FieldName: {path: []string{"name"}, index: -1, value: func(r *Record) (any, bool) { return obj(r.Name != nil) }},
	FieldNamePrimary: {path: []string{"name", "primary"}, index: -1, value: func(r *Record) (any, bool) {
		if r.Name == nil {
			return nil, false
		}
		return str(r.Name.Primary)
	}},
	FieldGeometry: {path: []string{"geometry"}, index: -1, value: func(r *Record) (any, bool) { return obj(r.Geometry != nil) }},
	FieldGeometryType: {path: []string{"geometry", "type"}, index: -1, value: func(r *Record) (any, bool) {
		if r.Geometry == nil {
			return nil, false
		}
		return str(r.Geometry.Type)
	}},
	FieldCoordinates: {path: []string{"geometry", "coordinates"}, index: -1, value: func(r *Record) (any, bool) {
		if r.Geometry == nil || r.Geometry.Coordinates == nil {
			return nil, false
		}
		return r.Geometry.Coordinates, true
	}},
	FieldLongitude:       {path: []string{"geometry", "coordinates"}, index: 0, value: func(r *Record) (any, bool) { return coord(r, 0) }},
	FieldLatitude:        {path: []string{"geometry", "coordinates"}, index: 1, value: func(r *Record) (any, bool) { return coord(r, 1) }},
	FieldCreated:         {path: []string{"metadata", "created"}, index: -1, value: func(r *Record) (any, bool) { return str(meta(r).Created) }},
	FieldModified:        {path: []string{"metadata", "modified"}, index: -1, value: func(r *Record) (any, bool) { return str(meta(r).Modified) }},
	FieldVersion:         {path: []string{"metadata", "version"}, index: -1, value: func(r *Record) (any, bool) { return float64(meta(r).Version), r.Metadata != nil }},
	FieldProvider:        {path: []string{"metadata", "source", "provider"}, index: -1, value: func(r *Record) (any, bool) { return str(source(r).Provider) }},
	FieldIngestionDate:   {path: []string{"metadata", "source", "ingestionDate"}, index: -1, value: func(r *Record) (any, bool) { return str(source(r).IngestionDate) }},
	FieldAPIEndpoint:     {path: []string{"metadata", "source", "apiEndpoint"}, index: -1, value: func(r *Record) (any, bool) { return str(source(r).APIEndpoint) }},
	FieldIngestionMethod: {path: []string{"metadata", "source", "ingestionMethod"}, index: -1, value: func(r *Record) (any, bool) { return str(source(r).IngestionMethod) }},
	FieldQuality:         {path: []string{"metadata", "quality"}, index: -1, value: func(r *Record) (any, bool) { return obj(meta(r).Quality != nil) }},
	FieldValidationPassed: {path: []string{"metadata", "quality", "validationPassed"}, index: -1, value: func(r *Record) (any, bool) {
		return flag(quality(r).ValidationPassed)
	}},
	FieldCompleteness:   {path: []string{"metadata", "quality", "completeness"}, index: -1, value: func(r *Record) (any, bool) { return num(quality(r).Completeness) }},
	FieldAccuracy:       {path: []string{"metadata", "quality", "accuracy"}, index: -1, value: func(r *Record) (any, bool) { return num(quality(r).Accuracy) }},
	FieldConsistency:    {path: []string{"metadata", "quality", "consistency"}, index: -1, value: func(r *Record) (any, bool) { return num(quality(r).Consistency) }},
	FieldApproved:       {path: []string{"metadata", "governance", "truthGovernorApproved"}, index: -1, value: func(r *Record) (any, bool) { return flag(governance(r).TruthGovernorApproved) }},
	FieldSchemaBypassed: {path: []string{"metadata", "governance", "schemaBypassed"}, index: -1, value: func(r *Record) (any, bool) { return flag(governance(r).SchemaBypassed) }},
	FieldPIIAuthorized:  {path: []string{"metadata", "governance", "piiAuthorized"}, index: -1, value: func(r *Record) (any, bool) { return flag(governance(r).PIIAuthorized) }},
	FieldGDPRCompliant:  {path: []string{"metadata", "governance", "gdprCompliant"}, index: -1, value: func(r *Record) (any, bool) { return flag(governance(r).GDPRCompliant) }},
	FieldCCPACompliant:  {path: []string{"metadata", "governance", "ccpaCompliant"}, index: -1, value: func(r *Record) (any, bool) { return flag(governance(r).CCPACompliant) }},
	FieldClassification: {path: []string{"metadata", "governance", "dataClassification"}, index: -1, value: func(r *Record) (any, bool) {
		return str(governance(r).DataClassification)
	}},
	FieldPopulation:  {path: []string{"properties", "demographics", "population"}, index: -1, value: func(r *Record) (any, bool) { return num(demographics(r).Population) }},
	FieldHouseholds:  {path: []string{"properties", "demographics", "households"}, index: -1, value: func(r *Record) (any, bool) { return num(demographics(r).Households) }},
	FieldCountryCode: {path: []string{"properties", "location", "countryCode"}, index: -1, value: func(r *Record) (any, bool) { return str(location(r).CountryCode) }},
	FieldStateCode:   {path: []string{"properties", "location", "stateCode"}, index: -1, value: func(r *Record) (any, bool) { return str(location(r).StateCode) }},
}

// ParseField resolves a field name used in a rule document.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if _, ok := accessors[f]; !ok {
		return "", errors.Newf("unknown record field %q", name)
	}
	return f, nil
}

// Fields lists every known field name in lexical order.
func Fields() []Field {
	out := make([]Field, 0, len(accessors))
	for f := range accessors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Present reports whether f exists in the document and is not null,
// regardless of its JSON type.
func (r *Record) Present(f Field) bool {
	acc, ok := accessors[f]
	if !ok {
		return false
	}
	if r.source == nil {
		_, filled := acc.value(r)
		return filled
	}

	var cur any = r.source
	for _, key := range acc.path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return false
		}
	}
	if acc.index >= 0 {
		arr, ok := cur.([]any)
		if !ok || len(arr) <= acc.index {
			return false
		}
		cur = arr[acc.index]
	}
	return cur != nil
}

// Filled reports whether the typed value of f is set and truthy: non-empty
// strings, present numbers, true flags and present objects.
func (r *Record) Filled(f Field) bool {
	acc, ok := accessors[f]
	if !ok {
		return false
	}
	_, filled := acc.value(r)
	return filled
}

// Number returns the numeric value of f.
func (r *Record) Number(f Field) (float64, bool) {
	acc, ok := accessors[f]
	if !ok {
		return 0, false
	}
	v, ok := acc.value(r)
	if !ok {
		return 0, false
	}
	n, isNum := v.(float64)
	return n, isNum
}

// Text returns the string value of f.
func (r *Record) Text(f Field) (string, bool) {
	acc, ok := accessors[f]
	if !ok {
		return "", false
	}
	v, ok := acc.value(r)
	if !ok {
		return "", false
	}
	s, isStr := v.(string)
	return s, isStr
}

// Flag returns the boolean value of f; absent flags are false.
func (r *Record) Flag(f Field) bool {
	acc, ok := accessors[f]
	if !ok {
		return false
	}
	v, _ := acc.value(r)
	b, _ := v.(bool)
	return b
}

// Time returns f parsed as an ISO-8601 timestamp.
func (r *Record) Time(f Field) (time.Time, bool) {
	s, ok := r.Text(f)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(s)
}
