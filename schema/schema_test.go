package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, doc string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	return m
}

const conforming = `{
  "id": "a9d0f7a2-1b1e-4c55-8f4e-0d6a9c3b2e11",
  "type": "Feature",
  "name": {"primary": "Springfield"},
  "geometry": {"type": "Point", "coordinates": [-89.65, 39.78]},
  "metadata": {
    "created": "2024-01-02T03:04:05Z",
    "modified": "2024-02-02T03:04:05.5Z",
    "version": 1,
    "source": {"provider": "US Census Bureau", "ingestionDate": "2024-02-03T00:00:00+01:00"}
  }
}`

func TestCheckConforming(t *testing.T) {
	assert.Empty(t, Default().Schema.Check(parse(t, conforming)))
}

func TestCheckEmptyDocument(t *testing.T) {
	issues := Default().Schema.Check(map[string]any{})

	want := []Issue{
		{Path: "", Message: "must have required property 'id'"},
		{Path: "", Message: "must have required property 'type'"},
		{Path: "", Message: "must have required property 'name'"},
		{Path: "", Message: "must have required property 'geometry'"},
		{Path: "", Message: "must have required property 'metadata'"},
	}
	assert.Equal(t, want, issues)
}

func TestCheckReportsEveryIssue(t *testing.T) {
	doc := parse(t, `{
	  "id": 7,
	  "type": "Polygon",
	  "name": {},
	  "geometry": {"type": "Point", "coordinates": [1, "x", 3, 4]},
	  "properties": {"demographics": {"populationYear": 2020.5}},
	  "metadata": {
	    "created": "yesterday",
	    "modified": "2024-02-02T03:04:05Z",
	    "version": 0,
	    "source": {"provider": "x", "ingestionDate": "2024-02-03"},
	    "quality": {"overall": 1.2},
	    "governance": {"truthGovernorApproved": "yes", "dataClassification": "secret"}
	  }
	}`)

	issues := Default().Schema.Check(doc)
	want := []Issue{
		{Path: "/id", Message: "must be string"},
		{Path: "/type", Message: "must be equal to one of the allowed values"},
		{Path: "/name", Message: "must have required property 'primary'"},
		{Path: "/geometry/coordinates", Message: "must NOT have more than 3 items"},
		{Path: "/geometry/coordinates/1", Message: "must be number"},
		{Path: "/properties/demographics/populationYear", Message: "must be integer"},
		{Path: "/metadata/created", Message: `must match format "date-time"`},
		{Path: "/metadata/version", Message: "must be >= 1"},
		{Path: "/metadata/source/ingestionDate", Message: `must match format "date-time"`},
		{Path: "/metadata/quality/overall", Message: "must be <= 1"},
		{Path: "/metadata/governance/truthGovernorApproved", Message: "must be boolean"},
		{Path: "/metadata/governance/dataClassification", Message: "must be equal to one of the allowed values"},
	}
	assert.Equal(t, want, issues)
}

func TestCheckSkipsChildrenOfMistypedParent(t *testing.T) {
	issues := Default().Schema.Check(parse(t, `{"id":"x","type":"Feature","name":"Springfield","geometry":null,"metadata":[]}`))

	want := []Issue{
		{Path: "/name", Message: "must be object"},
		{Path: "/geometry", Message: "must be object"},
		{Path: "/metadata", Message: "must be object"},
	}
	assert.Equal(t, want, issues)
}

func TestCheckCustomFields(t *testing.T) {
	s, err := New([]FieldSpec{
		{Path: "tags", Type: TypeArray, Required: true, Items: TypeString, MinItems: 2},
		{Path: "score", Type: TypeNumber, Minimum: bound(0)},
		{Path: "label", Type: TypeString, Required: true},
	})
	require.NoError(t, err)

	issues := s.Check(parse(t, `{"tags":[true],"score":-0.5}`))
	want := []Issue{
		{Path: "/tags", Message: "must NOT have fewer than 2 items"},
		{Path: "/tags/0", Message: "must be string"},
		{Path: "/score", Message: "must be >= 0"},
		{Path: "", Message: "must have required property 'label'"},
	}
	assert.Equal(t, want, issues)
	assert.Empty(t, s.Check(parse(t, `{"tags":["a","b"],"label":"x"}`)))
}

func TestNewRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name  string
		specs []FieldSpec
		want  string
	}{
		{"undeclared parent", []FieldSpec{{Path: "a.b", Type: TypeString}}, "parent object not declared"},
		{"scalar parent", []FieldSpec{{Path: "a", Type: TypeString}, {Path: "a.b", Type: TypeString}}, "parent object not declared"},
		{"unknown type", []FieldSpec{{Path: "a", Type: "date"}}, "unknown type"},
		{"duplicate", []FieldSpec{{Path: "a", Type: TypeString}, {Path: "a", Type: TypeString}}, "declared twice"},
		{"format on number", []FieldSpec{{Path: "a", Type: TypeNumber, Format: FormatDateTime}}, "unsupported format"},
		{"items on object", []FieldSpec{{Path: "a", Type: TypeObject, Items: TypeString}}, "items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBusinessRulesOrder(t *testing.T) {
	var ids []string
	for _, r := range Default().Rules.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"GEO-001", "GEO-002", "TIME-002", "TIME-005", "DEMO-001", "DEMO-003", "META-006"}, ids)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("rules only", func(t *testing.T) {
		path := filepath.Join(dir, "schema.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
version: 1.2.0
rules:
  - id: GEO-001
    kind: range
    severity: CRITICAL
    fields: ["geometry.coordinates[1]"]
    min: -45
    max: 45
    message: Latitude outside service area
`), 0o644))

		def, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 1, def.Rules.Len())
		assert.Equal(t, len(CanonicalFields), len(def.Schema.Specs()))
	})

	t.Run("default document round trip", func(t *testing.T) {
		data, err := json.Marshal(DefaultDocument())
		require.NoError(t, err)
		path := filepath.Join(dir, "schema.json")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		def, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Default().Rules.Rules(), def.Rules.Rules())
	})

	t.Run("version gate", func(t *testing.T) {
		path := filepath.Join(dir, "future.toml")
		require.NoError(t, os.WriteFile(path, []byte(`version = "2.0.0"`), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not satisfy ^1")
	})

	t.Run("bad rule", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
version: 1.0.0
rules:
  - id: X-1
    kind: telepathy
    severity: CRITICAL
    message: nope
`), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown kind")
	})
}
