package testing

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/teranos/gnis/record"
)

// Now is the clock fixtures are built against. Validators under test should
// use it so timestamp rules are deterministic.
var Now = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// Clock returns Now.
func Clock() time.Time { return Now }

// ValidDocument returns a record document that passes validation and
// governance review with the built-in schema and policy.
func ValidDocument(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "Feature",
		"name": map[string]any{"primary": "Springfield"},
		"geometry": map[string]any{
			"type":        "Point",
			"coordinates": []any{-89.65, 39.78},
		},
		"properties": map[string]any{
			"classification": map[string]any{"category": "administrative", "subcategory": "census_place"},
			"location":       map[string]any{"country": "United States", "countryCode": "US", "stateCode": "IL"},
			"demographics":   map[string]any{"population": 114394.0, "households": 48000.0, "populationYear": 2020.0},
		},
		"metadata": map[string]any{
			"created":  "2024-01-02T03:04:05Z",
			"modified": "2024-06-02T03:04:05Z",
			"version":  1.0,
			"source": map[string]any{
				"provider":      "US Census Bureau",
				"dataset":       "dec/pl",
				"ingestionDate": "2024-06-03T00:00:00Z",
				"license":       "Public Domain",
				"apiEndpoint":   "https://api.census.gov/data",
			},
			"quality": map[string]any{
				"validationPassed": true,
				"completeness":     1.0,
				"accuracy":         1.0,
				"consistency":      1.0,
			},
			"governance": map[string]any{
				"truthGovernorApproved": true,
				"dataClassification":    "public",
			},
		},
	}
}

// Set assigns value at a dotted path, creating intermediate objects.
func Set(doc map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	cur := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// Delete removes the value at a dotted path if it exists.
func Delete(doc map[string]any, path string) {
	keys := strings.Split(path, ".")
	cur := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, keys[len(keys)-1])
}

// Record decodes doc the way connectors do.
func Record(t testing.TB, doc map[string]any) *record.Record {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	rec, err := record.Decode(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return rec
}

// ValidRecord returns a decoded ValidDocument.
func ValidRecord(t testing.TB, id string) *record.Record {
	t.Helper()
	return Record(t, ValidDocument(id))
}

// ValidRecords returns n valid records with distinct ids.
func ValidRecords(t testing.TB, n int) []*record.Record {
	t.Helper()
	out := make([]*record.Record, n)
	for i := range out {
		out[i] = ValidRecord(t, RecordID(i))
	}
	return out
}

// RecordID is the fixture id of the i-th record.
func RecordID(i int) string {
	return fmt.Sprintf("place-%05d", i)
}
