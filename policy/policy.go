// Package policy holds the governance policy enforced by the governor:
// forbidden actions, required validations and compliance checks.
package policy

import (
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/internal/docfile"
	"github.com/teranos/gnis/record"
	"github.com/teranos/gnis/rules"
)

// VersionConstraint is the range of policy document versions this build reads.
const VersionConstraint = "^1"

// DocumentVersion is the version of the built-in policy.
const DocumentVersion = "1.0.0"

// Document is the on-disk form of a governance policy.
type Document struct {
	Version             string       `json:"version" yaml:"version" toml:"version"`
	ForbiddenActions    []rules.Rule `json:"forbidden_actions" yaml:"forbidden_actions" toml:"forbidden_actions"`
	RequiredValidations []rules.Rule `json:"required_validations" yaml:"required_validations" toml:"required_validations"`
	Compliance          []rules.Rule `json:"compliance" yaml:"compliance" toml:"compliance"`
}

// Policy is a compiled policy document. Groups are evaluated in the order
// forbidden actions, required validations, compliance.
type Policy struct {
	Version             string
	ForbiddenActions    *rules.Set
	RequiredValidations *rules.Set
	Compliance          *rules.Set
}

// EUCountryCodes are the member states checked by GDPR-001.
var EUCountryCodes = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE",
	"IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE",
}

// RuleQualityThreshold is the id of the built-in quality threshold rule.
const RuleQualityThreshold = "RV-004"

// DefaultThresholds are the RV-004 minimums of the built-in policy.
var DefaultThresholds = rules.Thresholds{Completeness: 0.95, Accuracy: 0.95, Consistency: 0.90}

func fields(fs ...record.Field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

// DefaultDocument is the built-in policy.
func DefaultDocument() Document {
	thresholds := DefaultThresholds
	return Document{
		Version: DocumentVersion,
		ForbiddenActions: []rules.Rule{
			{
				ID: "FA-001", Name: "manual_data_entry", Kind: rules.KindEquals, Severity: rules.SeverityCritical,
				Fields: fields(record.FieldIngestionMethod), Value: "manual",
				Message: "All data must come via validated API endpoints",
			},
			{
				ID: "FA-002", Name: "unvalidated_api_ingestion", Kind: rules.KindFlagRequired, Severity: rules.SeverityCritical,
				Fields:  fields(record.FieldValidationPassed),
				Message: "All API data must pass schema validation",
			},
			{
				ID: "FA-003", Name: "schema_bypass", Kind: rules.KindFlagForbidden, Severity: rules.SeverityCritical,
				Fields:  fields(record.FieldSchemaBypassed),
				Message: "No operation may bypass canonical schema validation",
			},
			{
				ID: "FA-005", Name: "unauthorized_pii_access", Kind: rules.KindKeywords, Severity: rules.SeverityCritical,
				Keywords: []string{"email", "phone", "ssn", "address", "firstName", "lastName"},
				Exempt:   string(record.FieldPIIAuthorized),
				Message:  "Personal Identifiable Information requires explicit authorization",
			},
			{
				ID: "FA-008", Name: "secret_hardcoding", Kind: rules.KindPatterns, Severity: rules.SeverityCritical,
				Patterns: []string{`api[_-]?key`, `secret[_-]?key`, `password`, `token`, `bearer\s+[a-z0-9]`, `[a-f0-9]{32}`},
				Message:  "Secrets must never be hardcoded in source code",
			},
		},
		RequiredValidations: []rules.Rule{
			{
				ID: "RV-001", Name: "schema_conformance", Kind: rules.KindRequired, Severity: rules.SeverityCritical,
				Fields:  fields(record.FieldID, record.FieldType, record.FieldName, record.FieldGeometry),
				Message: "All data must conform to canonical geo-object schema",
			},
			{
				ID: "RV-002", Name: "api_authentication", Kind: rules.KindRequired, Severity: rules.SeverityCritical,
				Fields:  fields(record.FieldAPIEndpoint),
				Message: "All API requests must include valid authentication tokens",
			},
			{
				ID: RuleQualityThreshold, Name: "data_quality_threshold", Kind: rules.KindQualityThreshold, Severity: rules.SeverityCritical,
				Thresholds: &thresholds,
				Message:    "Ingested data must meet minimum quality standards",
			},
			{
				ID: "RV-006", Name: "geographic_bounds_check", Kind: rules.KindCoordinateBounds, Severity: rules.SeverityCritical,
				Message: "Coordinates must be within valid geographic bounds",
			},
		},
		Compliance: []rules.Rule{
			{
				ID: "GDPR-001", Name: "gdpr", Kind: rules.KindRegion, Severity: rules.SeverityWarning,
				Fields: fields(record.FieldCountryCode), Values: append([]string(nil), EUCountryCodes...),
				Exempt:  string(record.FieldGDPRCompliant),
				Message: "EU data subject detected but GDPR compliance not confirmed",
			},
			{
				ID: "CCPA-001", Name: "ccpa", Kind: rules.KindRegion, Severity: rules.SeverityWarning,
				Fields: fields(record.FieldStateCode), Values: []string{"CA"},
				Exempt:  string(record.FieldCCPACompliant),
				Message: "California resident data detected but CCPA compliance not confirmed",
			},
			{
				ID: "CLASS-001", Name: "data_classification", Kind: rules.KindRequired, Severity: rules.SeverityWarning,
				Fields:  fields(record.FieldClassification),
				Message: "Data classification not specified",
			},
		},
	}
}

// Default returns the compiled built-in policy.
func Default() *Policy {
	p, err := Compile(DefaultDocument())
	if err != nil {
		panic(errors.Wrap(err, "built-in policy"))
	}
	return p
}

// Compile validates a policy document and compiles its rule groups. An empty
// or omitted group falls back to the built-in one. Rule ids are unique across
// groups. Compliance rules must be warnings and the blocking groups must not be.
func Compile(doc Document) (*Policy, error) {
	if err := docfile.CheckVersion(doc.Version, VersionConstraint); err != nil {
		return nil, errors.Wrap(err, "policy document")
	}
	builtin := DefaultDocument()
	if len(doc.ForbiddenActions) == 0 {
		doc.ForbiddenActions = builtin.ForbiddenActions
	}
	if len(doc.RequiredValidations) == 0 {
		doc.RequiredValidations = builtin.RequiredValidations
	}
	if len(doc.Compliance) == 0 {
		doc.Compliance = builtin.Compliance
	}

	seen := map[string]string{}
	p := &Policy{Version: doc.Version}
	var err error
	if p.ForbiddenActions, err = compileGroup("forbidden_actions", doc.ForbiddenActions, true, seen); err != nil {
		return nil, err
	}
	if p.RequiredValidations, err = compileGroup("required_validations", doc.RequiredValidations, true, seen); err != nil {
		return nil, err
	}
	if p.Compliance, err = compileGroup("compliance", doc.Compliance, false, seen); err != nil {
		return nil, err
	}
	return p, nil
}

func compileGroup(name string, defs []rules.Rule, blocking bool, seen map[string]string) (*rules.Set, error) {
	for _, def := range defs {
		if other, dup := seen[def.ID]; dup && def.ID != "" {
			return nil, errors.Newf("policy rule %s appears in %s and %s", def.ID, other, name)
		}
		seen[def.ID] = name
		if def.Severity.Blocking() != blocking {
			return nil, errors.Newf("policy rule %s: severity %s not allowed in %s", def.ID, def.Severity, name)
		}
	}
	set, err := rules.Compile(defs)
	return set, errors.Wrapf(err, "policy %s", name)
}

// Load reads a policy document from a YAML, TOML or JSON file.
func Load(path string) (*Policy, error) {
	var doc Document
	if err := docfile.Decode(path, &doc); err != nil {
		return nil, err
	}
	p, err := Compile(doc)
	return p, errors.Wrapf(err, "load %s", path)
}

// Thresholds returns the quality thresholds configured for the rule with the
// given id, if any.
func (p *Policy) Thresholds(ruleID string) (rules.Thresholds, bool) {
	for _, set := range []*rules.Set{p.ForbiddenActions, p.RequiredValidations, p.Compliance} {
		if r, ok := set.Lookup(ruleID); ok && r.Thresholds != nil {
			return *r.Thresholds, true
		}
	}
	return rules.Thresholds{}, false
}
