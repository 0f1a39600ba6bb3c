package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/teranos/gnis/errors"
)

const resourceURL = "gnis-record.json"

// Issue is one structural problem. Path is a JSON pointer to the offending
// value, or to the object missing a required property; the document root is "".
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Check validates doc against the schema and reports every issue in the
// order the fields are declared. It never stops at the first problem.
func (s *Schema) Check(doc map[string]any) []Issue {
	err := s.json.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Message: err.Error()}}
	}

	var found []located
	s.collect(ve, &found)
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].order != found[j].order {
			return found[i].order < found[j].order
		}
		return found[i].item < found[j].item
	})

	issues := make([]Issue, len(found))
	for i, l := range found {
		issues[i] = l.Issue
	}
	return issues
}

// located is an issue with its sort key: the declaring spec's index, then the
// array item it concerns (-1 for the value itself).
type located struct {
	Issue
	order int
	item  int
}

func (s *Schema) collect(ve *jsonschema.ValidationError, out *[]located) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			s.collect(cause, out)
		}
		return
	}

	loc := ve.InstanceLocation
	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, name := range req.Missing {
			child := append(append([]string(nil), loc...), name)
			*out = append(*out, located{
				Issue: Issue{Path: pointer(loc), Message: fmt.Sprintf("must have required property '%s'", name)},
				order: s.orderOf(pointer(child)),
				item:  -1,
			})
		}
		return
	}

	spec, order, item := s.specAt(loc)
	*out = append(*out, located{
		Issue: Issue{Path: pointer(loc), Message: issueMessage(ve.ErrorKind, spec, item)},
		order: order,
		item:  item,
	})
}

func (s *Schema) orderOf(ptr string) int {
	if i, ok := s.index[ptr]; ok {
		return i
	}
	return len(s.specs)
}

// specAt finds the spec declaring loc, or the array spec whose item loc is.
func (s *Schema) specAt(loc []string) (*compiledSpec, int, int) {
	if i, ok := s.index[pointer(loc)]; ok {
		return &s.specs[i], i, -1
	}
	if len(loc) > 0 {
		if i, ok := s.index[pointer(loc[:len(loc)-1])]; ok && s.specs[i].Items != "" {
			if n, err := strconv.Atoi(loc[len(loc)-1]); err == nil {
				return &s.specs[i], i, n
			}
		}
	}
	return nil, len(s.specs), -1
}

func issueMessage(k jsonschema.ErrorKind, spec *compiledSpec, item int) string {
	if spec != nil {
		switch k.(type) {
		case *kind.Type:
			if item >= 0 {
				return "must be " + string(spec.Items)
			}
			return "must be " + string(spec.Type)
		case *kind.Enum, *kind.Const:
			return "must be equal to one of the allowed values"
		case *kind.Format:
			return fmt.Sprintf("must match format %q", spec.Format)
		case *kind.Minimum:
			if spec.Minimum != nil {
				return "must be >= " + formatNumber(*spec.Minimum)
			}
		case *kind.Maximum:
			if spec.Maximum != nil {
				return "must be <= " + formatNumber(*spec.Maximum)
			}
		case *kind.MinItems:
			return fmt.Sprintf("must NOT have fewer than %d items", spec.MinItems)
		case *kind.MaxItems:
			return fmt.Sprintf("must NOT have more than %d items", spec.MaxItems)
		}
	}
	return k.LocalizedString(message.NewPrinter(language.English))
}

// compileJSONSchema renders the specs as a JSON Schema document and compiles it.
func compileJSONSchema(specs []compiledSpec) (*jsonschema.Schema, error) {
	root := map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    string(TypeObject),
	}
	objects := map[string]map[string]any{"": root}

	for _, c := range specs {
		node := map[string]any{"type": string(c.Type)}
		if len(c.Enum) > 0 {
			node["enum"] = c.Enum
		}
		if c.Format != "" {
			node["format"] = c.Format
		}
		if c.Minimum != nil {
			node["minimum"] = *c.Minimum
		}
		if c.Maximum != nil {
			node["maximum"] = *c.Maximum
		}
		if c.MinItems > 0 {
			node["minItems"] = c.MinItems
		}
		if c.MaxItems > 0 {
			node["maxItems"] = c.MaxItems
		}
		if c.Items != "" {
			node["items"] = map[string]any{"type": string(c.Items)}
		}

		parent := objects[c.parentPointer]
		props, _ := parent["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
			parent["properties"] = props
		}
		props[c.key] = node
		if c.Required {
			required, _ := parent["required"].([]string)
			parent["required"] = append(required, c.key)
		}
		if c.Type == TypeObject {
			objects[c.pointer] = node
		}
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	compiler.AssertFormat()
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// pointer renders path segments as a JSON pointer.
func pointer(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(strings.NewReplacer("~", "~0", "/", "~1").Replace(s))
	}
	return b.String()
}
