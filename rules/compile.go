package rules

import (
	"regexp"
	"strings"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/record"
)

// Set is a compiled, read-only list of rules. It is safe for concurrent use.
type Set struct {
	rules []*compiled
}

type compiled struct {
	Rule
	label    string
	fields   []record.Field
	exempt   record.Field
	patterns []*regexp.Regexp
	keywords []string
	values   map[string]struct{}
}

// arity is the number of fields a kind reads; -1 means one or more, 0 none.
var arity = map[Kind]int{
	KindRange:            1,
	KindOrder:            2,
	KindNotFuture:        -1,
	KindNotExceeding:     2,
	KindFlagRequired:     1,
	KindFlagForbidden:    1,
	KindEquals:           1,
	KindKeywords:         0,
	KindPatterns:         0,
	KindRequired:         -1,
	KindQualityThreshold: 0,
	KindCoordinateBounds: 0,
	KindRegion:           1,
}

var defaultLabels = map[Kind]string{
	KindQualityThreshold: string(record.FieldQuality),
	KindCoordinateBounds: string(record.FieldCoordinates),
}

// Compile checks every rule and builds an immutable Set. Rule order is kept:
// findings are reported in the order rules are given.
func Compile(defs []Rule) (*Set, error) {
	seen := make(map[string]struct{}, len(defs))
	set := &Set{rules: make([]*compiled, 0, len(defs))}

	for i, def := range defs {
		if def.ID == "" {
			return nil, errors.Newf("rule %d: missing id", i)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, errors.Newf("rule %s: duplicate id", def.ID)
		}
		seen[def.ID] = struct{}{}

		c, err := compile(def)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", def.ID)
		}
		set.rules = append(set.rules, c)
	}
	return set, nil
}

// MustCompile is Compile for built-in rule lists; it panics on error.
func MustCompile(defs []Rule) *Set {
	set, err := Compile(defs)
	if err != nil {
		panic(err)
	}
	return set
}

func compile(def Rule) (*compiled, error) {
	if _, ok := kinds[def.Kind]; !ok {
		return nil, errors.Newf("unknown kind %q", def.Kind)
	}
	if _, err := ParseSeverity(string(def.Severity)); err != nil {
		return nil, err
	}
	if def.Message == "" {
		return nil, errors.New("missing message")
	}

	c := &compiled{Rule: def}

	switch want := arity[def.Kind]; {
	case want > 0 && len(def.Fields) != want:
		return nil, errors.Newf("%s takes %d field(s), got %d", def.Kind, want, len(def.Fields))
	case want < 0 && len(def.Fields) == 0:
		return nil, errors.Newf("%s takes at least one field", def.Kind)
	case want == 0 && len(def.Fields) > 0:
		return nil, errors.Newf("%s takes no fields", def.Kind)
	}
	for _, name := range def.Fields {
		f, err := record.ParseField(name)
		if err != nil {
			return nil, err
		}
		c.fields = append(c.fields, f)
	}

	if def.Exempt != "" {
		f, err := record.ParseField(def.Exempt)
		if err != nil {
			return nil, errors.Wrap(err, "exempt")
		}
		c.exempt = f
	}

	switch def.Kind {
	case KindRange:
		if def.Min == nil && def.Max == nil {
			return nil, errors.New("range needs min or max")
		}
		if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
			return nil, errors.Newf("range min %v exceeds max %v", *def.Min, *def.Max)
		}
	case KindKeywords:
		if len(def.Keywords) == 0 {
			return nil, errors.New("keywords list is empty")
		}
		for _, kw := range def.Keywords {
			c.keywords = append(c.keywords, strings.ToLower(kw))
		}
	case KindPatterns:
		if len(def.Patterns) == 0 {
			return nil, errors.New("patterns list is empty")
		}
		for _, p := range def.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, errors.Wrapf(err, "pattern %q", p)
			}
			c.patterns = append(c.patterns, re)
		}
	case KindRegion:
		if len(def.Values) == 0 {
			return nil, errors.New("region values list is empty")
		}
		c.values = make(map[string]struct{}, len(def.Values))
		for _, v := range def.Values {
			c.values[v] = struct{}{}
		}
	case KindQualityThreshold:
		if t := def.Thresholds; t != nil {
			for _, v := range []float64{t.Completeness, t.Accuracy, t.Consistency} {
				if v < 0 || v > 1 {
					return nil, errors.Newf("threshold %v outside [0,1]", v)
				}
			}
		}
	}

	switch {
	case def.Field != "":
		c.label = def.Field
	case len(c.fields) > 0:
		c.label = string(c.fields[0])
	default:
		c.label = defaultLabels[def.Kind]
	}
	return c, nil
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns a copy of the rule definitions in evaluation order.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i, c := range s.rules {
		out[i] = c.Rule
	}
	return out
}

// Lookup returns the definition of the rule with the given id.
func (s *Set) Lookup(id string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	for _, c := range s.rules {
		if c.ID == id {
			return c.Rule, true
		}
	}
	return Rule{}, false
}
