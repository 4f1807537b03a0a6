// Package repository provides the persistence port for MXF: a generic
// CRUD+query contract over JSON-shaped records, a composable filter tree
// translated by each adapter, and in-memory and sqlite adapters.
package repository

import (
	"fmt"
	"regexp"
	"strings"
)

// Comparison operators supported by the filter tree.
const (
	OpEq    = "eq"
	OpNe    = "ne"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpIn    = "in"
	OpNin   = "nin"
	OpRegex = "regex"
)

// Array match modes.
const (
	ArrayMatchAny = "any"
	ArrayMatchAll = "all"
)

// Comparison is a single field comparison.
type Comparison struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// ArrayContains matches array-valued fields. Value matches a single
// element; Values with Mode "any"/"all" matches multiple.
type ArrayContains struct {
	Field  string        `json:"field"`
	Value  interface{}   `json:"value,omitempty"`
	Values []interface{} `json:"values,omitempty"`
	Mode   string        `json:"mode,omitempty"`
}

// Filter is a recursive query tree. All top-level clauses are ANDed;
// Or/And nest sub-filters. Field paths use dot notation for nested
// documents (e.g. "utility.qValue").
type Filter struct {
	Where         map[string]interface{} `json:"where,omitempty"`
	Comparisons   []Comparison           `json:"comparisons,omitempty"`
	ArrayContains []ArrayContains        `json:"arrayContains,omitempty"`
	TextSearch    string                 `json:"textSearch,omitempty"`
	Or            []*Filter              `json:"or,omitempty"`
	And           []*Filter              `json:"and,omitempty"`
}

// NewFilter creates a filter with equality conditions.
func NewFilter(where map[string]interface{}) *Filter {
	return &Filter{Where: where}
}

// WithComparison appends a comparison clause and returns the filter.
func (f *Filter) WithComparison(field, op string, value interface{}) *Filter {
	f.Comparisons = append(f.Comparisons, Comparison{Field: field, Op: op, Value: value})
	return f
}

// WithArrayContains appends an array-contains clause and returns the filter.
func (f *Filter) WithArrayContains(field string, value interface{}) *Filter {
	f.ArrayContains = append(f.ArrayContains, ArrayContains{Field: field, Value: value})
	return f
}

// IsEmpty reports whether the filter has no clauses at all.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.Where) == 0 && len(f.Comparisons) == 0 && len(f.ArrayContains) == 0 &&
		f.TextSearch == "" && len(f.Or) == 0 && len(f.And) == 0
}

// Validate checks operators and match modes. Adapters call this before
// translating so bad filters surface as InvalidRequest, not backend errors.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Comparisons {
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpRegex:
		default:
			return fmt.Errorf("unknown comparison operator %q", c.Op)
		}
		if c.Field == "" {
			return fmt.Errorf("comparison is missing a field")
		}
	}
	for _, a := range f.ArrayContains {
		if a.Field == "" {
			return fmt.Errorf("arrayContains is missing a field")
		}
		if a.Mode != "" && a.Mode != ArrayMatchAny && a.Mode != ArrayMatchAll {
			return fmt.Errorf("unknown array match mode %q", a.Mode)
		}
	}
	for _, sub := range f.Or {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	for _, sub := range f.And {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates the filter as a predicate against a JSON-shaped
// document. This is the reference semantics every adapter must agree with.
func (f *Filter) Matches(doc map[string]interface{}) bool {
	if f.IsEmpty() {
		return true
	}

	for field, expected := range f.Where {
		actual, ok := lookupField(doc, field)
		if !ok || !valuesEqual(actual, expected) {
			return false
		}
	}

	for _, c := range f.Comparisons {
		if !c.matches(doc) {
			return false
		}
	}

	for _, a := range f.ArrayContains {
		if !a.matches(doc) {
			return false
		}
	}

	if f.TextSearch != "" && !textSearchMatches(doc, f.TextSearch) {
		return false
	}

	if len(f.Or) > 0 {
		matched := false
		for _, sub := range f.Or {
			if sub.Matches(doc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, sub := range f.And {
		if !sub.Matches(doc) {
			return false
		}
	}

	return true
}

func (c Comparison) matches(doc map[string]interface{}) bool {
	actual, ok := lookupField(doc, c.Field)

	switch c.Op {
	case OpEq:
		return ok && valuesEqual(actual, c.Value)
	case OpNe:
		return !ok || !valuesEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !ok {
			return false
		}
		cmp, comparable := compareValues(actual, c.Value)
		if !comparable {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		if !ok {
			return false
		}
		for _, v := range toSlice(c.Value) {
			if valuesEqual(actual, v) {
				return true
			}
		}
		return false
	case OpNin:
		if !ok {
			return true
		}
		for _, v := range toSlice(c.Value) {
			if valuesEqual(actual, v) {
				return false
			}
		}
		return true
	case OpRegex:
		if !ok {
			return false
		}
		pattern, isString := c.Value.(string)
		if !isString {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", actual))
	}

	return false
}

func (a ArrayContains) matches(doc map[string]interface{}) bool {
	raw, ok := lookupField(doc, a.Field)
	if !ok {
		return false
	}
	elems := toSlice(raw)

	contains := func(want interface{}) bool {
		for _, e := range elems {
			if valuesEqual(e, want) {
				return true
			}
		}
		return false
	}

	if len(a.Values) > 0 {
		if a.Mode == ArrayMatchAll {
			for _, want := range a.Values {
				if !contains(want) {
					return false
				}
			}
			return true
		}
		for _, want := range a.Values {
			if contains(want) {
				return true
			}
		}
		return false
	}

	return contains(a.Value)
}

// textSearchMatches does a case-insensitive substring match over all
// string-valued fields of the document, one level of nesting deep.
func textSearchMatches(doc map[string]interface{}, query string) bool {
	needle := strings.ToLower(query)
	for _, v := range doc {
		switch val := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(val), needle) {
				return true
			}
		case map[string]interface{}:
			for _, nested := range val {
				if s, ok := nested.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
		case []interface{}:
			for _, elem := range val {
				if s, ok := elem.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
		}
	}
	return false
}

// lookupField resolves a dot-separated field path in a document.
func lookupField(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// valuesEqual compares two values with numeric coercion. JSON decoding
// turns all numbers into float64, so ints from callers must still match.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues orders two values. Numbers compare numerically, strings
// lexically. Returns comparable=false for mixed or unordered types.
func compareValues(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}
