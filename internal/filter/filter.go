// Package filter evaluates attribute predicates against a layer's records
// and toggles feature visibility on the rendering surface. Features are
// never removed from the layer, only hidden.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/geogismaps/geogrid/internal/layer"
)

type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpGreater    Operator = "greater_than"
	OpLess       Operator = "less_than"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
)

type Rule struct {
	Field string   `json:"field"`
	Op    Operator `json:"operator"`
	Value string   `json:"value"`
}

// Apply evaluates the conjunction of rules against every feature's record.
// An empty rule set restores full visibility. Returns the visible count.
func Apply(l *layer.Layer, rules []Rule) int {
	if len(rules) == 0 {
		return l.ApplyVisibility(func(map[string]any) bool { return true })
	}
	return l.ApplyVisibility(func(fields map[string]any) bool {
		return Matches(fields, rules)
	})
}

// Matches reports whether a record satisfies every rule (AND).
func Matches(fields map[string]any, rules []Rule) bool {
	for _, r := range rules {
		if !matchOne(fields[r.Field], r) {
			return false
		}
	}
	return true
}

func matchOne(value any, r Rule) bool {
	s := stringValue(value)
	switch r.Op {
	case OpIsEmpty:
		return strings.TrimSpace(s) == ""
	case OpIsNotEmpty:
		return strings.TrimSpace(s) != ""
	}

	switch r.Op {
	case OpEquals:
		return strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(r.Value))
	case OpContains:
		return strings.Contains(strings.ToLower(s), strings.ToLower(r.Value))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), strings.ToLower(strings.TrimSpace(r.Value)))
	case OpGreater, OpLess:
		fv, ok1 := toFloat(s)
		rv, ok2 := toFloat(r.Value)
		if !ok1 || !ok2 {
			return false
		}
		if r.Op == OpGreater {
			return fv > rv
		}
		return fv < rv
	default:
		return false
	}
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
