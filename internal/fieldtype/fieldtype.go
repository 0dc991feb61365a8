// Package fieldtype infers grid column types and converts staged edit input.
// A column's type is inferred once from its existing values and cached by the
// edit session, so conversion rules stay deterministic across edits.
package fieldtype

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	Number  Type = "number"
	Boolean Type = "boolean"
	Date    Type = "date"
	Text    Type = "text"
)

const dateLayout = "2006-01-02"

// ValidationError reports a staged value that cannot be converted to the
// column's type. It never reaches the pending-edit map.
type ValidationError struct {
	Field string
	Raw   string
	Want  Type
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: cannot convert %q to %s", e.Field, e.Raw, e.Want)
}

// InferColumn derives a column type from its existing non-empty values.
// Every sampled value must agree; any disagreement falls back to text.
func InferColumn(values []any) Type {
	inferred := Type("")
	for _, v := range values {
		if v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s == "" {
			continue
		}
		t := InferValue(s)
		if inferred == "" {
			inferred = t
			continue
		}
		if t != inferred {
			return Text
		}
	}
	if inferred == "" {
		return Text
	}
	return inferred
}

// InferValue pattern-matches a single raw input. Used as the fallback when a
// column has no existing values to sample.
func InferValue(raw string) Type {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Text
	}
	if isBool(s) {
		return Boolean
	}
	if _, err := time.Parse(dateLayout, s); err == nil {
		return Date
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return Number
	}
	return Text
}

func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

// Convert turns raw grid input into the typed value stored in the record.
func Convert(field, raw string, t Type) (any, error) {
	s := strings.TrimSpace(raw)
	switch t {
	case Number:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, &ValidationError{Field: field, Raw: raw, Want: Number}
		}
		return f, nil
	case Boolean:
		switch strings.ToLower(s) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &ValidationError{Field: field, Raw: raw, Want: Boolean}
	case Date:
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, &ValidationError{Field: field, Raw: raw, Want: Date}
		}
		return s, nil
	default:
		return raw, nil
	}
}
