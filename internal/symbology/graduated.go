package symbology

import (
	"fmt"
	"sort"

	"github.com/geogismaps/geogrid/internal/store"
)

// ComputeGraduated builds equal-interval classes over the numeric values of
// field. Non-numeric and absent values are ignored; an empty or degenerate
// value set (all equal) yields ErrCannotClassify and no symbology change.
func ComputeGraduated(records []store.Record, field string, classCount int, rampName string) (*GraduatedStyle, error) {
	if classCount < 1 {
		return nil, fmt.Errorf("graduated classification: class count %d: %w", classCount, ErrCannotClassify)
	}

	var values []float64
	for _, rec := range records {
		if f, ok := toFloat(rec.Fields[field]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("graduated classification of %q: no numeric values: %w", field, ErrCannotClassify)
	}

	sort.Float64s(values)
	min, max := values[0], values[len(values)-1]
	if min == max {
		return nil, fmt.Errorf("graduated classification of %q: degenerate range [%g,%g]: %w", field, min, max, ErrCannotClassify)
	}

	interval := (max - min) / float64(classCount)
	breaks := make([]float64, classCount)
	for i := 1; i <= classCount; i++ {
		breaks[i-1] = min + float64(i)*interval
	}
	// float accumulation can land the last break a hair under max
	breaks[classCount-1] = max

	return &GraduatedStyle{
		Field:      field,
		ClassCount: classCount,
		Breaks:     breaks,
		Colors:     rampColors(rampName, classCount),
		Min:        min,
		Max:        max,
	}, nil
}
