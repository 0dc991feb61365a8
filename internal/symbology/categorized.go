package symbology

import (
	"fmt"

	"github.com/geogismaps/geogrid/internal/store"
)

// lightness cycles so adjacent hues stay distinguishable on dense maps
var categoryLightness = []float64{50, 62, 42}

const categorySaturation = 65.0

// ComputeCategorized maps every distinct non-empty stringified value of field
// to one color via an evenly spaced hue rotation. Category order is
// first-seen record order, which is deterministic for a given snapshot.
func ComputeCategorized(records []store.Record, field string) (*CategorizedStyle, error) {
	counts := map[string]int{}
	var order []string
	for _, rec := range records {
		s, ok := stringify(rec.Fields[field])
		if !ok {
			continue
		}
		if _, seen := counts[s]; !seen {
			order = append(order, s)
		}
		counts[s]++
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("categorized classification of %q: no values: %w", field, ErrCannotClassify)
	}

	cats := make([]Category, len(order))
	for i, v := range order {
		hue := float64(i) * 360 / float64(len(order))
		cats[i] = Category{
			Value: v,
			Color: hslToHex(hue, categorySaturation, categoryLightness[i%len(categoryLightness)]),
			Label: v,
			Count: counts[v],
		}
	}
	return &CategorizedStyle{Field: field, Categories: cats}, nil
}
