// Package symbology computes layer classification styles: single symbol,
// graduated (equal-interval numeric) and categorized (unique value).
// Computations are pure functions of a record snapshot; the caller stores the
// result into the layer's properties and restyles features.
package symbology

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrCannotClassify signals degenerate input (no numeric data, or all values
// equal). The caller keeps the previous symbology and notifies the user.
var ErrCannotClassify = errors.New("cannot classify")

type Mode string

const (
	ModeSingle      Mode = "single"
	ModeGraduated   Mode = "graduated"
	ModeCategorized Mode = "categorized"
)

// Config is the symbology bag stored on a layer. Exactly one branch matching
// Mode is set.
type Config struct {
	Mode        Mode              `json:"mode"`
	Single      *SingleStyle      `json:"single,omitempty"`
	Graduated   *GraduatedStyle   `json:"graduated,omitempty"`
	Categorized *CategorizedStyle `json:"categorized,omitempty"`
}

type SingleStyle struct {
	FillColor   string  `json:"fillColor"`
	BorderColor string  `json:"borderColor"`
	BorderWidth float64 `json:"borderWidth"`
	FillOpacity float64 `json:"fillOpacity"`
}

type GraduatedStyle struct {
	Field      string    `json:"field"`
	ClassCount int       `json:"classCount"`
	Breaks     []float64 `json:"breaks"`
	Colors     []string  `json:"colors"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
}

type Category struct {
	Value string `json:"value"`
	Color string `json:"color"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type CategorizedStyle struct {
	Field      string     `json:"field"`
	Categories []Category `json:"categories"`
}

// DefaultSingle is the style a fresh layer gets before the operator applies
// anything.
func DefaultSingle() Config {
	return Config{
		Mode: ModeSingle,
		Single: &SingleStyle{
			FillColor:   "#3388ff",
			BorderColor: "#2266cc",
			BorderWidth: 1,
			FillOpacity: 0.5,
		},
	}
}

// Neutral is the fallback style for feature values that match no bucket or
// category. Rendering degrades, it never fails.
func Neutral() SingleStyle {
	return SingleStyle{
		FillColor:   "#9e9e9e",
		BorderColor: "#616161",
		BorderWidth: 1,
		FillOpacity: 0.4,
	}
}

// BucketFor places v in the first bucket whose break is >= v; values above
// the last break clamp into the last bucket.
func BucketFor(g *GraduatedStyle, v float64) int {
	for i, b := range g.Breaks {
		if v <= b {
			return i
		}
	}
	return len(g.Breaks) - 1
}

// CategoryFor matches a raw field value against the categorized style.
func CategoryFor(c *CategorizedStyle, value any) (Category, bool) {
	s, ok := stringify(value)
	if !ok {
		return Category{}, false
	}
	for _, cat := range c.Categories {
		if cat.Value == s {
			return cat, true
		}
	}
	return Category{}, false
}

// StyleFor resolves the effective style for one feature's field value.
// Unmatched and non-numeric values get the neutral fallback.
func StyleFor(cfg Config, value any) SingleStyle {
	switch cfg.Mode {
	case ModeSingle:
		if cfg.Single != nil {
			return *cfg.Single
		}
	case ModeGraduated:
		if cfg.Graduated != nil {
			if f, ok := toFloat(value); ok {
				base := Neutral()
				base.FillColor = cfg.Graduated.Colors[BucketFor(cfg.Graduated, f)]
				base.FillOpacity = 0.7
				return base
			}
		}
	case ModeCategorized:
		if cfg.Categorized != nil {
			if cat, ok := CategoryFor(cfg.Categorized, value); ok {
				base := Neutral()
				base.FillColor = cat.Color
				base.FillOpacity = 0.7
				return base
			}
		}
	}
	return Neutral()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringify(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
