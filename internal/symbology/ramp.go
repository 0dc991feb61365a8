package symbology

import "sort"

// Named color ramps for graduated classification. Stops run light to dark.
var ramps = map[string][]string{
	"YlOrRd":  {"#ffffb2", "#fed976", "#feb24c", "#fd8d3c", "#f03b20", "#bd0026"},
	"Blues":   {"#eff3ff", "#c6dbef", "#9ecae1", "#6baed6", "#3182bd", "#08519c"},
	"Greens":  {"#edf8e9", "#c7e9c0", "#a1d99b", "#74c476", "#31a354", "#006d2c"},
	"Reds":    {"#fee5d9", "#fcbba1", "#fc9272", "#fb6a4a", "#de2d26", "#a50f15"},
	"Purples": {"#f2f0f7", "#dadaeb", "#bcbddc", "#9e9ac8", "#756bb1", "#54278f"},
	"Greys":   {"#f7f7f7", "#d9d9d9", "#bdbdbd", "#969696", "#636363", "#252525"},
}

const defaultRamp = "YlOrRd"

// RampNames lists the available ramps, sorted, for the symbology dialog and
// for error messages on unknown ramp names.
func RampNames() []string {
	names := make([]string, 0, len(ramps))
	for n := range ramps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rampColors picks n colors from the named ramp. When n exceeds the ramp's
// native stop count, colors repeat by nearest lower stop; this is a
// documented approximation, not true interpolation.
func rampColors(name string, n int) []string {
	stops, ok := ramps[name]
	if !ok {
		stops = ramps[defaultRamp]
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	if n == 1 {
		out[0] = stops[len(stops)/2]
		return out
	}
	if n <= len(stops) {
		// spread across the ramp, endpoints included
		for i := 0; i < n; i++ {
			out[i] = stops[i*(len(stops)-1)/(n-1)]
		}
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = stops[i*len(stops)/n]
	}
	return out
}
