package symbology

import (
	"fmt"
	"math"
)

// hslToHex converts h in [0,360), s and l in [0,100] to an RGB hex string.
func hslToHex(h, s, l float64) string {
	h = math.Mod(math.Mod(h, 360)+360, 360)
	sf := s / 100
	lf := l / 100

	c := (1 - math.Abs(2*lf-1)) * sf
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := lf - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return fmt.Sprintf("#%02x%02x%02x",
		int(math.Round((r+m)*255)),
		int(math.Round((g+m)*255)),
		int(math.Round((b+m)*255)))
}
