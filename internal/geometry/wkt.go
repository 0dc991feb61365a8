package geometry

import (
	"regexp"
	"strconv"
	"strings"
)

// Parse converts a WKT string into a Geometry. Malformed, unsupported or
// empty input yields nil, never an error: a record with bad geometry text is
// excluded from rendering, not fatal. Logging of parse failures is the
// caller's job.
func Parse(wkt string) Geometry {
	s := strings.TrimSpace(wkt)
	if s == "" {
		return nil
	}

	upper := strings.ToUpper(s)
	var keyword string
	// longest keywords first so POINT does not match MULTIPOINT
	for _, kw := range []string{
		"MULTILINESTRING", "MULTIPOLYGON", "MULTIPOINT",
		"LINESTRING", "POLYGON", "POINT",
	} {
		if strings.HasPrefix(upper, kw) {
			// the keyword must stand alone: POINTER or POINTZ is not POINT
			rest := strings.TrimLeft(upper[len(kw):], " \t\r\n")
			if !strings.HasPrefix(rest, "(") {
				return nil
			}
			keyword = kw
			break
		}
	}
	if keyword == "" {
		return nil
	}

	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open < 0 || end < open {
		return nil
	}
	body := normalizeBody(s[open+1 : end])
	if body == "" {
		return nil
	}

	switch keyword {
	case "POINT":
		return parsePoint(body)
	case "MULTIPOINT":
		return parseMultiPoint(body)
	case "LINESTRING":
		return parseLineString(body)
	case "MULTILINESTRING":
		return parseMultiLineString(body)
	case "POLYGON":
		return parsePolygon(body)
	case "MULTIPOLYGON":
		return parseMultiPolygon(body)
	}
	return nil
}

var aroundPunct = regexp.MustCompile(`\s*([(),])\s*`)

// collapses whitespace around parens and commas so ring/member boundaries
// split on exact tokens regardless of input spacing
func normalizeBody(s string) string {
	return strings.TrimSpace(aroundPunct.ReplaceAllString(s, "$1"))
}

// parsePair reads one "<lon> <lat>" token, swaps to lat/lng and drops pairs
// outside the valid coordinate range.
func parsePair(token string) (Point, bool) {
	fields := strings.Fields(strings.Trim(token, "() \t"))
	if len(fields) < 2 {
		return Point{}, false
	}
	lng, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, false
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lng: lng}, true
}

func parsePairs(body string) []Point {
	var pts []Point
	for _, token := range strings.Split(body, ",") {
		if p, ok := parsePair(token); ok {
			pts = append(pts, p)
		}
	}
	return pts
}

func parsePoint(body string) Geometry {
	p, ok := parsePair(body)
	if !ok {
		return nil
	}
	return p
}

// parseMultiPoint accepts both WKT variants: "MULTIPOINT((1 2),(3 4))" and
// "MULTIPOINT(1 2,3 4)". parsePair strips per-point parens either way.
func parseMultiPoint(body string) Geometry {
	pts := parsePairs(body)
	if len(pts) == 0 {
		return nil
	}
	return MultiPoint{Points: pts}
}

func parseLineString(body string) Geometry {
	pts := parsePairs(body)
	if len(pts) < 2 {
		return nil
	}
	return LineString{Coords: pts}
}

func parseMultiLineString(body string) Geometry {
	var lines []LineString
	for _, part := range strings.Split(body, "),(") {
		pts := parsePairs(strings.Trim(part, "()"))
		if len(pts) < 2 {
			continue
		}
		lines = append(lines, LineString{Coords: pts})
	}
	if len(lines) == 0 {
		return nil
	}
	return MultiLineString{Lines: lines}
}

// parseRing accepts a ring with at least 3 valid coordinates and closes it by
// duplicating the first coordinate when the input left it open.
func parseRing(part string) ([]Point, bool) {
	pts := parsePairs(strings.Trim(part, "()"))
	if len(pts) < 3 {
		return nil, false
	}
	if pts[0] != pts[len(pts)-1] {
		pts = append(pts, pts[0])
	}
	if len(pts) < 4 {
		return nil, false
	}
	return pts, true
}

func parseRings(body string) [][]Point {
	var rings [][]Point
	for _, part := range strings.Split(body, "),(") {
		if ring, ok := parseRing(part); ok {
			rings = append(rings, ring)
		}
	}
	return rings
}

func parsePolygon(body string) Geometry {
	rings := parseRings(body)
	if len(rings) == 0 {
		return nil
	}
	return Polygon{Rings: rings}
}

func parseMultiPolygon(body string) Geometry {
	var polys []Polygon
	for _, chunk := range strings.Split(body, ")),((") {
		rings := parseRings(strings.Trim(chunk, "()"))
		if len(rings) == 0 {
			continue
		}
		polys = append(polys, Polygon{Rings: rings})
	}
	if len(polys) == 0 {
		return nil
	}
	return MultiPolygon{Polygons: polys}
}
