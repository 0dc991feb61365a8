// Package geometry holds the parsed geometry model rendered by map layers.
// Coordinates are stored latitude-first, matching the rendering surface;
// WKT input is longitude-first and gets swapped by the parser.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type Type string

const (
	TypePoint           Type = "Point"
	TypeMultiPoint      Type = "MultiPoint"
	TypeLineString      Type = "LineString"
	TypeMultiLineString Type = "MultiLineString"
	TypePolygon         Type = "Polygon"
	TypeMultiPolygon    Type = "MultiPolygon"
)

// Geometry is the tagged union of shapes a geometry text field can carry.
type Geometry interface {
	GeomType() Type
	Bound() orb.Bound
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type MultiPoint struct {
	Points []Point `json:"points"`
}

type LineString struct {
	Coords []Point `json:"coords"`
}

type MultiLineString struct {
	Lines []LineString `json:"lines"`
}

// Polygon rings follow WKT convention: first ring is the outer boundary,
// the rest are holes. Every ring is closed (first == last coordinate).
type Polygon struct {
	Rings [][]Point `json:"rings"`
}

type MultiPolygon struct {
	Polygons []Polygon `json:"polygons"`
}

func (p Point) GeomType() Type           { return TypePoint }
func (m MultiPoint) GeomType() Type      { return TypeMultiPoint }
func (l LineString) GeomType() Type      { return TypeLineString }
func (m MultiLineString) GeomType() Type { return TypeMultiLineString }
func (p Polygon) GeomType() Type         { return TypePolygon }
func (m MultiPolygon) GeomType() Type    { return TypeMultiPolygon }

func (p Point) orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

func (l LineString) orb() orb.LineString {
	ls := make(orb.LineString, 0, len(l.Coords))
	for _, c := range l.Coords {
		ls = append(ls, c.orb())
	}
	return ls
}

func (p Polygon) orb() orb.Polygon {
	poly := make(orb.Polygon, 0, len(p.Rings))
	for _, ring := range p.Rings {
		r := make(orb.Ring, 0, len(ring))
		for _, c := range ring {
			r = append(r, c.orb())
		}
		poly = append(poly, r)
	}
	return poly
}

func (p Point) Bound() orb.Bound { return p.orb().Bound() }

func (m MultiPoint) Bound() orb.Bound {
	mp := make(orb.MultiPoint, 0, len(m.Points))
	for _, p := range m.Points {
		mp = append(mp, p.orb())
	}
	return mp.Bound()
}

func (l LineString) Bound() orb.Bound { return l.orb().Bound() }

func (m MultiLineString) Bound() orb.Bound {
	mls := make(orb.MultiLineString, 0, len(m.Lines))
	for _, l := range m.Lines {
		mls = append(mls, l.orb())
	}
	return mls.Bound()
}

func (p Polygon) Bound() orb.Bound { return p.orb().Bound() }

func (m MultiPolygon) Bound() orb.Bound {
	mp := make(orb.MultiPolygon, 0, len(m.Polygons))
	for _, p := range m.Polygons {
		mp = append(mp, p.orb())
	}
	return mp.Bound()
}

// PlanarArea returns the planar (unprojected degrees) area of polygonal
// geometry and 0 for everything else. Good enough for popup display; true
// geodesic area is out of scope.
func PlanarArea(g Geometry) float64 {
	switch v := g.(type) {
	case Polygon:
		return planar.Area(v.orb())
	case MultiPolygon:
		a := 0.0
		for _, p := range v.Polygons {
			a += planar.Area(p.orb())
		}
		return a
	default:
		return 0
	}
}

// Centroid returns a representative point for labeling.
func Centroid(g Geometry) Point {
	var og orb.Geometry
	switch v := g.(type) {
	case Point:
		return v
	case MultiPoint:
		mp := make(orb.MultiPoint, 0, len(v.Points))
		for _, p := range v.Points {
			mp = append(mp, p.orb())
		}
		og = mp
	case LineString:
		og = v.orb()
	case MultiLineString:
		mls := make(orb.MultiLineString, 0, len(v.Lines))
		for _, l := range v.Lines {
			mls = append(mls, l.orb())
		}
		og = mls
	case Polygon:
		og = v.orb()
	case MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(v.Polygons))
		for _, p := range v.Polygons {
			mp = append(mp, p.orb())
		}
		og = mp
	default:
		return Point{}
	}
	c, _ := planar.CentroidArea(og)
	return Point{Lat: c[1], Lng: c[0]}
}
