package geometry

import (
	"math"
	"testing"
)

func TestBound_Point(t *testing.T) {
	p := Point{Lat: 59.3, Lng: 18.0}
	b := p.Bound()
	if b.Min[0] != 18.0 || b.Min[1] != 59.3 || b.Max[0] != 18.0 || b.Max[1] != 59.3 {
		t.Fatalf("unexpected bound: %+v", b)
	}
}

func TestBound_PolygonCoversAllRingCoords(t *testing.T) {
	g := Parse("POLYGON((0 0,4 0,4 4,0 4,0 0))")
	b := g.Bound()
	if b.Min[0] != 0 || b.Min[1] != 0 || b.Max[0] != 4 || b.Max[1] != 4 {
		t.Fatalf("unexpected bound: %+v", b)
	}
}

func TestBound_MultiLineStringUnion(t *testing.T) {
	g := Parse("MULTILINESTRING((0 0,1 1),(5 5,6 7))")
	b := g.Bound()
	if b.Max[0] != 6 || b.Max[1] != 7 {
		t.Fatalf("bound should union all members: %+v", b)
	}
}

func TestPlanarArea_Square(t *testing.T) {
	g := Parse("POLYGON((0 0,4 0,4 4,0 4,0 0))")
	if a := PlanarArea(g); math.Abs(a-16) > 1e-9 {
		t.Fatalf("expected area 16, got %f", a)
	}
	if a := PlanarArea(Point{}); a != 0 {
		t.Fatalf("non-polygonal geometry has zero area, got %f", a)
	}
}

func TestCentroid_Square(t *testing.T) {
	g := Parse("POLYGON((0 0,4 0,4 4,0 4,0 0))")
	c := Centroid(g)
	if math.Abs(c.Lat-2) > 1e-9 || math.Abs(c.Lng-2) > 1e-9 {
		t.Fatalf("expected centroid (2,2), got %+v", c)
	}
}
