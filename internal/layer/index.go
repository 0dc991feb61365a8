package layer

import (
	"github.com/dhconnelly/rtreego"
)

// rtreego rejects zero-length rectangle sides, so point features get a tiny
// box around themselves.
const minRectSide = 1e-9

type featureIndex struct {
	tree *rtreego.Rtree
}

type indexedFeature struct {
	f    *Feature
	rect rtreego.Rect
}

func (e *indexedFeature) Bounds() rtreego.Rect { return e.rect }

func featureRect(f *Feature) rtreego.Rect {
	b := f.Geom.Bound()
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	if w < minRectSide {
		w = minRectSide
	}
	if h < minRectSide {
		h = minRectSide
	}
	rect, err := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
	if err != nil {
		// degenerate input was already clamped; fall back to a unit-ish box
		rect, _ = rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{minRectSide, minRectSide})
	}
	return rect
}

func newFeatureIndex(features []*Feature) *featureIndex {
	tree := rtreego.NewTree(2, 25, 50)
	for _, f := range features {
		tree.Insert(&indexedFeature{f: f, rect: featureRect(f)})
	}
	return &featureIndex{tree: tree}
}

func (ix *featureIndex) search(minLng, minLat, maxLng, maxLat float64) []*Feature {
	w := maxLng - minLng
	h := maxLat - minLat
	if w < minRectSide {
		w = minRectSide
	}
	if h < minRectSide {
		h = minRectSide
	}
	rect, err := rtreego.NewRect(rtreego.Point{minLng, minLat}, []float64{w, h})
	if err != nil {
		return nil
	}
	hits := ix.tree.SearchIntersect(rect)
	out := make([]*Feature, 0, len(hits))
	for _, hit := range hits {
		if e, ok := hit.(*indexedFeature); ok {
			out = append(out, e.f)
		}
	}
	return out
}
