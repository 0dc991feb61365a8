// Package layer builds and owns the in-memory rendering model for one added
// data source: the record mirror, the parsed sub-features, bounds and the
// properties bag.
package layer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/geogismaps/geogrid/internal/geometry"
	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/store"
	"github.com/geogismaps/geogrid/internal/symbology"
)

// ErrNoValidGeometry is reported when no record in the table yields a single
// renderable sub-feature; the layer is not created.
var ErrNoValidGeometry = errors.New("no valid geometry")

type Config struct {
	Name          string `json:"name"`
	TableID       string `json:"tableId"`
	GeometryField string `json:"geometryField"`
}

type LabelConfig struct {
	Enabled bool   `json:"enabled"`
	Field   string `json:"field"`
	Size    int    `json:"size"`
	Color   string `json:"color"`
}

type PopupConfig struct {
	Enabled bool     `json:"enabled"`
	Fields  []string `json:"fields"` // empty means all visible fields
}

// Properties is an immutable value replaced wholesale on every apply action,
// never patched per key.
type Properties struct {
	Symbology symbology.Config `json:"symbology"`
	Labels    LabelConfig      `json:"labels"`
	Popup     PopupConfig      `json:"popup"`
}

// Feature is one renderable sub-feature: a single geometry member tagged with
// its owning record. Multi-part geometries explode into one Feature per
// member. Lookup is always by record id, never by slice position.
type Feature struct {
	RecordID    string
	RecordIndex int // position in the record snapshot at build time
	Member      int // member index within the record's geometry
	Geom        geometry.Geometry
	Visible     bool
}

type Layer struct {
	ID            string
	Name          string
	TableID       string
	GeometryField string

	mu       sync.RWMutex
	visible  bool
	records  []store.Record
	recIndex map[string]int        // record id -> position in records
	features []*Feature
	byRecord map[string][]*Feature
	bounds   *orb.Bound
	props    Properties
	tree     *featureIndex
}

// explode splits multi-part geometry into its renderable members.
func explode(g geometry.Geometry) []geometry.Geometry {
	switch v := g.(type) {
	case geometry.MultiPoint:
		out := make([]geometry.Geometry, len(v.Points))
		for i, p := range v.Points {
			out[i] = p
		}
		return out
	case geometry.MultiLineString:
		out := make([]geometry.Geometry, len(v.Lines))
		for i, l := range v.Lines {
			out[i] = l
		}
		return out
	case geometry.MultiPolygon:
		out := make([]geometry.Geometry, len(v.Polygons))
		for i, p := range v.Polygons {
			out[i] = p
		}
		return out
	default:
		return []geometry.Geometry{g}
	}
}

func featuresForRecord(rec store.Record, recordIndex int, geometryField string) []*Feature {
	wkt, _ := rec.Fields[geometryField].(string)
	g := geometry.Parse(wkt)
	if g == nil {
		return nil
	}
	members := explode(g)
	out := make([]*Feature, 0, len(members))
	for m, member := range members {
		out = append(out, &Feature{
			RecordID:    rec.ID,
			RecordIndex: recordIndex,
			Member:      m,
			Geom:        member,
			Visible:     true,
		})
	}
	return out
}

// Build materializes a layer from a record snapshot. Records whose geometry
// text does not parse stay in the record mirror (the attribute grid shows
// them) but produce no features. Zero features fails the build.
func Build(id string, records []store.Record, cfg Config) (*Layer, error) {
	if cfg.GeometryField == "" {
		return nil, fmt.Errorf("build layer %q: geometry field is required", cfg.Name)
	}

	l := &Layer{
		ID:            id,
		Name:          cfg.Name,
		TableID:       cfg.TableID,
		GeometryField: cfg.GeometryField,
		visible:       true,
		records:       make([]store.Record, 0, len(records)),
		recIndex:      make(map[string]int, len(records)),
		byRecord:      make(map[string][]*Feature),
		props:         Properties{Symbology: symbology.DefaultSingle()},
	}

	valid, invalid := 0, 0
	for i, rec := range records {
		l.records = append(l.records, rec.Clone())
		l.recIndex[rec.ID] = i
		feats := featuresForRecord(rec, i, cfg.GeometryField)
		if len(feats) == 0 {
			invalid++
			continue
		}
		valid++
		l.features = append(l.features, feats...)
		l.byRecord[rec.ID] = feats
	}
	observability.AddParsedGeometries(valid, invalid)

	if len(l.features) == 0 {
		return nil, fmt.Errorf("build layer %q from table %q: %w", cfg.Name, cfg.TableID, ErrNoValidGeometry)
	}

	l.recomputeBounds()
	l.tree = newFeatureIndex(l.features)
	return l, nil
}

// recomputeBounds unions all feature bounds; an empty feature set leaves
// bounds nil without failing.
func (l *Layer) recomputeBounds() {
	if len(l.features) == 0 {
		l.bounds = nil
		return
	}
	b := l.features[0].Geom.Bound()
	for _, f := range l.features[1:] {
		b = b.Union(f.Geom.Bound())
	}
	l.bounds = &b
}

func (l *Layer) Bounds() *orb.Bound {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.bounds == nil {
		return nil
	}
	b := *l.bounds
	return &b
}

func (l *Layer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

func (l *Layer) SetVisible(v bool) {
	l.mu.Lock()
	l.visible = v
	l.mu.Unlock()
}

// Records returns a copy of the record mirror.
func (l *Layer) Records() []store.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]store.Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Layer) RecordByID(id string) (store.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.recIndex[id]
	if !ok {
		return store.Record{}, false
	}
	return l.records[i], true
}

func (l *Layer) RecordCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Features returns the current feature slice. Callers treat it as read-only;
// visibility changes go through ApplyVisibility.
func (l *Layer) Features() []*Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Feature, len(l.features))
	copy(out, l.features)
	return out
}

func (l *Layer) FeaturesFor(recordID string) []*Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byRecord[recordID]
}

// Properties returns the current properties value.
func (l *Layer) Properties() Properties {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.props
}

// SetProperties replaces the whole bag atomically and returns the features
// that need restyling (all of them: symbology, labels and popups are
// layer-wide).
func (l *Layer) SetProperties(p Properties) []*Feature {
	l.mu.Lock()
	l.props = p
	out := make([]*Feature, len(l.features))
	copy(out, l.features)
	l.mu.Unlock()
	return out
}

// ApplyVisibility toggles each feature's render-surface membership from its
// owning record's fields. Features are never removed, only hidden.
func (l *Layer) ApplyVisibility(show func(fields map[string]any) bool) (visible int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.features {
		rec := l.records[l.recIndex[f.RecordID]]
		f.Visible = show(rec.Fields)
		if f.Visible {
			visible++
		}
	}
	return visible
}

// ApplyRecordUpdate patches the mirror after a confirmed remote update. When
// the geometry field changed, the record's features are rebuilt; a record
// whose geometry became unparseable keeps its grid row but loses its
// features.
func (l *Layer) ApplyRecordUpdate(recordID string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.recIndex[recordID]
	if !ok {
		return fmt.Errorf("apply update: record %q not in layer %q", recordID, l.ID)
	}
	geomChanged := false
	for k, v := range fields {
		l.records[i].Fields[k] = v
		if k == l.GeometryField {
			geomChanged = true
		}
	}
	if geomChanged {
		l.rebuildRecordFeaturesLocked(recordID, i)
	}
	return nil
}

// AddRecord mirrors a confirmed create.
func (l *Layer) AddRecord(rec store.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := len(l.records)
	l.records = append(l.records, rec.Clone())
	l.recIndex[rec.ID] = i
	l.rebuildRecordFeaturesLocked(rec.ID, i)
}

// RemoveRecord mirrors a confirmed delete.
func (l *Layer) RemoveRecord(recordID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.recIndex[recordID]
	if !ok {
		return
	}
	l.records = append(l.records[:i], l.records[i+1:]...)
	delete(l.recIndex, recordID)
	for j := i; j < len(l.records); j++ {
		l.recIndex[l.records[j].ID] = j
	}
	l.dropRecordFeaturesLocked(recordID)
	l.recomputeBounds()
	l.tree = newFeatureIndex(l.features)
}

func (l *Layer) dropRecordFeaturesLocked(recordID string) {
	if _, ok := l.byRecord[recordID]; !ok {
		return
	}
	kept := l.features[:0]
	for _, f := range l.features {
		if f.RecordID != recordID {
			kept = append(kept, f)
		}
	}
	l.features = kept
	delete(l.byRecord, recordID)
}

func (l *Layer) rebuildRecordFeaturesLocked(recordID string, recordIndex int) {
	l.dropRecordFeaturesLocked(recordID)
	feats := featuresForRecord(l.records[recordIndex], recordIndex, l.GeometryField)
	if len(feats) > 0 {
		l.features = append(l.features, feats...)
		l.byRecord[recordID] = feats
	}
	l.recomputeBounds()
	l.tree = newFeatureIndex(l.features)
}

// Search returns the features whose bounds intersect the given lng/lat box.
func (l *Layer) Search(minLng, minLat, maxLng, maxLat float64) []*Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.tree == nil {
		return nil
	}
	return l.tree.search(minLng, minLat, maxLng, maxLat)
}
