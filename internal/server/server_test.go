package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/geogismaps/geogrid/internal/cache/recordcache"
	"github.com/geogismaps/geogrid/internal/cache/redisstore"
	"github.com/geogismaps/geogrid/internal/config"
	"github.com/geogismaps/geogrid/internal/logger"
	"github.com/geogismaps/geogrid/internal/permission"
	"github.com/geogismaps/geogrid/internal/store"
)

type fakeStore struct {
	records map[string][]store.Record
	updates int
	nextID  int
}

func (f *fakeStore) ListRecords(_ context.Context, tableID string, _ store.ListOptions) ([]store.Record, error) {
	return f.records[tableID], nil
}

func (f *fakeStore) CreateRecord(_ context.Context, tableID string, fields map[string]any) (store.Record, error) {
	f.nextID++
	rec := store.Record{ID: fmt.Sprintf("new%d", f.nextID), Fields: fields}
	f.records[tableID] = append(f.records[tableID], rec)
	return rec, nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, tableID, recordID string, fields map[string]any) (store.Record, error) {
	f.updates++
	for i, rec := range f.records[tableID] {
		if rec.ID != recordID {
			continue
		}
		for k, v := range fields {
			rec.Fields[k] = v
		}
		f.records[tableID][i] = rec
		return rec, nil
	}
	return store.Record{ID: recordID, Fields: fields}, nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, tableID, recordID string) error {
	kept := f.records[tableID][:0]
	for _, rec := range f.records[tableID] {
		if rec.ID != recordID {
			kept = append(kept, rec)
		}
	}
	f.records[tableID] = kept
	return nil
}

func (f *fakeStore) ListFields(_ context.Context, tableID string) ([]store.FieldSchema, error) {
	return []store.FieldSchema{
		{ID: "f1", Name: "geom", Type: "text"},
		{ID: "f2", Name: "status", Type: "text"},
		{ID: "f3", Name: "pop", Type: "number"},
	}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeStore) {
	t.Helper()
	s, fs, _ := newTestServerPerms(t, opts...)
	return s, fs
}

func newTestServerPerms(t *testing.T, opts ...Option) (*Server, *fakeStore, *permission.MemStore) {
	t.Helper()
	fs := &fakeStore{records: map[string][]store.Record{
		"tbl1": {
			{ID: "r1", Fields: map[string]any{"geom": "POINT(18.07 59.33)", "status": "active", "pop": float64(10)}},
			{ID: "r2", Fields: map[string]any{"geom": "POINT(11.97 57.70)", "status": "closed", "pop": float64(20)}},
			{ID: "r3", Fields: map[string]any{"geom": "garbage", "status": "active", "pop": float64(30)}},
		},
		"polys": {
			{ID: "p1", Fields: map[string]any{"geom": "POLYGON((0 0,4 0,4 4,0 4,0 0))"}},
		},
		"empty": {
			{ID: "e1", Fields: map[string]any{"geom": "nope"}},
		},
	}}
	zl := zerolog.Nop()
	ms := permission.NewMemStore()
	perms := permission.NewResolver(logger.NewSlog(&zl), ms, 16)
	cfg := config.FromEnv()
	return New(zl, cfg, fs, perms, opts...), fs, ms
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return v
}

func createLayer(t *testing.T, h http.Handler, tableID string) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/layers", map[string]string{
		"name": "test", "tableId": tableID, "geometryField": "geom",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create layer: %d %s", w.Code, w.Body.String())
	}
	return decode[map[string]any](t, w)["id"].(string)
}

func TestCreateAndListLayers(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	id := createLayer(t, h, "tbl1")
	if id == "" {
		t.Fatalf("empty layer id")
	}

	w := doJSON(t, h, http.MethodGet, "/layers", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	layers := decode[[]map[string]any](t, w)
	if len(layers) != 1 || layers[0]["records"].(float64) != 3 || layers[0]["features"].(float64) != 2 {
		t.Fatalf("unexpected list: %v", layers)
	}
}

func TestCreateLayer_NoValidGeometryIs422(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.Router(), http.MethodPost, "/layers", map[string]string{
		"tableId": "empty", "geometryField": "geom",
	}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFeatures_BBoxNarrowsResults(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodGet, "/layers/"+id+"/features", nil, nil)
	if feats := decode[[]map[string]any](t, w); len(feats) != 2 {
		t.Fatalf("all features: %v", feats)
	}

	w = doJSON(t, h, http.MethodGet, "/layers/"+id+"/features?bbox=18,59,19,60", nil, nil)
	feats := decode[[]map[string]any](t, w)
	if len(feats) != 1 || feats[0]["recordId"] != "r1" {
		t.Fatalf("bbox features: %v", feats)
	}

	w = doJSON(t, h, http.MethodGet, "/layers/"+id+"/features?bbox=bad", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad bbox should 400, got %d", w.Code)
	}
}

func TestClassify_GraduatedAppliedAndDegenerate422(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/classify", map[string]any{
		"mode": "graduated", "field": "pop", "classes": 3,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("classify: %d %s", w.Code, w.Body.String())
	}
	cfg := decode[map[string]any](t, w)
	if cfg["mode"] != "graduated" {
		t.Fatalf("unexpected config: %v", cfg)
	}

	// non-numeric field cannot classify; previous symbology survives
	w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/classify", map[string]any{
		"mode": "graduated", "field": "status",
	}, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("degenerate classify: %d", w.Code)
	}
	l, _ := s.registry.Get(id)
	if l.Properties().Symbology.Mode != "graduated" {
		t.Fatalf("failed classify must keep previous symbology")
	}
}

func TestFilters_VisibleCount(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/filters", map[string]any{
		"rules": []map[string]string{{"field": "status", "operator": "equals", "value": "active"}},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filters: %d %s", w.Code, w.Body.String())
	}
	res := decode[map[string]any](t, w)
	if res["visible"].(float64) != 1 || res["total"].(float64) != 2 {
		t.Fatalf("unexpected filter result: %v", res)
	}
}

func TestGrid_EditFlow(t *testing.T) {
	s, fs := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")
	editor := map[string]string{"X-User": "e@x", "X-Role": "editor"}

	// viewers cannot enter editing
	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edit", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer enter editing: %d", w.Code)
	}

	if w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edit", nil, editor); w.Code != http.StatusOK {
		t.Fatalf("enter editing: %d %s", w.Code, w.Body.String())
	}

	// invalid number is rejected and never staged
	w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edits", map[string]string{
		"recordId": "r1", "field": "pop", "value": "abc",
	}, editor)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad value: %d %s", w.Code, w.Body.String())
	}

	for _, body := range []map[string]string{
		{"recordId": "r1", "field": "pop", "value": "42"},
		{"recordId": "r1", "field": "status", "value": "done"},
	} {
		if w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edits", body, editor); w.Code != http.StatusOK {
			t.Fatalf("stage: %d %s", w.Code, w.Body.String())
		}
	}

	w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/commit", nil, editor)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", w.Code, w.Body.String())
	}
	if fs.updates != 1 {
		t.Fatalf("two edits on one record must be one store update, got %d", fs.updates)
	}
	res := decode[map[string]any](t, w)
	if res["state"] != "browsing" {
		t.Fatalf("state after commit: %v", res["state"])
	}
}

func TestRecords_CreateDeleteRequiresEditRole(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")
	editor := map[string]string{"X-User": "e@x", "X-Role": "editor"}

	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/records", map[string]any{
		"fields": map[string]any{"geom": "POINT(1 1)", "status": "new"},
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer create: %d", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/records", map[string]any{
		"fields": map[string]any{"geom": "POINT(1 1)", "status": "new"},
	}, editor)
	if w.Code != http.StatusCreated {
		t.Fatalf("create record: %d %s", w.Code, w.Body.String())
	}
	rec := decode[store.Record](t, w)

	l, _ := s.registry.Get(id)
	if l.RecordCount() != 4 {
		t.Fatalf("create not mirrored: %d", l.RecordCount())
	}

	w = doJSON(t, h, http.MethodDelete, "/layers/"+id+"/records/"+rec.ID, nil, editor)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete record: %d %s", w.Code, w.Body.String())
	}
	if l.RecordCount() != 3 {
		t.Fatalf("delete not mirrored: %d", l.RecordCount())
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodGet, "/layers/"+id+"/permissions", nil, map[string]string{
		"X-User": "v@x", "X-Role": "viewer",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("permissions: %d %s", w.Code, w.Body.String())
	}
	levels := decode[map[string]string](t, w)
	if levels["pop"] != "view" || levels["geom"] != "view" {
		t.Fatalf("viewer should see view levels: %v", levels)
	}
}

func TestDeleteLayer(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	if w := doJSON(t, h, http.MethodDelete, "/layers/"+id, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete layer: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/layers/"+id, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("layer should be gone: %d", w.Code)
	}
	if _, ok := s.session(id); ok {
		t.Fatalf("session should be dropped with the layer")
	}
}

// editOne drives one cell through the full edit flow: enter editing, stage,
// commit.
func editOne(t *testing.T, h http.Handler, layerID, recordID, field, value string) {
	t.Helper()
	editor := map[string]string{"X-User": "e@x", "X-Role": "editor"}
	steps := []struct {
		path string
		body any
	}{
		{"/grid/edit", nil},
		{"/grid/edits", map[string]string{"recordId": recordID, "field": field, "value": value}},
		{"/grid/commit", nil},
	}
	for _, step := range steps {
		w := doJSON(t, h, http.MethodPost, "/layers/"+layerID+step.path, step.body, editor)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", step.path, w.Code, w.Body.String())
		}
	}
}

func TestLayerBuild_SeesCommittedValues(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	zl := zerolog.Nop()
	cache := recordcache.New(logger.NewSlog(&zl), cli, time.Minute)
	s, _ := newTestServer(t, WithCache(cache))
	h := s.Router()

	id := createLayer(t, h, "tbl1") // fills the snapshot cache
	editOne(t, h, id, "r1", "pop", "42")

	// a layer built after the commit must see the written value, not the
	// snapshot cached before it
	id2 := createLayer(t, h, "tbl1")
	l2, _ := s.registry.Get(id2)
	rec, ok := l2.RecordByID("r1")
	if !ok {
		t.Fatalf("r1 missing from second layer")
	}
	if got := rec.Fields["pop"]; got != float64(42) {
		t.Fatalf("stale snapshot after confirmed write: pop=%v, want 42", got)
	}
}

func TestCommit_FansOutToSameTableLayers(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id1 := createLayer(t, h, "tbl1")
	id2 := createLayer(t, h, "tbl1")

	editOne(t, h, id1, "r1", "pop", "42")

	for _, id := range []string{id1, id2} {
		l, _ := s.registry.Get(id)
		rec, ok := l.RecordByID("r1")
		if !ok {
			t.Fatalf("layer %s: r1 missing", id)
		}
		if got := rec.Fields["pop"]; got != float64(42) {
			t.Fatalf("layer %s: pop=%v, want 42", id, got)
		}
	}
}

func TestGridEnterEditing_FieldOverridesDecide(t *testing.T) {
	s, _, ms := newTestServerPerms(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	// a viewer granted edit on a single field may enter editing
	ms.Put(permission.Entry{UserEmail: "v@x", TableID: "tbl1", FieldID: "pop", Level: permission.LevelEdit})
	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edit", nil, map[string]string{
		"X-User": "v@x", "X-Role": "viewer",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("viewer with an edit field: %d %s", w.Code, w.Body.String())
	}

	// an editor with every field downgraded may not
	for _, f := range []string{"geom", "status", "pop"} {
		ms.Put(permission.Entry{UserEmail: "e@x", TableID: "tbl1", FieldID: f, Level: permission.LevelView})
	}
	w = doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edit", nil, map[string]string{
		"X-User": "e@x", "X-Role": "editor",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("editor with all fields downgraded: %d %s", w.Code, w.Body.String())
	}
}

func TestGridState_ListsPendingEdits(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")
	editor := map[string]string{"X-User": "e@x", "X-Role": "editor"}

	doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edit", nil, editor)
	for _, v := range []string{"42", "43"} {
		w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/grid/edits", map[string]string{
			"recordId": "r1", "field": "pop", "value": v,
		}, editor)
		if w.Code != http.StatusOK {
			t.Fatalf("stage %s: %d %s", v, w.Code, w.Body.String())
		}
	}

	w := doJSON(t, h, http.MethodGet, "/layers/"+id+"/grid", nil, nil)
	res := decode[map[string]any](t, w)
	edits, ok := res["edits"].([]any)
	if !ok || len(edits) != 1 {
		t.Fatalf("superseded edit must collapse to one entry: %v", res["edits"])
	}
	e := edits[0].(map[string]any)
	if e["value"] != float64(43) || e["original"] != float64(10) || e["type"] != "number" {
		t.Fatalf("unexpected pending edit: %v", e)
	}
}

func TestClassify_UnknownRampRejected(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodPost, "/layers/"+id+"/classify", map[string]any{
		"mode": "graduated", "field": "pop", "ramp": "Viridis",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown ramp: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "YlOrRd") {
		t.Fatalf("error should list available ramps: %s", w.Body.String())
	}
}

func TestPutVisibility(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	id := createLayer(t, h, "tbl1")

	w := doJSON(t, h, http.MethodPut, "/layers/"+id+"/visibility", map[string]bool{"visible": false}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("visibility: %d %s", w.Code, w.Body.String())
	}
	if decode[map[string]any](t, w)["visible"] != false {
		t.Fatalf("summary should report the layer hidden")
	}
	l, _ := s.registry.Get(id)
	if l.Visible() {
		t.Fatalf("layer still visible")
	}

	doJSON(t, h, http.MethodPut, "/layers/"+id+"/visibility", map[string]bool{"visible": true}, nil)
	if !l.Visible() {
		t.Fatalf("layer should be visible again")
	}
}

func TestFeatures_CarryCentroidAndArea(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	id := createLayer(t, h, "tbl1")
	w := doJSON(t, h, http.MethodGet, "/layers/"+id+"/features", nil, nil)
	feats := decode[[]map[string]any](t, w)
	var r1 map[string]any
	for _, f := range feats {
		if f["recordId"] == "r1" {
			r1 = f
		}
	}
	if r1 == nil {
		t.Fatalf("r1 missing from features: %v", feats)
	}
	c := r1["centroid"].(map[string]any)
	if c["lat"] != 59.33 || c["lng"] != 18.07 {
		t.Fatalf("point centroid is the point itself: %v", c)
	}
	if _, has := r1["area"]; has {
		t.Fatalf("points carry no area: %v", r1)
	}

	id = createLayer(t, h, "polys")
	w = doJSON(t, h, http.MethodGet, "/layers/"+id+"/features", nil, nil)
	feats = decode[[]map[string]any](t, w)
	if len(feats) != 1 {
		t.Fatalf("polygon features: %v", feats)
	}
	if feats[0]["area"] != float64(16) {
		t.Fatalf("4x4 square area: %v", feats[0]["area"])
	}
	c = feats[0]["centroid"].(map[string]any)
	if c["lat"] != float64(2) || c["lng"] != float64(2) {
		t.Fatalf("square centroid: %v", c)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	if w := doJSON(t, h, http.MethodGet, "/healthz", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/readyz", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("readyz: %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/metrics", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}
