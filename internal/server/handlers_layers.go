package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/geogismaps/geogrid/internal/filter"
	"github.com/geogismaps/geogrid/internal/geometry"
	"github.com/geogismaps/geogrid/internal/layer"
	"github.com/geogismaps/geogrid/internal/permission"
	"github.com/geogismaps/geogrid/internal/symbology"
)

type layerSummary struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	TableID       string      `json:"tableId"`
	GeometryField string      `json:"geometryField"`
	Records       int         `json:"records"`
	Features      int         `json:"features"`
	Visible       bool        `json:"visible"`
	Bounds        *[4]float64 `json:"bounds,omitempty"` // minLng,minLat,maxLng,maxLat
}

func summarize(l *layer.Layer) layerSummary {
	s := layerSummary{
		ID:            l.ID,
		Name:          l.Name,
		TableID:       l.TableID,
		GeometryField: l.GeometryField,
		Records:       l.RecordCount(),
		Features:      len(l.Features()),
		Visible:       l.Visible(),
	}
	if b := l.Bounds(); b != nil {
		s.Bounds = &[4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return s
}

func (s *Server) layerFromPath(w http.ResponseWriter, r *http.Request) (*layer.Layer, bool) {
	id := chi.URLParam(r, "layerID")
	l, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "layer not found: "+id)
		return nil, false
	}
	return l, true
}

func identity(r *http.Request) (string, permission.Role) {
	user := r.Header.Get("X-User")
	role := permission.Role(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		role = permission.RoleViewer
	}
	return user, role
}

func (s *Server) handleCreateLayer(w http.ResponseWriter, r *http.Request) {
	var req layer.Config
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TableID == "" || req.GeometryField == "" {
		writeError(w, http.StatusBadRequest, "tableId and geometryField are required")
		return
	}
	if req.Name == "" {
		req.Name = req.TableID
	}

	records, err := s.loadRecords(r.Context(), req.TableID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "list records: "+err.Error())
		return
	}
	l, err := layer.Build(layer.NewID(), records, req)
	if err != nil {
		if errors.Is(err, layer.ErrNoValidGeometry) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.registry.Add(l)
	s.addSession(l)
	s.logger.Info().Str("layer", l.ID).Str("table", l.TableID).
		Int("records", l.RecordCount()).Int("features", len(l.Features())).
		Msg("layer created")
	writeJSON(w, http.StatusCreated, summarize(l))
}

func (s *Server) handleListLayers(w http.ResponseWriter, _ *http.Request) {
	layers := s.registry.List()
	out := make([]layerSummary, 0, len(layers))
	for _, l := range layers {
		out = append(out, summarize(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		layerSummary
		Properties layer.Properties `json:"properties"`
	}{summarize(l), l.Properties()})
}

func (s *Server) handleDeleteLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "layerID")
	if !s.registry.Remove(id) {
		writeError(w, http.StatusNotFound, "layer not found: "+id)
		return
	}
	s.dropSession(id)
	w.WriteHeader(http.StatusNoContent)
}

type featureDTO struct {
	RecordID string                `json:"recordId"`
	Member   int                   `json:"member"`
	Type     string                `json:"type"`
	Visible  bool                  `json:"visible"`
	Centroid geometry.Point        `json:"centroid"`
	Area     float64               `json:"area,omitempty"`
	Style    symbology.SingleStyle `json:"style"`
}

// styleValueField names the record field the current symbology styles by.
func styleValueField(cfg symbology.Config) string {
	switch cfg.Mode {
	case symbology.ModeGraduated:
		if cfg.Graduated != nil {
			return cfg.Graduated.Field
		}
	case symbology.ModeCategorized:
		if cfg.Categorized != nil {
			return cfg.Categorized.Field
		}
	}
	return ""
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}

	feats := l.Features()
	if raw := strings.TrimSpace(r.URL.Query().Get("bbox")); raw != "" {
		box, err := parseBBox(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid bbox: "+err.Error())
			return
		}
		feats = l.Search(box[0], box[1], box[2], box[3])
	}

	cfg := l.Properties().Symbology
	valueField := styleValueField(cfg)
	out := make([]featureDTO, 0, len(feats))
	for _, f := range feats {
		var value any
		if valueField != "" {
			if rec, ok := l.RecordByID(f.RecordID); ok {
				value = rec.Fields[valueField]
			}
		}
		out = append(out, featureDTO{
			RecordID: f.RecordID,
			Member:   f.Member,
			Type:     string(f.Geom.GeomType()),
			Visible:  f.Visible,
			Centroid: geometry.Centroid(f.Geom),
			Area:     geometry.PlanarArea(f.Geom),
			Style:    symbology.StyleFor(cfg, value),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// parseBBox parses "minLng,minLat,maxLng,maxLat".
func parseBBox(raw string) ([4]float64, error) {
	var box [4]float64
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return box, errors.New("expected 4 comma-separated values: minLng,minLat,maxLng,maxLat")
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return box, fmt.Errorf("value %d: %w", i+1, err)
		}
		box[i] = f
	}
	if box[0] < -180 || box[0] > 180 || box[2] < -180 || box[2] > 180 {
		return box, errors.New("longitude must be in [-180,180]")
	}
	if box[1] < -90 || box[1] > 90 || box[3] < -90 || box[3] > 90 {
		return box, errors.New("latitude must be in [-90,90]")
	}
	if box[2] <= box[0] || box[3] <= box[1] {
		return box, errors.New("max must be greater than min")
	}
	return box, nil
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

// handlePutVisibility toggles the whole layer on the map. Per-feature
// visibility from filters is untouched; a re-shown layer keeps its filter
// state.
func (s *Server) handlePutVisibility(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	var req visibilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l.SetVisible(req.Visible)
	writeJSON(w, http.StatusOK, summarize(l))
}

func (s *Server) handlePutProperties(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	var props layer.Properties
	if !decodeBody(w, r, &props) {
		return
	}
	restyled := l.SetProperties(props)
	writeJSON(w, http.StatusOK, map[string]any{"restyled": len(restyled)})
}

type classifyRequest struct {
	Mode    string `json:"mode"`
	Field   string `json:"field"`
	Classes int    `json:"classes"`
	Ramp    string `json:"ramp"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "field is required")
		return
	}
	if req.Classes <= 0 {
		req.Classes = s.cfg.DefaultClassCount
	}
	if req.Ramp == "" {
		req.Ramp = s.cfg.DefaultRamp
	}
	if !slices.Contains(symbology.RampNames(), req.Ramp) {
		writeError(w, http.StatusBadRequest,
			"unknown ramp "+strconv.Quote(req.Ramp)+"; available: "+strings.Join(symbology.RampNames(), ", "))
		return
	}

	var cfg symbology.Config
	switch symbology.Mode(req.Mode) {
	case symbology.ModeGraduated:
		style, err := symbology.ComputeGraduated(l.Records(), req.Field, req.Classes, req.Ramp)
		if err != nil {
			s.classifyError(w, err)
			return
		}
		cfg = symbology.Config{Mode: symbology.ModeGraduated, Graduated: style}
	case symbology.ModeCategorized:
		style, err := symbology.ComputeCategorized(l.Records(), req.Field)
		if err != nil {
			s.classifyError(w, err)
			return
		}
		cfg = symbology.Config{Mode: symbology.ModeCategorized, Categorized: style}
	default:
		writeError(w, http.StatusBadRequest, "mode must be graduated or categorized")
		return
	}

	props := l.Properties()
	props.Symbology = cfg
	l.SetProperties(props)
	writeJSON(w, http.StatusOK, cfg)
}

// classifyError keeps the previous symbology; degenerate data is the user's
// problem to hear about, not a 500.
func (s *Server) classifyError(w http.ResponseWriter, err error) {
	if errors.Is(err, symbology.ErrCannotClassify) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

type filtersRequest struct {
	Rules []filter.Rule `json:"rules"`
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	var req filtersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visible := filter.Apply(l, req.Rules)
	writeJSON(w, http.StatusOK, map[string]any{"visible": visible, "total": len(l.Features())})
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	user, role := identity(r)

	fields, err := s.store.ListFields(r.Context(), l.TableID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "list fields: "+err.Error())
		return
	}
	fieldIDs := make([]string, 0, len(fields))
	for _, f := range fields {
		fieldIDs = append(fieldIDs, f.Name)
	}

	levels, err := s.perms.ResolveTable(r.Context(), user, role, l.TableID, fieldIDs)
	if err != nil {
		writeError(w, http.StatusBadGateway, "resolve permissions: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, levels)
}
