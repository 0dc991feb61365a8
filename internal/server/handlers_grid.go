package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geogismaps/geogrid/internal/fieldtype"
	"github.com/geogismaps/geogrid/internal/grid"
	"github.com/geogismaps/geogrid/internal/permission"
)

func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request) (*grid.Session, bool) {
	id := chi.URLParam(r, "layerID")
	sess, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "layer not found: "+id)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGridState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   sess.State(),
		"pending": sess.PendingCount(),
		"edits":   sess.PendingEdits(),
	})
}

// canEditAnyField reports whether at least one of the table's fields resolves
// to edit for this user. Explicit per-field entries count both ways: a viewer
// granted edit on one field may enter editing, an editor whose every field was
// downgraded may not.
func (s *Server) canEditAnyField(r *http.Request, tableID string) (bool, error) {
	user, role := identity(r)
	fields, err := s.store.ListFields(r.Context(), tableID)
	if err != nil {
		return false, err
	}
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, f.Name)
	}
	levels, err := s.perms.ResolveTable(r.Context(), user, role, tableID, ids)
	if err != nil {
		return false, err
	}
	for _, lvl := range levels {
		if lvl == permission.LevelEdit {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) handleGridEnterEditing(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	allowed, err := s.canEditAnyField(r, l.TableID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "resolve permissions: "+err.Error())
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, permission.ErrPermissionDenied.Error())
		return
	}
	if err := sess.EnterEditing(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

func (s *Server) handleGridCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	if err := sess.CancelEditing(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.State()})
}

type stageEditRequest struct {
	RecordID string `json:"recordId"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

func (s *Server) handleGridStageEdit(w http.ResponseWriter, r *http.Request) {
	l, ok := s.layerFromPath(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	var req stageEditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RecordID == "" || req.Field == "" {
		writeError(w, http.StatusBadRequest, "recordId and field are required")
		return
	}

	user, role := identity(r)
	level, err := s.perms.Resolve(r.Context(), user, role, l.TableID, req.Field)
	if err != nil {
		writeError(w, http.StatusBadGateway, "resolve permission: "+err.Error())
		return
	}
	if level != permission.LevelEdit {
		writeError(w, http.StatusForbidden, permission.ErrPermissionDenied.Error())
		return
	}

	if err := sess.StageEdit(req.RecordID, req.Field, req.Value); err != nil {
		var verr *fieldtype.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
		case errors.Is(err, grid.ErrNotEditing):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, grid.ErrUnknownRecord):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": sess.PendingCount()})
}

type commitFailureDTO struct {
	RecordID string `json:"recordId"`
	Error    string `json:"error"`
}

type commitResponse struct {
	State     grid.State         `json:"state"`
	Succeeded []string           `json:"succeeded"`
	Failed    []commitFailureDTO `json:"failed"`
}

func (s *Server) handleGridCommit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	res, err := sess.CommitAll(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	resp := commitResponse{
		State:     sess.State(),
		Succeeded: res.Succeeded,
		Failed:    make([]commitFailureDTO, 0, len(res.Failed)),
	}
	if resp.Succeeded == nil {
		resp.Succeeded = []string{}
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, commitFailureDTO{RecordID: f.RecordID, Error: f.Err.Error()})
	}

	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

type createRecordRequest struct {
	Fields map[string]any `json:"fields"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	_, role := identity(r)
	if !permission.CanEditTable(role) {
		writeError(w, http.StatusForbidden, permission.ErrPermissionDenied.Error())
		return
	}
	var req createRecordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := sess.CreateRecord(r.Context(), req.Fields)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	_, role := identity(r)
	if !permission.CanEditTable(role) {
		writeError(w, http.StatusForbidden, permission.ErrPermissionDenied.Error())
		return
	}
	recordID := chi.URLParam(r, "recordID")
	if err := sess.DeleteRecord(r.Context(), recordID); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
