// Package grid implements the attribute-grid edit session: a per-layer state
// machine that stages typed cell edits locally and commits them to the backing
// store record by record. The layer's record mirror is only mutated after the
// store confirms a write.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geogismaps/geogrid/internal/fieldtype"
	"github.com/geogismaps/geogrid/internal/layer"
	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/store"
)

type State string

const (
	StateBrowsing        State = "browsing"
	StateEditing         State = "editing"
	StateCommitting      State = "committing"
	StatePartiallyFailed State = "partially_failed"
)

var (
	ErrNotEditing       = errors.New("grid: not in editing state")
	ErrCommitInProgress = errors.New("grid: commit in progress")
	ErrUnknownRecord    = errors.New("grid: unknown record")
)

// Notifier is told after any confirmed remote write so dependent read paths
// (the record cache, other instances) can drop stale snapshots.
type Notifier interface {
	RecordsChanged(ctx context.Context, tableID string)
}

// MirrorSet resolves every layer backed by a table. Confirmed writes fan out
// to each of them, so two layers on one table never diverge.
type MirrorSet interface {
	ByTable(tableID string) []*layer.Layer
}

type editKey struct {
	recordID string
	field    string
}

// PendingEdit is one staged cell change. Original holds the mirror value from
// when the cell was first staged; a superseding edit replaces Value only.
type PendingEdit struct {
	RecordID string         `json:"recordId"`
	Field    string         `json:"field"`
	Value    any            `json:"value"`
	Original any            `json:"original"`
	Type     fieldtype.Type `json:"type"`
}

// Session is the edit lifecycle for one layer's grid. All methods are safe
// for concurrent use; commits run sequentially under the session lock.
type Session struct {
	logger  zerolog.Logger
	store   store.RecordStore
	layer   *layer.Layer
	notify  Notifier
	mirrors MirrorSet

	mu       sync.Mutex
	state    State
	pending  map[editKey]PendingEdit
	colTypes map[string]fieldtype.Type
}

type Option func(*Session)

func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notify = n }
}

func WithMirrors(m MirrorSet) Option {
	return func(s *Session) { s.mirrors = m }
}

func NewSession(logger zerolog.Logger, st store.RecordStore, l *layer.Layer, opts ...Option) *Session {
	s := &Session{
		logger:   logger.With().Str("component", "grid").Str("layer", l.ID).Logger(),
		store:    st,
		layer:    l,
		state:    StateBrowsing,
		pending:  make(map[editKey]PendingEdit),
		colTypes: make(map[string]fieldtype.Type),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingEdits returns the staged edits in deterministic (record, field)
// order, for the grid view.
func (s *Session) PendingEdits() []PendingEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingEdit, 0, len(s.pending))
	for _, pe := range s.pending {
		out = append(out, pe)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordID != out[j].RecordID {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// EnterEditing moves the grid into editing mode. Re-entering from a partial
// failure keeps the surviving pending edits so the user can retry them.
func (s *Session) EnterEditing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateCommitting:
		return ErrCommitInProgress
	case StateEditing:
		return nil
	}
	s.state = StateEditing
	return nil
}

// CancelEditing discards every pending edit and returns to browsing. The
// record mirror was never touched, so there is nothing to roll back.
func (s *Session) CancelEditing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitting {
		return ErrCommitInProgress
	}
	s.pending = make(map[editKey]PendingEdit)
	s.state = StateBrowsing
	return nil
}

// StageEdit validates raw cell input against the column's inferred type and
// stores the converted value in the pending map. A later edit of the same
// cell replaces the earlier one. Validation failures leave the pending map
// untouched.
func (s *Session) StageEdit(recordID, field, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return ErrNotEditing
	}
	rec, ok := s.layer.RecordByID(recordID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, recordID)
	}

	t := s.columnTypeLocked(field)
	value, err := fieldtype.Convert(field, raw, t)
	if err != nil {
		return err
	}
	key := editKey{recordID: recordID, field: field}
	if prev, staged := s.pending[key]; staged {
		// superseding edit: keep the originally staged mirror value
		prev.Value = value
		s.pending[key] = prev
		return nil
	}
	s.pending[key] = PendingEdit{
		RecordID: recordID,
		Field:    field,
		Value:    value,
		Original: rec.Fields[field],
		Type:     t,
	}
	return nil
}

// columnTypeLocked resolves and caches the column's type. The geometry column
// is always text so WKT round-trips unmodified; other columns are inferred
// from the mirror's existing values.
func (s *Session) columnTypeLocked(field string) fieldtype.Type {
	if field == s.layer.GeometryField {
		return fieldtype.Text
	}
	if t, ok := s.colTypes[field]; ok {
		return t
	}
	records := s.layer.Records()
	values := make([]any, 0, len(records))
	for _, rec := range records {
		values = append(values, rec.Fields[field])
	}
	t := fieldtype.InferColumn(values)
	s.colTypes[field] = t
	return t
}

type CommitFailure struct {
	RecordID string
	Err      error
}

type CommitResult struct {
	Succeeded []string
	Failed    []CommitFailure
}

// CommitAll flushes the pending edits to the store, one UpdateRecord per
// touched record, in deterministic record order. Successful records are
// mirrored into the layer and dropped from the pending map; failed records
// keep their pendings and leave the session in partial-failure state. An
// empty pending map is a no-op that never reaches the store.
func (s *Session) CommitAll(ctx context.Context) (CommitResult, error) {
	s.mu.Lock()
	if s.state != StateEditing && s.state != StatePartiallyFailed {
		s.mu.Unlock()
		return CommitResult{}, ErrNotEditing
	}
	if len(s.pending) == 0 {
		s.state = StateBrowsing
		s.mu.Unlock()
		return CommitResult{}, nil
	}
	s.state = StateCommitting

	byRecord := make(map[string]map[string]any)
	for k, pe := range s.pending {
		fields, ok := byRecord[k.recordID]
		if !ok {
			fields = make(map[string]any)
			byRecord[k.recordID] = fields
		}
		fields[k.field] = pe.Value
	}
	recordIDs := make([]string, 0, len(byRecord))
	for id := range byRecord {
		recordIDs = append(recordIDs, id)
	}
	sort.Strings(recordIDs)
	s.mu.Unlock()

	var res CommitResult
	for _, recordID := range recordIDs {
		fields := byRecord[recordID]
		_, err := s.store.UpdateRecord(ctx, s.layer.TableID, recordID, fields)
		observability.IncCommitRecord(err)
		if err != nil {
			s.logger.Warn().Err(err).Str("record", recordID).Msg("commit failed for record")
			res.Failed = append(res.Failed, CommitFailure{RecordID: recordID, Err: err})
			continue
		}
		s.mirrorUpdate(recordID, fields)
		res.Succeeded = append(res.Succeeded, recordID)
	}

	s.mu.Lock()
	for _, recordID := range res.Succeeded {
		for k := range s.pending {
			if k.recordID == recordID {
				delete(s.pending, k)
			}
		}
	}
	if len(res.Failed) > 0 {
		s.state = StatePartiallyFailed
	} else {
		s.state = StateBrowsing
	}
	s.mu.Unlock()

	if len(res.Succeeded) > 0 && s.notify != nil {
		s.notify.RecordsChanged(ctx, s.layer.TableID)
	}
	return res, nil
}

// otherMirrors returns every other layer backed by the same table.
func (s *Session) otherMirrors() []*layer.Layer {
	if s.mirrors == nil {
		return nil
	}
	var out []*layer.Layer
	for _, l := range s.mirrors.ByTable(s.layer.TableID) {
		if l.ID != s.layer.ID {
			out = append(out, l)
		}
	}
	return out
}

// mirrorUpdate patches the session's layer and fans the confirmed change out
// to every other layer on the table. A mirror that never held the record is
// fine; layers can be built from different snapshots.
func (s *Session) mirrorUpdate(recordID string, fields map[string]any) {
	if err := s.layer.ApplyRecordUpdate(recordID, fields); err != nil {
		s.logger.Warn().Err(err).Str("record", recordID).Msg("mirror patch after commit")
	}
	for _, l := range s.otherMirrors() {
		if err := l.ApplyRecordUpdate(recordID, fields); err != nil {
			s.logger.Debug().Err(err).Str("layer", l.ID).Str("record", recordID).Msg("mirror fan-out skipped")
		}
	}
}

// CreateRecord writes a new row immediately, outside the staged-edit flow.
func (s *Session) CreateRecord(ctx context.Context, fields map[string]any) (store.Record, error) {
	s.mu.Lock()
	if s.state == StateCommitting {
		s.mu.Unlock()
		return store.Record{}, ErrCommitInProgress
	}
	s.mu.Unlock()

	rec, err := s.store.CreateRecord(ctx, s.layer.TableID, fields)
	if err != nil {
		return store.Record{}, fmt.Errorf("create record: %w", err)
	}
	s.layer.AddRecord(rec)
	if s.notify != nil {
		s.notify.RecordsChanged(ctx, s.layer.TableID)
	}
	return rec, nil
}

// DeleteRecord removes a row immediately. Pending edits for the row are
// dropped; they have nowhere to land.
func (s *Session) DeleteRecord(ctx context.Context, recordID string) error {
	s.mu.Lock()
	if s.state == StateCommitting {
		s.mu.Unlock()
		return ErrCommitInProgress
	}
	s.mu.Unlock()

	if err := s.store.DeleteRecord(ctx, s.layer.TableID, recordID); err != nil {
		return fmt.Errorf("delete record %s: %w", recordID, err)
	}

	s.mu.Lock()
	for k := range s.pending {
		if k.recordID == recordID {
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()

	s.layer.RemoveRecord(recordID)
	if s.notify != nil {
		s.notify.RecordsChanged(ctx, s.layer.TableID)
	}
	return nil
}
