// Package store defines the boundary to the backing tabular-record service.
// The engine never talks to a concrete backend directly; everything goes
// through RecordStore so tests can swap in a fake and tenants can swap
// backends.
package store

import "context"

// Record is an opaque key-value row owned by the backing store. The geometry
// field is one distinguished entry whose value is WKT text.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type FieldSchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type ListOptions struct {
	Limit  int
	Offset int
	Filter string
	Sort   string
}

type RecordStore interface {
	ListRecords(ctx context.Context, tableID string, opts ListOptions) ([]Record, error)
	CreateRecord(ctx context.Context, tableID string, fields map[string]any) (Record, error)
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (Record, error)
	DeleteRecord(ctx context.Context, tableID, recordID string) error
	ListFields(ctx context.Context, tableID string) ([]FieldSchema, error)
}

// Clone returns a deep-enough copy of a record for the in-memory mirror:
// top-level field map is copied, values are shared.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}
