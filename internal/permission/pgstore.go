package permission

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PGStore loads permission entries from the field_permissions table an
// administrator maintains.
type PGStore struct {
	db *sql.DB
}

func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open permission db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) ListEntries(ctx context.Context, tableID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_email, table_id, field_id, level
		   FROM field_permissions
		  WHERE table_id = $1`, tableID)
	if err != nil {
		return nil, fmt.Errorf("query field_permissions for %q: %w", tableID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var lvl string
		if err := rows.Scan(&e.UserEmail, &e.TableID, &e.FieldID, &lvl); err != nil {
			return nil, fmt.Errorf("scan field_permissions row: %w", err)
		}
		switch Level(lvl) {
		case LevelView, LevelEdit, LevelHidden:
			e.Level = Level(lvl)
		default:
			// unknown levels degrade to view rather than widening access
			e.Level = LevelView
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field_permissions rows: %w", err)
	}
	return out, nil
}
