// Package permission resolves (user, role, table, field) to a field-level
// access level for the attribute grid and popup renderers.
package permission

import (
	"context"
	"errors"
)

type Level string

const (
	LevelView   Level = "view"
	LevelEdit   Level = "edit"
	LevelHidden Level = "hidden"
)

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleCreator   Role = "creator"
	RoleEditor    Role = "editor"
	RoleCommenter Role = "commenter"
	RoleViewer    Role = "viewer"
)

// ErrPermissionDenied is returned before any remote call when an edit or
// delete is attempted without an edit-level resolution.
var ErrPermissionDenied = errors.New("permission denied")

// Entry is an administrator-created per-field override. It beats the role
// default for everyone except owner/admin.
type Entry struct {
	UserEmail string
	TableID   string
	FieldID   string
	Level     Level
}

// Store loads explicit permission entries for a table.
type Store interface {
	ListEntries(ctx context.Context, tableID string) ([]Entry, error)
}

// roleDefault maps a role to its field-level default. Unrecognized roles
// resolve to view.
func roleDefault(role Role) Level {
	switch role {
	case RoleOwner, RoleAdmin, RoleCreator, RoleEditor:
		return LevelEdit
	case RoleCommenter, RoleViewer:
		return LevelView
	default:
		return LevelView
	}
}

// isAdmin reports whether the role carries the implicit full-edit override.
// Owner/admin resolve to edit for every field regardless of explicit entries,
// even an explicit hidden. Intentional escalation rule, do not "fix".
func isAdmin(role Role) bool {
	return role == RoleOwner || role == RoleAdmin
}

// CanEditTable gates record-level operations (create, delete). Field entries
// never apply to whole-record actions, only the role default does.
func CanEditTable(role Role) bool {
	return roleDefault(role) == LevelEdit
}
