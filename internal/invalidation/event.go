// Package invalidation carries record-change events between instances over
// Kafka. A confirmed write on one instance publishes an event keyed by table
// id; consumers bump that table's cache version so every instance serves a
// fresh snapshot on its next list.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	TableID  string    `json:"table_id"`
	RecordID string    `json:"record_id,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "create", "update", "delete", "bulk":
	default:
		return fmt.Errorf("op must be create|update|delete|bulk")
	}
	if strings.TrimSpace(e.TableID) == "" {
		return fmt.Errorf("table_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Key is the Kafka message key. Keying by table keeps per-table ordering
// within a partition.
func (e Event) Key() string { return e.TableID }
