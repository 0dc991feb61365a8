package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

type fakeInvalidator struct {
	mu        sync.Mutex
	tables    []string
	failFirst atomic.Bool
}

func (f *fakeInvalidator) Invalidate(_ context.Context, tableID string) error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	f.mu.Lock()
	f.tables = append(f.tables, tableID)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "record-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(t *testing.T, ev Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newTestConsumer(t *testing.T, inv CacheInvalidator, source string) *Consumer {
	t.Helper()
	cfg := ConsumerConfig{Brokers: []string{"x"}, Topic: "record-changes", GroupID: "g", Source: source}
	c, err := NewConsumer(cfg, zerolog.Nop(), inv)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return c
}

func TestEventValidate(t *testing.T) {
	ts := time.Now().UTC()
	cases := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"valid update", Event{Version: 1, Op: "update", TableID: "tbl", TS: ts}, true},
		{"valid bulk", Event{Version: 1, Op: "bulk", TableID: "tbl", TS: ts}, true},
		{"bad version", Event{Version: 2, Op: "update", TableID: "tbl", TS: ts}, false},
		{"bad op", Event{Version: 1, Op: "upsert", TableID: "tbl", TS: ts}, false},
		{"missing table", Event{Version: 1, Op: "update", TableID: " ", TS: ts}, false},
		{"missing ts", Event{Version: 1, Op: "update", TableID: "tbl"}, false},
	}
	for _, tc := range cases {
		if err := tc.ev.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
}

func TestConsumeClaim_MarksAfterInvalidate(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newTestConsumer(t, inv, "")
	g := &groupHandler{process: c.ProcessOne}

	s := &sess{ctx: context.Background()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ts := time.Now().UTC()
	ch <- &sarama.ConsumerMessage{Topic: "record-changes", Offset: 10,
		Value: eventBytes(t, Event{Version: 1, Op: "update", TableID: "tbl1", RecordID: "r1", TS: ts})}
	ch <- &sarama.ConsumerMessage{Topic: "record-changes", Offset: 11,
		Value: eventBytes(t, Event{Version: 1, Op: "delete", TableID: "tbl2", RecordID: "r2", TS: ts})}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(inv.tables) != 2 || inv.tables[0] != "tbl1" || inv.tables[1] != "tbl2" {
		t.Fatalf("invalidated tables=%v", inv.tables)
	}
}

func TestProcessOne_DuplicateSkipped(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newTestConsumer(t, inv, "")
	ev := Event{Version: 1, Op: "update", TableID: "tbl", RecordID: "r1", TS: time.Now().UTC()}
	msg := &sarama.ConsumerMessage{Value: eventBytes(t, ev)}

	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(inv.tables) != 1 {
		t.Fatalf("duplicate was not deduped: %v", inv.tables)
	}
}

func TestProcessOne_OwnEventsSkipped(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newTestConsumer(t, inv, "inst-a")
	ev := Event{Version: 1, Op: "bulk", TableID: "tbl", TS: time.Now().UTC(), Source: "inst-a"}
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: eventBytes(t, ev)}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(inv.tables) != 0 {
		t.Fatalf("own event should be skipped, got %v", inv.tables)
	}
}

func TestProcessOne_RetryAfterInvalidateFailure(t *testing.T) {
	inv := &fakeInvalidator{}
	inv.failFirst.Store(true)
	c := newTestConsumer(t, inv, "")
	ev := Event{Version: 1, Op: "update", TableID: "tbl", RecordID: "r9", TS: time.Now().UTC()}
	msg := &sarama.ConsumerMessage{Value: eventBytes(t, ev)}

	if err := c.ProcessOne(context.Background(), msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}
	// the failed attempt must not poison the dedupe window
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(inv.tables) != 1 {
		t.Fatalf("retry did not invalidate: %v", inv.tables)
	}
}

func TestProcessOne_MalformedEventSkippedNotRetried(t *testing.T) {
	inv := &fakeInvalidator{}
	c := newTestConsumer(t, inv, "")
	ev := Event{Version: 1, Op: "upsert", TableID: "tbl", TS: time.Now().UTC()}
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: eventBytes(t, ev)}); err != nil {
		t.Fatalf("invalid event should be skipped, got %v", err)
	}
	if len(inv.tables) != 0 {
		t.Fatalf("invalid event must not invalidate")
	}
}
