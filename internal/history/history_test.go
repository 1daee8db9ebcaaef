package history

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tablesniff/dbopen"
	"github.com/hazyhaar/tablesniff/idgen"
)

var fixed = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newRecorder(t *testing.T, opts ...Option) *Recorder {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	opts = append([]Option{WithIDGenerator(idgen.Sequence("e"))}, opts...)
	r := New(db, 10, opts...)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecord_FlushAndQuery(t *testing.T) {
	r := newRecorder(t, WithFlushInterval(time.Hour))
	r.Record(&Entry{PageID: "p1", Mode: "manual", TableID: 1, Format: "csv", Target: "download", Rows: 3, Timestamp: fixed})
	r.Record(&Entry{PageID: "p2", Mode: "auto", Format: "csv", Target: "download", Error: "no tables", Timestamp: fixed.Add(time.Second)})
	r.Flush()

	all, err := r.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("entries: got %d, want 2", len(all))
	}
	if all[0].PageID != "p2" || all[0].Status != "error" || all[1].Status != "success" {
		t.Errorf("order or status: %+v", all)
	}
	if all[1].ID != "e1" || !all[1].Timestamp.Equal(fixed) {
		t.Errorf("defaults: %+v", all[1])
	}

	byPage, _ := r.Query(context.Background(), Filter{PageID: "p1"})
	if len(byPage) != 1 || byPage[0].Rows != 3 || byPage[0].TableID != 1 {
		t.Errorf("page filter: %+v", byPage)
	}
	failed, _ := r.Query(context.Background(), Filter{Status: "error"})
	if len(failed) != 1 || failed[0].Error != "no tables" {
		t.Errorf("status filter: %+v", failed)
	}
}

func TestClose_DrainsBuffer(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	r := New(db, 10, WithFlushInterval(time.Hour))
	for range 3 {
		r.Record(&Entry{PageID: "p", Mode: "manual", Format: "csv", Target: "none"})
	}
	r.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM export_history").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rows after close: got %d, want 3", n)
	}
}

func TestCleanup(t *testing.T) {
	r := newRecorder(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	old := &Entry{PageID: "old", Mode: "auto", Format: "csv", Target: "download", Timestamp: fixed.Add(-48 * time.Hour)}
	recent := &Entry{PageID: "new", Mode: "auto", Format: "csv", Target: "download"}
	for _, e := range []*Entry{old, recent} {
		if err := r.Log(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	left, _ := r.Query(ctx, Filter{Since: fixed.Add(-time.Hour)})
	if len(left) != 1 || left[0].PageID != "new" {
		t.Errorf("remaining: %+v", left)
	}
}
