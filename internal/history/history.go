// Package history keeps a SQLite record of every export: which page and
// table, the format and target, the outcome and how long it took. Entries
// are written asynchronously in batches.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/tablesniff/idgen"
)

// Schema creates the export history table.
const Schema = `
CREATE TABLE IF NOT EXISTS export_history (
    entry_id    TEXT PRIMARY KEY,
    timestamp   INTEGER NOT NULL,
    page_id     TEXT NOT NULL,
    page_url    TEXT NOT NULL DEFAULT '',
    mode        TEXT NOT NULL,
    table_id    INTEGER NOT NULL DEFAULT -1,
    format      TEXT NOT NULL,
    target      TEXT NOT NULL,
    filename    TEXT NOT NULL DEFAULT '',
    rows        INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    trace_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_export_history_time ON export_history(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_export_history_page ON export_history(page_id, timestamp DESC);
`

// Entry is one export attempt.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	PageID     string    `json:"page_id"`
	PageURL    string    `json:"page_url"`
	Mode       string    `json:"mode"` // manual | auto
	TableID    int       `json:"table_id"`
	Format     string    `json:"format"`
	Target     string    `json:"target"`
	Filename   string    `json:"filename"`
	Rows       int       `json:"rows"`
	Status     string    `json:"status"` // success | error
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	TraceID    string    `json:"trace_id,omitempty"`

	done chan struct{} // set on flush requests only
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	PageID string
	Status string
	Since  time.Time
	Limit  int // default 100
}

// Recorder persists entries through a buffered channel flushed by one
// goroutine. A full buffer falls back to a synchronous insert.
type Recorder struct {
	db     *sql.DB
	newID  idgen.Generator
	clock  func() time.Time
	logger *slog.Logger

	flushEvery time.Duration
	batchSize  int

	ch   chan *Entry
	stop chan struct{}
	done chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIDGenerator sets the entry id generator. Default: UUIDv7 prefixed "exp_".
func WithIDGenerator(gen idgen.Generator) Option {
	return func(r *Recorder) { r.newID = gen }
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) { r.clock = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithFlushInterval sets how often queued entries are written. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.flushEvery = d }
}

// New starts a Recorder on db, which must carry Schema.
func New(db *sql.DB, bufferSize int, opts ...Option) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	r := &Recorder{
		db:         db,
		newID:      idgen.Prefixed("exp_", idgen.UUIDv7()),
		clock:      time.Now,
		logger:     slog.Default(),
		flushEvery: 5 * time.Second,
		batchSize:  100,
		ch:         make(chan *Entry, bufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.flushLoop()
	return r
}

// Record queues e. Missing id, timestamp and status are filled in.
func (r *Recorder) Record(e *Entry) {
	r.fillDefaults(e)
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("history: buffer full, sync insert", "page_id", e.PageID)
		if err := r.insert(context.Background(), r.db, e); err != nil {
			r.logger.Error("history: sync insert failed", "error", err)
		}
	}
}

// Log inserts e synchronously.
func (r *Recorder) Log(ctx context.Context, e *Entry) error {
	r.fillDefaults(e)
	if err := r.insert(ctx, r.db, e); err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT entry_id, timestamp, page_id, page_url, mode, table_id, format,
		target, filename, rows, status, error, duration_ms, trace_id
		FROM export_history WHERE 1=1`
	var args []any
	if f.PageID != "" {
		q += " AND page_id = ?"
		args = append(args, f.PageID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.PageID, &e.PageURL, &e.Mode, &e.TableID, &e.Format,
			&e.Target, &e.Filename, &e.Rows, &e.Status, &e.Error, &e.DurationMs, &e.TraceID); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := r.clock().Add(-retention).UnixMilli()
	res, err := r.db.ExecContext(ctx, "DELETE FROM export_history WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Flush writes every queued entry before returning.
func (r *Recorder) Flush() {
	ack := make(chan struct{})
	r.ch <- &Entry{done: ack}
	select {
	case <-ack:
	case <-r.done:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (r *Recorder) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

func (r *Recorder) fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = r.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()
	batch := make([]*Entry, 0, r.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.writeBatch(batch); err != nil {
			r.logger.Error("history: flush", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}
	take := func(e *Entry) {
		if e.done != nil {
			flush()
			close(e.done)
			return
		}
		batch = append(batch, e)
		if len(batch) >= r.batchSize {
			flush()
		}
	}

	for {
		select {
		case <-r.stop:
			for {
				select {
				case e := <-r.ch:
					take(e)
				default:
					flush()
					return
				}
			}
		case e := <-r.ch:
			take(e)
		case <-ticker.C:
			flush()
		}
	}
}

func (r *Recorder) writeBatch(batch []*Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, e := range batch {
		if err := r.insert(ctx, tx, e); err != nil {
			r.logger.Error("history: insert", "entry_id", e.ID, "error", err)
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Recorder) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO export_history
		(entry_id, timestamp, page_id, page_url, mode, table_id, format,
		 target, filename, rows, status, error, duration_ms, trace_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.PageID, e.PageURL, e.Mode, e.TableID, e.Format,
		e.Target, e.Filename, e.Rows, e.Status, e.Error, e.DurationMs, e.TraceID)
	return err
}
