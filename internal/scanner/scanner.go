// Package scanner finds candidate tables in a document and keeps the
// current snapshot of tracked tables. A snapshot is replaced wholesale on
// every scan; ids from an older snapshot never resolve again.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tablesniff/internal/debounce"
	"github.com/hazyhaar/tablesniff/internal/dom"
	"github.com/hazyhaar/tablesniff/table"
)

// minCells is the number of th/td descendants a table needs to be a
// candidate. Layout tables with a single cell are skipped.
const minCells = 2

// Config controls reactive rescans.
type Config struct {
	// Debounce is the quiet window after the last mutation before a
	// reactive rescan. Default: 500ms.
	Debounce time.Duration
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithLocker makes reactive rescans hold l while scanning, so they never
// interleave with an operation of the owner that holds the same lock.
func WithLocker(l sync.Locker) Option {
	return func(s *Scanner) { s.guard = l }
}

// WithOnScan registers a callback invoked after every successful scan with
// the number of candidates found.
func WithOnScan(fn func(candidates int)) Option {
	return func(s *Scanner) { s.onScan = fn }
}

// Candidate is a tracked table with its live row count.
type Candidate struct {
	ID      int
	Element dom.Element
	Rows    int
}

// Scanner tracks the candidate tables of one document.
type Scanner struct {
	doc    dom.Document
	cfg    Config
	logger *slog.Logger
	guard  sync.Locker
	onScan func(int)

	mu     sync.Mutex
	tables []dom.Element // index is the id
	gen    uint64
}

// New creates a Scanner for doc.
func New(doc dom.Document, cfg Config, opts ...Option) *Scanner {
	cfg.defaults()
	s := &Scanner{
		doc:    doc,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan enumerates table elements in document order, keeps the candidates
// and replaces the snapshot. Ids are assigned sequentially from 0.
func (s *Scanner) Scan(ctx context.Context, includeHidden bool) ([]table.Summary, error) {
	els, err := s.doc.QueryAll(ctx, "table")
	if err != nil {
		return nil, fmt.Errorf("scanner: query tables: %w", err)
	}

	tracked := make([]dom.Element, 0, len(els))
	summaries := make([]table.Summary, 0, len(els))
	for _, el := range els {
		sum, ok, err := summarize(ctx, el, includeHidden)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanner: inspect table: %w", err)
		}
		if !ok {
			continue
		}
		sum.ID = len(tracked)
		tracked = append(tracked, el)
		summaries = append(summaries, sum)
	}

	s.mu.Lock()
	s.tables = tracked
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.logger.Debug("scanner: scan", "url", s.doc.URL(), "candidates", len(summaries),
		"generation", gen, "include_hidden", includeHidden)
	if s.onScan != nil {
		s.onScan(len(summaries))
	}
	return summaries, nil
}

// Resolve returns the element tracked under id in the current snapshot.
func (s *Scanner) Resolve(id int) (dom.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.tables) {
		return nil, false
	}
	return s.tables[id], true
}

// Len returns the number of tracked tables.
func (s *Scanner) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables)
}

// Generation counts snapshot replacements.
func (s *Scanner) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Largest returns the tracked table with the greatest live row count. Ties
// go to the first encountered. Detached tables are skipped.
func (s *Scanner) Largest(ctx context.Context) (Candidate, bool, error) {
	s.mu.Lock()
	tables := append([]dom.Element(nil), s.tables...)
	s.mu.Unlock()

	best := Candidate{ID: -1, Rows: -1}
	for id, el := range tables {
		n, err := el.RowCount(ctx)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return Candidate{}, false, fmt.Errorf("scanner: row count of table %d: %w", id, err)
		}
		if n > best.Rows {
			best = Candidate{ID: id, Element: el, Rows: n}
		}
	}
	return best, best.ID >= 0, nil
}

// VisibleRows sums the live row counts of the visible candidate tables
// currently in the document. The snapshot is left untouched.
func (s *Scanner) VisibleRows(ctx context.Context) (int, error) {
	els, err := s.doc.QueryAll(ctx, "table")
	if err != nil {
		return 0, fmt.Errorf("scanner: query tables: %w", err)
	}
	total := 0
	for _, el := range els {
		ok, err := eligible(ctx, el, false)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		n, err := el.RowCount(ctx)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Watch rescans after each burst of document mutations until ctx is done.
// includeHidden is consulted at every rescan. Rescan failures are logged.
func (s *Scanner) Watch(ctx context.Context, includeHidden func() bool) error {
	muts, err := s.doc.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("scanner: subscribe: %w", err)
	}

	go func() {
		deb := debounce.New(debounce.Config{Window: s.cfg.Debounce}, func([]dom.Mutation) {
			s.rescan(ctx, includeHidden())
		})
		defer deb.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-muts:
				if !ok {
					return
				}
				deb.Add(m)
			case <-deb.C():
				deb.Flush()
			}
		}
	}()
	return nil
}

func (s *Scanner) rescan(ctx context.Context, includeHidden bool) {
	if ctx.Err() != nil {
		return
	}
	if s.guard != nil {
		s.guard.Lock()
		defer s.guard.Unlock()
	}
	if _, err := s.Scan(ctx, includeHidden); err != nil {
		s.logger.Warn("scanner: reactive rescan failed", "url", s.doc.URL(), "error", err)
	}
}

// eligible applies the candidate filters: visible (or hidden allowed) and
// at least minCells th/td descendants.
func eligible(ctx context.Context, el dom.Element, includeHidden bool) (bool, error) {
	if !includeHidden {
		box, err := el.Box(ctx)
		if err != nil {
			return false, err
		}
		if !box.Visible() {
			return false, nil
		}
	}
	cells, err := el.Count(ctx, "th, td")
	if err != nil {
		return false, err
	}
	return cells >= minCells, nil
}

func summarize(ctx context.Context, el dom.Element, includeHidden bool) (table.Summary, bool, error) {
	ok, err := eligible(ctx, el, includeHidden)
	if err != nil || !ok {
		return table.Summary{}, false, err
	}
	n, err := el.RowCount(ctx)
	if err != nil {
		return table.Summary{}, false, err
	}
	head, err := el.Rows(ctx, table.PreviewRows)
	if err != nil {
		return table.Summary{}, false, err
	}

	cols := 0
	if len(head) > 0 {
		cols = len(head[0])
	}
	preview := make([][]string, len(head))
	for i, row := range head {
		cells := make([]string, cols)
		copy(cells, row)
		preview[i] = cells
	}
	return table.Summary{Rows: n, Cols: cols, Preview: preview}, true, nil
}
