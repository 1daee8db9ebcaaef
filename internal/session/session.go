// Package session owns the table state of one loaded page: the scanner
// snapshot, the highlighted table and the installed flag. Every public
// operation is serialised, including reactive rescans, so an id can never
// be checked against one snapshot and used against another.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hazyhaar/tablesniff/internal/dom"
	"github.com/hazyhaar/tablesniff/internal/extract"
	"github.com/hazyhaar/tablesniff/internal/metrics"
	"github.com/hazyhaar/tablesniff/internal/negotiate"
	"github.com/hazyhaar/tablesniff/internal/quiesce"
	"github.com/hazyhaar/tablesniff/internal/render"
	"github.com/hazyhaar/tablesniff/internal/scanner"
	"github.com/hazyhaar/tablesniff/table"
)

// InstallMarker is the page-global flag set when a session attaches.
const InstallMarker = "__tablesniff_installed"

// HighlightStyle outlines the highlighted table.
const HighlightStyle = "2px solid orange"

// Config bundles the tunables of the pipeline stages.
type Config struct {
	Scan      scanner.Config
	Negotiate negotiate.Config
	Quiesce   quiesce.Config
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock sets the time source used in filenames. Default: time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Session) { s.clock = fn }
}

// WithOptions sets the source of user options, read at each operation.
// Default: table.DefaultOptions.
func WithOptions(fn func() table.Options) Option {
	return func(s *Session) { s.options = fn }
}

// WithMetrics instruments the session.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRenderer shares a renderer between sessions.
func WithRenderer(r *render.Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// Session is the extraction orchestrator of one page.
type Session struct {
	doc      dom.Document
	logger   *slog.Logger
	clock    func() time.Time
	options  func() table.Options
	metrics  *metrics.Metrics
	renderer *render.Renderer

	scanner    *scanner.Scanner
	negotiator *negotiate.Negotiator
	watcher    *quiesce.Watcher

	// life bounds background work (reactive rescans).
	life context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	installed   bool
	highlighted dom.Element
}

// New creates a Session for doc. Call Install before use and Close when the
// page goes away.
func New(doc dom.Document, cfg Config, opts ...Option) *Session {
	s := &Session{
		doc:     doc,
		logger:  slog.Default(),
		clock:   time.Now,
		options: table.DefaultOptions,
	}
	for _, o := range opts {
		o(s)
	}
	if s.renderer == nil {
		s.renderer = render.New()
	}
	s.life, s.stop = context.WithCancel(context.Background())

	s.scanner = scanner.New(doc, cfg.Scan,
		scanner.WithLogger(s.logger),
		scanner.WithLocker(&s.mu),
		scanner.WithOnScan(s.metrics.ObserveScan),
	)
	s.negotiator = negotiate.New(cfg.Negotiate,
		negotiate.WithLogger(s.logger),
		negotiate.WithOnResult(func(r negotiate.Result) { s.metrics.ObserveNegotiation(r.Strategy) }),
	)
	s.watcher = quiesce.New(cfg.Quiesce, s.scanner,
		quiesce.WithLogger(s.logger),
		quiesce.WithOnOutcome(func(o quiesce.Outcome, d time.Duration) {
			s.metrics.ObserveQuiescence(string(o), d)
		}),
	)
	return s
}

// URL returns the page address.
func (s *Session) URL() string { return s.doc.URL() }

// Generation exposes the scanner snapshot generation.
func (s *Session) Generation() uint64 { return s.scanner.Generation() }

// Close stops background rescans and clears the highlight.
func (s *Session) Close() {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highlighted != nil {
		_ = s.highlighted.SetOutline(context.Background(), "")
		s.highlighted = nil
	}
}

// Install attaches the session to its page. It is idempotent: a second
// call, or a page already carrying the marker, is a no-op. Unless the user
// restricts detection to explicit requests, an initial scan runs and
// reactive rescans start.
func (s *Session) Install(ctx context.Context) (err error) {
	defer s.recoverPanic("install", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.installed {
		return nil
	}
	was, err := s.doc.Mark(ctx, InstallMarker)
	if err != nil {
		return fmt.Errorf("session: install marker: %w", err)
	}
	s.installed = true
	if was {
		s.logger.Debug("session: page already installed", "url", s.doc.URL())
		return nil
	}

	opts := s.options()
	if opts.DetectOnClickOnly {
		return nil
	}
	if _, err := s.scanner.Scan(ctx, opts.ShowHiddenTables); err != nil {
		return fmt.Errorf("session: initial scan: %w", err)
	}
	if err := s.scanner.Watch(s.life, func() bool { return s.options().ShowHiddenTables }); err != nil {
		s.logger.Warn("session: reactive rescans disabled", "url", s.doc.URL(), "error", err)
	}
	s.logger.Info("session: installed", "url", s.doc.URL(), "tables", s.scanner.Len())
	return nil
}

// ListTables rescans the page and returns the candidate summaries.
func (s *Session) ListTables(ctx context.Context, includeHidden bool) (sums []table.Summary, err error) {
	defer s.recoverPanic("list_tables", &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanner.Scan(ctx, includeHidden)
}

// TableData returns the live grid of a tracked table.
func (s *Session) TableData(ctx context.Context, id int) (grid table.Grid, err error) {
	defer s.recoverPanic("table_data", &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	return extract.Extract(ctx, s.scanner, id)
}

// Highlight outlines table id, clearing the previous highlight. A stale id
// only clears and reports table.ErrNotFound.
func (s *Session) Highlight(ctx context.Context, id int) (err error) {
	defer s.recoverPanic("highlight", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.highlighted != nil {
		if err := s.highlighted.SetOutline(ctx, ""); err != nil && !errors.Is(err, dom.ErrDetached) {
			s.logger.Warn("session: clear highlight", "url", s.doc.URL(), "error", err)
		}
		s.highlighted = nil
	}
	el, ok := s.scanner.Resolve(id)
	if !ok {
		return fmt.Errorf("session: highlight table %d: %w", id, table.ErrNotFound)
	}
	if err := el.SetOutline(ctx, HighlightStyle); err != nil {
		if errors.Is(err, dom.ErrDetached) {
			return fmt.Errorf("session: highlight table %d: %w", id, table.ErrNotFound)
		}
		return fmt.Errorf("session: highlight table %d: %w", id, err)
	}
	s.highlighted = el
	return nil
}

// Manual exports a user-chosen table: negotiate, wait, extract, render. An
// empty grid is a valid result.
func (s *Session) Manual(ctx context.Context, id int, format table.Format) (exp table.Export, err error) {
	defer func() { s.metrics.ObserveExport("manual", string(format), exp.Rows, err) }()
	defer s.recoverPanic("manual", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.scanner.Resolve(id)
	if !ok {
		return table.Export{}, fmt.Errorf("session: export table %d: %w", id, table.ErrNotFound)
	}

	started := s.negotiator.Negotiate(ctx, s.doc, el).Started
	s.watcher.AwaitStable(ctx, s.doc, started)

	grid, err := extract.Element(ctx, el)
	if err != nil {
		return table.Export{}, fmt.Errorf("session: export table %d: %w", id, err)
	}

	opts := s.options()
	in := render.Input{Grid: grid, Delimiter: opts.Delimiter, LineEnding: opts.LineEnding}
	if format == table.FormatHTML {
		if in.OuterHTML, err = el.OuterHTML(ctx); err != nil {
			s.logger.Debug("session: outer html unavailable, rebuilding", "error", err)
		}
	}
	data, err := s.renderer.Render(format, in)
	if err != nil {
		return table.Export{}, fmt.Errorf("session: export table %d: %w", id, err)
	}

	exp = table.Export{
		Filename:    table.ManualFilename(s.clock(), format),
		ContentType: format.ContentType(),
		Format:      format,
		Rows:        grid.RowCount(),
		Data:        data,
	}
	s.logger.Info("session: manual export", "url", s.doc.URL(), "table", id,
		"format", format, "rows", exp.Rows, "bytes", len(data))
	return exp, nil
}

// Auto exports the largest table of the page as CSV with a byte order
// mark. It fails with table.ErrNoCandidates when the page has no table and
// with table.ErrEmptyExtraction when the chosen table has no rows.
func (s *Session) Auto(ctx context.Context) (exp table.Export, err error) {
	defer func() { s.metrics.ObserveExport("auto", string(table.FormatCSV), exp.Rows, err) }()
	defer s.recoverPanic("auto", &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	sums, err := s.scanner.Scan(ctx, true)
	if err != nil {
		return table.Export{}, fmt.Errorf("session: auto: %w", err)
	}
	if len(sums) == 0 {
		return table.Export{}, fmt.Errorf("session: auto: %w", table.ErrNoCandidates)
	}

	var target dom.Element
	if c, ok, lerr := s.scanner.Largest(ctx); lerr != nil {
		s.logger.Debug("session: largest table unavailable, negotiating page-wide", "url", s.doc.URL(), "error", lerr)
	} else if ok {
		target = c.Element
	}
	started := s.negotiator.Negotiate(ctx, s.doc, target).Started
	s.watcher.AwaitStable(ctx, s.doc, started)

	// The widget may have re-rendered its table; pick from a fresh snapshot.
	if _, err := s.scanner.Scan(ctx, true); err != nil {
		return table.Export{}, fmt.Errorf("session: auto rescan: %w", err)
	}
	best, ok, err := s.scanner.Largest(ctx)
	if err != nil {
		return table.Export{}, fmt.Errorf("session: auto: %w", err)
	}
	if !ok {
		return table.Export{}, fmt.Errorf("session: auto: %w", table.ErrNoCandidates)
	}

	grid, err := extract.Element(ctx, best.Element)
	if err != nil {
		return table.Export{}, fmt.Errorf("session: auto: %w", err)
	}
	if grid.Empty() {
		return table.Export{}, fmt.Errorf("session: auto: table %d: %w", best.ID, table.ErrEmptyExtraction)
	}

	opts := s.options()
	data, err := s.renderer.Render(table.FormatCSV, render.Input{
		Grid:       grid,
		Delimiter:  ",",
		LineEnding: opts.LineEnding,
	})
	if err != nil {
		return table.Export{}, fmt.Errorf("session: auto: %w", err)
	}
	if data, err = render.WithBOM(data); err != nil {
		return table.Export{}, fmt.Errorf("session: auto: %w", err)
	}

	exp = table.Export{
		Filename:    table.AutoFilename(s.clock()),
		ContentType: table.FormatCSV.ContentType(),
		Format:      table.FormatCSV,
		Rows:        grid.RowCount(),
		Data:        data,
	}
	s.logger.Info("session: auto export", "url", s.doc.URL(), "table", best.ID,
		"rows", exp.Rows, "bytes", len(data))
	return exp, nil
}

// recoverPanic turns a panic in a public operation into table.ErrInternal.
func (s *Session) recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		s.logger.Error("session: panic", "op", op, "url", s.doc.URL(), "panic", r, "stack", string(debug.Stack()))
		*err = fmt.Errorf("session: %s: %v: %w", op, r, table.ErrInternal)
	}
}
