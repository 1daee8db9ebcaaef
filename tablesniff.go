// Package tablesniff finds the tables of a web page, expands paginated
// widgets so they show every row, and exports the result as CSV, TSV,
// Markdown or HTML.
//
// An Engine holds open pages. Each page is loaded either over plain HTTP
// into an in-memory document or in a stealth Chrome tab, and gets its own
// session with a table snapshot, a highlight and an install marker.
package tablesniff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazyhaar/tablesniff/idgen"
	"github.com/hazyhaar/tablesniff/internal/browser"
	"github.com/hazyhaar/tablesniff/internal/config"
	"github.com/hazyhaar/tablesniff/internal/delivery"
	"github.com/hazyhaar/tablesniff/internal/dom"
	"github.com/hazyhaar/tablesniff/internal/fetcher"
	"github.com/hazyhaar/tablesniff/internal/history"
	"github.com/hazyhaar/tablesniff/internal/metrics"
	"github.com/hazyhaar/tablesniff/internal/negotiate"
	"github.com/hazyhaar/tablesniff/internal/quiesce"
	"github.com/hazyhaar/tablesniff/internal/render"
	"github.com/hazyhaar/tablesniff/internal/scanner"
	"github.com/hazyhaar/tablesniff/internal/session"
	"github.com/hazyhaar/tablesniff/kit"
	"github.com/hazyhaar/tablesniff/table"
)

// Acquisition methods reported for an open page.
const (
	MethodHTTP     = "http"
	MethodBrowser  = "browser"
	MethodAttached = "attached"
)

// ErrInvalidInput marks a request rejected before any page work: a bad
// URL, an unknown format or target, or options that fail validation.
var ErrInvalidInput = errors.New("tablesniff: invalid input")

var errHistoryDisabled = errors.New("not configured")

// StealthLevel selects how OpenPage acquires a page.
type StealthLevel = browser.StealthLevel

const (
	LevelAuto     = browser.LevelAuto
	LevelHTTP     = browser.LevelHTTP
	LevelHeadless = browser.LevelHeadless
	LevelHeadful  = browser.LevelHeadful
)

// ParseStealthLevel accepts auto, http, headless, headful or -1..2.
func ParseStealthLevel(s string) (StealthLevel, error) { return browser.ParseStealthLevel(s) }

// PageInfo describes one open page.
type PageInfo struct {
	ID           string    `json:"page_id"`
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	OpenedAt     time.Time `json:"opened_at"`
	AutoDownload *Download `json:"auto_download,omitempty"`
}

// Download reports an export handed to delivery targets.
type Download struct {
	ExportID string `json:"export_id"`
	Filename string `json:"filename"`
	Rows     int    `json:"rows"`
	Error    string `json:"error,omitempty"`
}

type page struct {
	info    PageInfo
	session *session.Session
	tab     *browser.Tab
}

func (p *page) close() {
	p.session.Close()
	if p.tab != nil {
		p.tab.Close()
	}
}

// Engine owns the browser, the open pages, the user options and the
// delivery targets.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	renderer *render.Renderer
	fetch    *fetcher.Fetcher
	mgr      *browser.Manager
	store    *config.Store
	history  *history.Recorder
	newID    idgen.Generator
	clock    func() time.Time

	downloads *delivery.Router
	clipboard *delivery.Router

	optMu sync.RWMutex
	opts  table.Options

	pages *lru.Cache[string, *page]
}

// New builds an Engine. Chrome is started on the first page that needs it.
// With a store, options are loaded from it; otherwise they live in memory.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := engineOptions{
		logger:  slog.Default(),
		newID:   idgen.UUIDv7(),
		clock:   time.Now,
		browser: true,
	}
	for _, fn := range opts {
		fn(&o)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   o.logger,
		metrics:  o.metrics,
		renderer: render.New(),
		store:    o.store,
		history:  o.history,
		newID:    o.newID,
		clock:    o.clock,
		opts:     table.DefaultOptions(),
	}

	e.fetch = o.fetcher
	if e.fetch == nil {
		e.fetch = fetcher.New(fetcher.WithLogger(e.logger))
	}
	if o.browser {
		e.mgr = browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Headful:          cfg.Browser.Stealth == "headful",
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			Logger:           e.logger,
		})
		e.mgr.OnRecycle(e.closeBrowserPages)
	}

	downloads := o.downloads
	if downloads == nil {
		downloads = defaultDownloadTargets(cfg, e.logger)
	}
	clip := o.clipboard
	if clip == nil {
		clip = delivery.NewClipboard(delivery.WithClipboardLogger(e.logger))
	}
	e.downloads = delivery.NewRouter(e.logger, downloads, delivery.WithObserver(e.metrics.ObserveDelivery))
	e.clipboard = delivery.NewRouter(e.logger, []delivery.Target{clip}, delivery.WithObserver(e.metrics.ObserveDelivery))

	maxOpen := cfg.Sessions.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 8
	}
	cache, err := lru.NewWithEvict(maxOpen, func(id string, p *page) {
		e.logger.Info("tablesniff: page closed", "page_id", id, "url", p.info.URL)
		p.close()
	})
	if err != nil {
		return nil, fmt.Errorf("tablesniff: session cache: %w", err)
	}
	e.pages = cache

	if e.store != nil {
		loaded, err := e.store.Load(context.Background())
		if err != nil {
			return nil, fmt.Errorf("tablesniff: %w", err)
		}
		e.opts = loaded
	}
	return e, nil
}

// Metrics returns the engine collectors, nil when not instrumented.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Close closes every page, the delivery targets and the browser.
func (e *Engine) Close() error {
	e.pages.Purge()
	e.metrics.SetOpenSessions(0)
	err := errors.Join(e.downloads.Close(), e.clipboard.Close())
	if e.mgr != nil {
		err = errors.Join(err, e.mgr.Close())
	}
	return err
}

// OpenPage loads pageURL and installs a session on it. level chooses how:
// LevelAuto fetches over HTTP and falls back to Chrome when the served
// markup holds no table. When the host is opted into auto-download, the
// largest table is exported right away; a failure there is reported in
// PageInfo.AutoDownload and does not fail the open.
func (e *Engine) OpenPage(ctx context.Context, pageURL string, level StealthLevel) (PageInfo, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return PageInfo{}, fmt.Errorf("%w: page url %q", ErrInvalidInput, pageURL)
	}

	doc, tab, method, err := e.acquire(ctx, pageURL, level)
	if err != nil {
		return PageInfo{}, err
	}
	e.metrics.IncFetch(method)

	info, err := e.attach(ctx, doc, tab, method)
	if err != nil {
		return PageInfo{}, err
	}

	if e.Options().AutoDownload(u.Hostname()) {
		dl := Download{}
		exp, err := e.AutoDownload(ctx, info.ID)
		dl.ExportID, dl.Filename, dl.Rows = exp.ID, exp.Filename, exp.Rows
		if err != nil {
			dl.Error = err.Error()
			e.logger.Warn("tablesniff: auto-download failed", "page_id", info.ID, "url", pageURL, "error", err)
		}
		info.AutoDownload = &dl
	}
	return info, nil
}

// Attach installs a session on an already loaded document, such as one
// built in-process, and returns its page info.
func (e *Engine) Attach(ctx context.Context, doc dom.Document) (PageInfo, error) {
	return e.attach(ctx, doc, nil, MethodAttached)
}

func (e *Engine) attach(ctx context.Context, doc dom.Document, tab *browser.Tab, method string) (PageInfo, error) {
	sess := session.New(doc, e.sessionConfig(),
		session.WithLogger(e.logger),
		session.WithClock(e.clock),
		session.WithOptions(e.Options),
		session.WithMetrics(e.metrics),
		session.WithRenderer(e.renderer),
	)
	if err := sess.Install(ctx); err != nil {
		sess.Close()
		if tab != nil {
			tab.Close()
		}
		return PageInfo{}, fmt.Errorf("tablesniff: %w", err)
	}

	p := &page{
		info: PageInfo{
			ID:       e.newID(),
			URL:      doc.URL(),
			Method:   method,
			OpenedAt: e.clock().UTC(),
		},
		session: sess,
		tab:     tab,
	}
	e.pages.Add(p.info.ID, p)
	e.metrics.SetOpenSessions(e.pages.Len())
	e.logger.Info("tablesniff: page opened", "page_id", p.info.ID, "url", p.info.URL, "method", method)
	return p.info, nil
}

func (e *Engine) acquire(ctx context.Context, pageURL string, level StealthLevel) (dom.Document, *browser.Tab, string, error) {
	if level == browser.LevelAuto || level == browser.LevelHTTP {
		res, err := e.fetch.Fetch(ctx, pageURL)
		switch {
		case err == nil && (res.Sufficient || level == browser.LevelHTTP || e.mgr == nil):
			doc, err := res.Document()
			if err != nil {
				return nil, nil, "", fmt.Errorf("tablesniff: %w", err)
			}
			return doc, nil, MethodHTTP, nil
		case err != nil && (level == browser.LevelHTTP || e.mgr == nil):
			return nil, nil, "", fmt.Errorf("tablesniff: %w", err)
		case err != nil:
			e.logger.Info("tablesniff: http fetch failed, using browser", "url", pageURL, "error", err)
		default:
			e.logger.Info("tablesniff: no table in served markup, using browser", "url", pageURL)
		}
		level = browser.LevelHeadless
	}

	if e.mgr == nil {
		return nil, nil, "", fmt.Errorf("tablesniff: browser disabled, cannot open %s at level %s", pageURL, level)
	}
	tab, err := browser.OpenTab(ctx, e.mgr, pageURL, level)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tablesniff: %w", err)
	}
	return tab.Document(), tab, MethodBrowser, nil
}

func (e *Engine) sessionConfig() session.Config {
	return session.Config{
		Scan:      scanner.Config{Debounce: e.cfg.Scan.Debounce},
		Negotiate: negotiate.Config{ListboxWait: e.cfg.Negotiate.ListboxWait},
		Quiesce: quiesce.Config{
			StableChecks: e.cfg.Quiesce.StableChecks,
			PollInterval: e.cfg.Quiesce.PollInterval,
			BatchWindow:  e.cfg.Quiesce.BatchWindow,
			Deadline:     e.cfg.Quiesce.Deadline,
		},
	}
}

func (e *Engine) page(pageID string) (*page, error) {
	p, ok := e.pages.Get(pageID)
	if !ok {
		return nil, fmt.Errorf("tablesniff: page %s: %w", pageID, table.ErrNotFound)
	}
	return p, nil
}

// Pages lists the open pages, most recently used first.
func (e *Engine) Pages() []PageInfo {
	keys := e.pages.Keys()
	out := make([]PageInfo, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if p, ok := e.pages.Peek(keys[i]); ok {
			out = append(out, p.info)
		}
	}
	return out
}

// ClosePage releases a page and its tab.
func (e *Engine) ClosePage(pageID string) error {
	if !e.pages.Remove(pageID) {
		return fmt.Errorf("tablesniff: page %s: %w", pageID, table.ErrNotFound)
	}
	e.metrics.SetOpenSessions(e.pages.Len())
	return nil
}

// closeBrowserPages drops every page backed by a tab. It runs before
// Chrome is recycled.
func (e *Engine) closeBrowserPages() {
	for _, id := range e.pages.Keys() {
		if p, ok := e.pages.Peek(id); ok && p.tab != nil {
			e.pages.Remove(id)
		}
	}
	e.metrics.SetOpenSessions(e.pages.Len())
}

// ListTables rescans a page and returns its candidate tables.
func (e *Engine) ListTables(ctx context.Context, pageID string, includeHidden bool) ([]table.Summary, error) {
	p, err := e.page(pageID)
	if err != nil {
		return nil, err
	}
	return p.session.ListTables(ctx, includeHidden)
}

// TableData returns the live grid of a table, or table.ErrNotFound.
func (e *Engine) TableData(ctx context.Context, pageID string, id int) (table.Grid, error) {
	p, err := e.page(pageID)
	if err != nil {
		return nil, err
	}
	return p.session.TableData(ctx, id)
}

// Highlight outlines a table and clears the previous one.
func (e *Engine) Highlight(ctx context.Context, pageID string, id int) error {
	p, err := e.page(pageID)
	if err != nil {
		return err
	}
	return p.session.Highlight(ctx, id)
}

// Export runs a manual export of one table and hands it to target. The
// export is returned even when delivery fails.
func (e *Engine) Export(ctx context.Context, pageID string, id int, format table.Format, target Target) (exp table.Export, err error) {
	p, err := e.page(pageID)
	if err != nil {
		return table.Export{}, err
	}
	defer e.record(ctx, p, "manual", id, format, target, e.clock(), &exp, &err)

	exp, err = p.session.Manual(ctx, id, format)
	if err != nil {
		return table.Export{}, err
	}
	exp.ID = e.newID()
	e.logger.Info("tablesniff: export", "page_id", pageID, "export_id", exp.ID,
		"target", target, "transport", kit.GetTransport(ctx), "trace_id", kit.GetTraceID(ctx))
	return exp, e.deliver(ctx, pageID, exp, target)
}

// AutoDownload exports the largest table of a page to the download targets.
func (e *Engine) AutoDownload(ctx context.Context, pageID string) (exp table.Export, err error) {
	p, err := e.page(pageID)
	if err != nil {
		return table.Export{}, err
	}
	defer e.record(ctx, p, "auto", -1, table.FormatCSV, TargetDownload, e.clock(), &exp, &err)

	exp, err = p.session.Auto(ctx)
	if err != nil {
		return table.Export{}, err
	}
	exp.ID = e.newID()
	return exp, e.deliver(ctx, pageID, exp, TargetDownload)
}

func (e *Engine) record(ctx context.Context, p *page, mode string, id int, format table.Format, target Target, started time.Time, exp *table.Export, err *error) {
	if e.history == nil {
		return
	}
	entry := &history.Entry{
		ID:         exp.ID,
		Timestamp:  started.UTC(),
		PageID:     p.info.ID,
		PageURL:    p.info.URL,
		Mode:       mode,
		TableID:    id,
		Format:     string(format),
		Target:     string(target),
		Filename:   exp.Filename,
		Rows:       exp.Rows,
		DurationMs: e.clock().Sub(started).Milliseconds(),
		TraceID:    kit.GetTraceID(ctx),
	}
	if *err != nil {
		entry.Error = (*err).Error()
	}
	e.history.Record(entry)
}

// History returns recorded export attempts, newest first.
func (e *Engine) History(ctx context.Context, f history.Filter) ([]history.Entry, error) {
	if e.history == nil {
		return nil, fmt.Errorf("tablesniff: export history: %w", errHistoryDisabled)
	}
	return e.history.Query(ctx, f)
}
