package tablesniff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/tablesniff/idgen"
	"github.com/hazyhaar/tablesniff/internal/config"
	"github.com/hazyhaar/tablesniff/internal/delivery"
	"github.com/hazyhaar/tablesniff/internal/fetcher"
	"github.com/hazyhaar/tablesniff/internal/history"
	"github.com/hazyhaar/tablesniff/internal/metrics"
	"github.com/hazyhaar/tablesniff/table"
)

type engineOptions struct {
	logger    *slog.Logger
	store     *config.Store
	metrics   *metrics.Metrics
	fetcher   *fetcher.Fetcher
	downloads []delivery.Target
	clipboard delivery.Target
	newID     idgen.Generator
	clock     func() time.Time
	history   *history.Recorder
	browser   bool
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithStore persists user options in SQLite.
func WithStore(s *config.Store) Option {
	return func(o *engineOptions) { o.store = s }
}

// WithMetrics instruments the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithFetcher replaces the HTTP fetcher used before falling back to Chrome.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(o *engineOptions) { o.fetcher = f }
}

// WithDownloadTargets replaces the download destinations. Default: files
// in the configured directory, plus the webhook when one is configured.
func WithDownloadTargets(targets ...delivery.Target) Option {
	return func(o *engineOptions) { o.downloads = targets }
}

// WithClipboard replaces the clipboard target.
func WithClipboard(t delivery.Target) Option {
	return func(o *engineOptions) { o.clipboard = t }
}

// WithIDGenerator sets how page and export ids are minted. Default: UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *engineOptions) { o.newID = gen }
}

// WithClock sets the time source used for filenames. Default: time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *engineOptions) { o.clock = fn }
}

// WithHistory records every export attempt.
func WithHistory(h *history.Recorder) Option {
	return func(o *engineOptions) { o.history = h }
}

// WithoutBrowser disables Chrome. Pages are then fetched over HTTP only.
func WithoutBrowser() Option {
	return func(o *engineOptions) { o.browser = false }
}

// Options returns the current user options.
func (e *Engine) Options() table.Options {
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	return e.opts
}

// SetOptions validates and stores opts. Hosts are normalised first.
func (e *Engine) SetOptions(ctx context.Context, opts table.Options) (table.Options, error) {
	hosts := make([]string, 0, len(opts.AutoDownloadDomains))
	for _, h := range opts.AutoDownloadDomains {
		if h = table.NormalizeHost(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	opts.AutoDownloadDomains = hosts
	if err := opts.Validate(); err != nil {
		return table.Options{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if e.store != nil {
		if err := e.store.Save(ctx, opts); err != nil {
			return table.Options{}, fmt.Errorf("tablesniff: %w", err)
		}
	}
	e.setOptions(opts)
	return opts, nil
}

func (e *Engine) setOptions(opts table.Options) {
	e.optMu.Lock()
	e.opts = opts
	e.optMu.Unlock()
}

// ToggleDomain flips auto-download for host and reports whether it is now
// enabled.
func (e *Engine) ToggleDomain(ctx context.Context, host string) (bool, error) {
	host = table.NormalizeHost(host)
	if host == "" {
		return false, fmt.Errorf("%w: empty host", ErrInvalidInput)
	}
	if e.store != nil {
		enabled, err := e.store.ToggleDomain(ctx, host)
		if err != nil {
			return false, fmt.Errorf("tablesniff: %w", err)
		}
		opts, err := e.store.Load(ctx)
		if err != nil {
			return false, fmt.Errorf("tablesniff: %w", err)
		}
		e.setOptions(opts)
		return enabled, nil
	}

	e.optMu.Lock()
	defer e.optMu.Unlock()
	domains := make([]string, 0, len(e.opts.AutoDownloadDomains)+1)
	enabled := true
	for _, d := range e.opts.AutoDownloadDomains {
		if d == host {
			enabled = false
			continue
		}
		domains = append(domains, d)
	}
	if enabled {
		domains = append(domains, host)
	}
	e.opts.AutoDownloadDomains = domains
	return enabled, nil
}

// WatchOptions follows option changes written to the store by other
// processes until ctx is done. It needs a store.
func (e *Engine) WatchOptions(ctx context.Context, interval time.Duration) error {
	if e.store == nil {
		return fmt.Errorf("tablesniff: watch options: no store")
	}
	return e.store.Watch(ctx, interval, e.logger, func(opts table.Options) {
		e.logger.Info("tablesniff: options reloaded", "auto_download_domains", len(opts.AutoDownloadDomains))
		e.setOptions(opts)
	})
}
