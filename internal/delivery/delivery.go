// Package delivery hands finished exports to their destinations: files,
// the clipboard, stdout, webhooks or in-process callbacks.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/tablesniff/kit"
	"github.com/hazyhaar/tablesniff/table"
)

// Target is one export destination.
type Target interface {
	Name() string
	Deliver(ctx context.Context, exp table.Export) error
	Close() error
}

// Router fans an export out to all configured targets. One target error
// does not block the others: errors are logged and the first encountered
// is returned wrapped in table.ErrDelivery.
type Router struct {
	targets []Target
	logger  *slog.Logger
	observe func(target string, err error)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithObserver registers a callback invoked after each target delivery.
func WithObserver(fn func(target string, err error)) RouterOption {
	return func(r *Router) { r.observe = fn }
}

// NewRouter creates a fan-out router delivering to all targets.
func NewRouter(logger *slog.Logger, targets []Target, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{targets: targets, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Len returns the number of targets.
func (r *Router) Len() int { return len(r.targets) }

// Deliver sends exp to every target.
func (r *Router) Deliver(ctx context.Context, exp table.Export) error {
	if len(r.targets) == 0 {
		return fmt.Errorf("delivery: no targets: %w", table.ErrDelivery)
	}
	log := r.logger.With("page_id", kit.GetPageID(ctx), "trace_id", kit.GetTraceID(ctx))
	var firstErr error
	for _, t := range r.targets {
		err := t.Deliver(ctx, exp)
		if r.observe != nil {
			r.observe(t.Name(), err)
		}
		if err != nil {
			log.Warn("delivery: target failed", "target", t.Name(), "file", exp.Filename, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("delivery: %s: %w", t.Name(), err)
			}
			continue
		}
		log.Info("delivery: delivered", "target", t.Name(), "file", exp.Filename, "bytes", len(exp.Data))
	}
	if firstErr != nil {
		return fmt.Errorf("%w: %w", table.ErrDelivery, firstErr)
	}
	return nil
}

// Close closes every target and returns the first error.
func (r *Router) Close() error {
	var firstErr error
	for _, t := range r.targets {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Func delivers through a Go function call.
type Func func(ctx context.Context, exp table.Export) error

// Callback delivers exports in-process with no serialisation.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback target. fn may be nil.
func NewCallback(fn Func) *Callback { return &Callback{fn: fn} }

func (c *Callback) Name() string { return "callback" }

func (c *Callback) Deliver(ctx context.Context, exp table.Export) error {
	if c.fn != nil {
		return c.fn(ctx, exp)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
