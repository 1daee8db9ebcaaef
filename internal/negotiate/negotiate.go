// Package negotiate drives a paginated table widget to its largest page
// size before extraction. Strategies are tried in order and the first one
// that applies wins.
package negotiate

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

// Strategy is one way of making a widget render all of its rows.
type Strategy interface {
	Name() string
	// Attempt reports whether the strategy applied. An error means the
	// strategy could not run; the negotiator moves on to the next one.
	Attempt(ctx context.Context, doc dom.Document, target dom.Element) (bool, error)
}

// Config holds negotiation bounds.
type Config struct {
	// ListboxWait bounds the wait for a popup listbox after its trigger is
	// clicked. Default: 1s.
	ListboxWait time.Duration
}

func (c *Config) defaults() {
	if c.ListboxWait <= 0 {
		c.ListboxWait = time.Second
	}
}

// Result reports the outcome of a negotiation.
type Result struct {
	Started  bool
	Strategy string // empty when nothing applied
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// WithStrategies replaces the default strategy list.
func WithStrategies(s ...Strategy) Option {
	return func(n *Negotiator) { n.strategies = s }
}

// WithOnResult registers a callback invoked after every negotiation.
func WithOnResult(fn func(Result)) Option {
	return func(n *Negotiator) { n.onResult = fn }
}

// Negotiator runs strategies in order.
type Negotiator struct {
	strategies []Strategy
	logger     *slog.Logger
	onResult   func(Result)
}

// New creates a Negotiator with the default strategies: show-all trigger,
// native select, popup listbox.
func New(cfg Config, opts ...Option) *Negotiator {
	cfg.defaults()
	n := &Negotiator{
		strategies: []Strategy{ShowAll{}, NativeSelect{}, Listbox{Wait: cfg.ListboxWait}},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Negotiate tries each strategy until one applies. It never fails: a
// strategy error is logged and treated as not applicable.
func (n *Negotiator) Negotiate(ctx context.Context, doc dom.Document, target dom.Element) Result {
	res := Result{}
	for _, s := range n.strategies {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.Attempt(ctx, doc, target)
		if err != nil {
			n.logger.Warn("negotiate: strategy failed", "strategy", s.Name(), "url", doc.URL(), "error", err)
			continue
		}
		if ok {
			res = Result{Started: true, Strategy: s.Name()}
			break
		}
	}
	n.logger.Debug("negotiate: done", "url", doc.URL(), "started", res.Started, "strategy", res.Strategy)
	if n.onResult != nil {
		n.onResult(res)
	}
	return res
}
