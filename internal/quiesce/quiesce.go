// Package quiesce waits until a table widget has stopped changing after a
// page-size negotiation. Completion is inferred from a pagination readout
// showing every row, or from the visible row count staying unchanged over
// consecutive checks. A hard deadline bounds every wait.
package quiesce

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/tablesniff/internal/debounce"
	"github.com/hazyhaar/tablesniff/internal/dom"
)

// Outcome says why a wait ended.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"    // negotiation did not start
	OutcomePagination Outcome = "pagination" // readout shows every row
	OutcomeStable     Outcome = "stable"
	OutcomeDeadline   Outcome = "deadline"
	OutcomeCancelled  Outcome = "cancelled"
)

// Config holds the stability heuristics.
type Config struct {
	// StableChecks is the number of consecutive unchanged row counts that
	// count as quiet. Default: 3.
	StableChecks int
	// PollInterval triggers a check even without mutations. Default: 500ms.
	PollInterval time.Duration
	// BatchWindow coalesces mutation bursts into one check. Default: 250ms.
	BatchWindow time.Duration
	// Deadline forces completion. Default: 30s.
	Deadline time.Duration
}

func (c *Config) defaults() {
	if c.StableChecks <= 0 {
		c.StableChecks = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = 250 * time.Millisecond
	}
	if c.Deadline <= 0 {
		c.Deadline = 30 * time.Second
	}
}

// RowCounter reports the aggregate row count of the visible tables.
type RowCounter interface {
	VisibleRows(ctx context.Context) (int, error)
}

// State is the stability counter of one wait.
type State struct {
	Previous  int
	Stable    int
	Checks    int
	Threshold int
}

// NewState returns a State that has not observed anything yet.
func NewState(threshold int) *State {
	return &State{Previous: -1, Threshold: threshold}
}

// Observe records one row count and reports whether the threshold of
// consecutive unchanged observations has been reached.
func (s *State) Observe(count int) bool {
	s.Checks++
	if count == s.Previous {
		s.Stable++
		return s.Stable >= s.Threshold
	}
	s.Stable = 0
	s.Previous = count
	return false
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithOnOutcome registers a callback invoked when a wait ends.
func WithOnOutcome(fn func(Outcome, time.Duration)) Option {
	return func(w *Watcher) { w.onOutcome = fn }
}

// Watcher waits for quiescence on one document.
type Watcher struct {
	cfg       Config
	rows      RowCounter
	logger    *slog.Logger
	onOutcome func(Outcome, time.Duration)
}

// New creates a Watcher counting rows through rows.
func New(cfg Config, rows RowCounter, opts ...Option) *Watcher {
	cfg.defaults()
	w := &Watcher{cfg: cfg, rows: rows, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// AwaitStable blocks until doc is quiet. When started is false it returns
// OutcomeSkipped at once.
func (w *Watcher) AwaitStable(ctx context.Context, doc dom.Document, started bool) Outcome {
	if !started {
		return OutcomeSkipped
	}
	begin := time.Now()
	out := w.await(ctx, doc)
	elapsed := time.Since(begin)

	w.logger.Debug("quiesce: done", "url", doc.URL(), "outcome", out, "elapsed", elapsed)
	if w.onOutcome != nil {
		w.onOutcome(out, elapsed)
	}
	return out
}

func (w *Watcher) await(ctx context.Context, doc dom.Document) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := time.NewTimer(w.cfg.Deadline)
	defer deadline.Stop()
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	muts, err := doc.Subscribe(ctx)
	if err != nil {
		w.logger.Warn("quiesce: subscribe failed, polling only", "url", doc.URL(), "error", err)
		muts = nil
	}

	state := NewState(w.cfg.StableChecks)
	var done Outcome
	deb := debounce.New(debounce.Config{Window: w.cfg.BatchWindow}, func([]dom.Mutation) {
		done = w.check(ctx, doc, state)
	})
	defer deb.Stop()

	for done == "" {
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-deadline.C:
			return OutcomeDeadline
		case m, ok := <-muts:
			if !ok {
				muts = nil
				continue
			}
			deb.Add(m)
		case <-deb.C():
			deb.Flush()
		case <-poll.C:
			done = w.check(ctx, doc, state)
		}
	}
	return done
}

// check runs one observation. It returns the empty Outcome while the page
// is still changing.
func (w *Watcher) check(ctx context.Context, doc dom.Document, state *State) Outcome {
	p, ok, err := findReadout(ctx, doc)
	if err != nil {
		w.logger.Debug("quiesce: readout", "url", doc.URL(), "error", err)
	}
	if ok && p.Complete {
		return OutcomePagination
	}

	n, err := w.rows.VisibleRows(ctx)
	if err != nil {
		w.logger.Debug("quiesce: row count", "url", doc.URL(), "error", err)
		return ""
	}
	if state.Observe(n) {
		return OutcomeStable
	}
	return ""
}
