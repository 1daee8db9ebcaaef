// Package debounce coalesces bursts of items into batches emitted after a
// quiet window. It is not safe for concurrent use: one goroutine owns the
// Debouncer and selects on C alongside its input channel.
package debounce

import "time"

// Config controls the batching behaviour.
type Config struct {
	// Window is the quiet time after the last item before a flush. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many items accumulate. Default: 1000.
	MaxBuffer int
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 250 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
}

// Debouncer buffers items and hands them to a flush function once no item
// arrived for Window, or as soon as MaxBuffer items are pending.
type Debouncer[T any] struct {
	cfg     Config
	items   []T
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]T)
}

// New creates a Debouncer. flushFn receives a slice that is only valid for
// the duration of the call.
func New[T any](cfg Config, flushFn func([]T)) *Debouncer[T] {
	cfg.defaults()
	return &Debouncer[T]{
		cfg:     cfg,
		items:   make([]T, 0, min(cfg.MaxBuffer, 64)),
		flushFn: flushFn,
	}
}

// Add buffers an item and restarts the window. Returns true if the buffer
// was full and a flush happened immediately.
func (d *Debouncer[T]) Add(item T) bool {
	d.items = append(d.items, item)

	if len(d.items) >= d.cfg.MaxBuffer {
		d.Flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// C fires when the window expires. It is nil while nothing is pending, so a
// select on it blocks.
func (d *Debouncer[T]) C() <-chan time.Time {
	return d.timerCh
}

// Pending returns the number of buffered items.
func (d *Debouncer[T]) Pending() int { return len(d.items) }

// Flush emits the buffered items, if any, and resets.
func (d *Debouncer[T]) Flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.items) == 0 {
		return
	}
	d.flushFn(d.items)
	d.items = d.items[:0]
}

// Stop discards pending items without flushing.
func (d *Debouncer[T]) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.timerCh = nil
	d.items = d.items[:0]
}
