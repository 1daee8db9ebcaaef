package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"

	"github.com/hazyhaar/tablesniff/table"
)

// Clipboard copies exports to the system clipboard. When no clipboard
// utility is available it writes an OSC 52 escape sequence to the
// terminal instead, which most terminal emulators forward to the local
// clipboard, over SSH too.
type Clipboard struct {
	write    func(string) error
	terminal io.Writer
	logger   *slog.Logger
}

// ClipboardOption configures a Clipboard target.
type ClipboardOption func(*Clipboard)

// WithTerminal sets where the OSC 52 fallback is written. Default: os.Stderr.
// A nil writer disables the fallback.
func WithTerminal(w io.Writer) ClipboardOption {
	return func(c *Clipboard) { c.terminal = w }
}

// WithClipboardWriter replaces the system clipboard writer.
func WithClipboardWriter(fn func(string) error) ClipboardOption {
	return func(c *Clipboard) { c.write = fn }
}

// WithClipboardLogger sets a custom logger.
func WithClipboardLogger(l *slog.Logger) ClipboardOption {
	return func(c *Clipboard) { c.logger = l }
}

// NewClipboard creates a Clipboard target.
func NewClipboard(opts ...ClipboardOption) *Clipboard {
	c := &Clipboard{
		write:    systemClipboard,
		terminal: os.Stderr,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func systemClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard: no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

func (c *Clipboard) Name() string { return "clipboard" }

// Deliver copies the export text. A leading byte order mark is dropped.
func (c *Clipboard) Deliver(_ context.Context, exp table.Export) error {
	text := strings.TrimPrefix(string(exp.Data), "\ufeff")

	err := c.write(text)
	if err == nil {
		return nil
	}
	if c.terminal == nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	c.logger.Debug("clipboard: system clipboard failed, using osc52", "error", err)

	if _, ferr := osc52.New(text).WriteTo(c.terminal); ferr != nil {
		return fmt.Errorf("clipboard: %v; osc52: %w", err, ferr)
	}
	return nil
}

func (c *Clipboard) Close() error { return nil }
