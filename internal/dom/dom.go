// Package dom is the narrow document surface the table engine works against.
// A live Chrome tab (internal/browser) and an in-memory parsed document
// (internal/dom/htmldom) both implement it.
package dom

import (
	"context"
	"errors"
)

// ErrDetached is returned by Element methods once the element is no longer
// connected to its document.
var ErrDetached = errors.New("dom: element detached")

// ErrTimeout is returned by WaitFor when no element appeared in time.
var ErrTimeout = errors.New("dom: wait timed out")

// Box is the rendered size of an element in CSS pixels.
type Box struct {
	Width  float64
	Height float64
}

// Visible reports whether the element occupies space in the layout.
func (b Box) Visible() bool { return b.Width > 0 && b.Height > 0 }

// Option is one entry of a native select control.
type Option struct {
	Text     string
	Selected bool
}

// Mutation kinds. Only structural changes are reported.
const (
	MutationInsert = "insert"
	MutationRemove = "remove"
	MutationReset  = "reset"
)

// Mutation is one structural change notification. Subscribers only learn
// that the tree changed, never what it looks like now.
type Mutation struct {
	Kind string
}

// Element is a handle to one node in a document.
type Element interface {
	// QueryAll returns descendants matching a CSS selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Count returns the number of descendants matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// Rows reads table rows in HTMLTableElement.rows order with the trimmed
	// visible text of each cell. limit <= 0 reads every row.
	Rows(ctx context.Context, limit int) ([][]string, error)
	// RowCount is len(rows) for a table element.
	RowCount(ctx context.Context) (int, error)
	Box(ctx context.Context) (Box, error)
	// Text is the trimmed visible text.
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	// Click dispatches a bubbling click.
	Click(ctx context.Context) error
	// Options lists the entries of a select element.
	Options(ctx context.Context) ([]Option, error)
	// SelectOption sets selectedIndex and dispatches input then change.
	SelectOption(ctx context.Context, index int) error
	OuterHTML(ctx context.Context) (string, error)
	// SetOutline sets the inline outline style. Empty clears it.
	SetOutline(ctx context.Context, style string) error
}

// Document is one loaded page.
type Document interface {
	URL() string
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Subscribe delivers structural mutations until ctx is cancelled, then
	// closes the channel. Slow receivers lose notifications, never block the
	// page.
	Subscribe(ctx context.Context) (<-chan Mutation, error)
	// Mark sets a page-global marker and reports whether it was already set.
	Mark(ctx context.Context, name string) (bool, error)
}
