// Package htmldom is an in-memory dom.Document over a parsed HTML tree.
// It serves pages fetched without a browser and stands in for a live tab in
// tests: scripts never run, but tests can attach event handlers and mutate
// the tree to emulate a client-side table widget.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

// Event is one dispatched DOM event, recorded for inspection.
type Event struct {
	Type   string
	Target string // tag, plus #id when the element has one
}

// Handler reacts to an event dispatched on an element matching its selector
// or on one of its descendants.
type Handler func(d *Document)

type handler struct {
	selector string
	event    string
	fn       Handler
}

// Document is a mutable parsed page. It is safe for concurrent use.
type Document struct {
	url string

	mu       sync.RWMutex
	doc      *goquery.Document
	marks    map[string]bool
	handlers []handler
	events   []Event

	subMu   sync.Mutex
	subs    map[int]chan dom.Mutation
	nextSub int
}

var _ dom.Document = (*Document)(nil)

// New parses r as HTML.
func New(url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse %s: %w", url, err)
	}
	return &Document{
		url:   url,
		doc:   goquery.NewDocumentFromNode(root),
		marks: make(map[string]bool),
		subs:  make(map[int]chan dom.Mutation),
	}, nil
}

// Parse is New over a string.
func Parse(url, src string) (*Document, error) {
	return New(url, strings.NewReader(src))
}

// URL returns the address the document was loaded from.
func (d *Document) URL() string { return d.url }

// QueryAll returns the elements matching selector in document order.
func (d *Document) QueryAll(_ context.Context, selector string) ([]dom.Element, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.doc.Find(selector)), nil
}

// Subscribe registers for mutation notifications until ctx is done.
func (d *Document) Subscribe(ctx context.Context) (<-chan dom.Mutation, error) {
	ch := make(chan dom.Mutation, 1)

	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subMu.Unlock()

	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		delete(d.subs, id)
		close(ch)
		d.subMu.Unlock()
	}()
	return ch, nil
}

// Mark sets a page-global marker.
func (d *Document) Mark(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.marks[name]
	d.marks[name] = true
	return was, nil
}

// On registers fn for events of the given type ("click", "input",
// "change") whose target is, or sits inside, an element matching selector.
func (d *Document) On(selector, event string, fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler{selector: selector, event: event, fn: fn})
}

// Mutate edits the tree under the write lock, then notifies subscribers.
func (d *Document) Mutate(fn func(root *goquery.Selection)) {
	d.mu.Lock()
	fn(d.doc.Selection)
	d.mu.Unlock()
	d.notify(dom.Mutation{Kind: dom.MutationInsert})
}

// Events returns a copy of the dispatched events, oldest first.
func (d *Document) Events() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Event(nil), d.events...)
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, _ := d.doc.Html()
	return s
}

func (d *Document) notify(m dom.Mutation) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// dispatch records the event and returns the handlers it triggers. Called
// with d.mu held; the caller runs the handlers after unlocking.
func (d *Document) dispatch(n *html.Node, typ string) []Handler {
	d.events = append(d.events, Event{Type: typ, Target: describe(n)})

	var fns []Handler
	target := d.doc.FindNodes(n)
	for _, h := range d.handlers {
		if h.event != typ {
			continue
		}
		if target.Is(h.selector) || target.ParentsFiltered(h.selector).Length() > 0 {
			fns = append(fns, h.fn)
		}
	}
	return fns
}

func (d *Document) run(fns []Handler) {
	for _, fn := range fns {
		fn(d)
	}
}

func (d *Document) wrap(sel *goquery.Selection) []dom.Element {
	out := make([]dom.Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, &element{d: d, n: n})
	}
	return out
}

// attached reports whether n is still reachable from the document root.
func (d *Document) attached(n *html.Node) bool {
	root := d.doc.Nodes[0]
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func describe(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "id" && a.Val != "" {
			return n.Data + "#" + a.Val
		}
	}
	return n.Data
}
