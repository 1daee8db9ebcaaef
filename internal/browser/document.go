package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

const (
	mutationBinding = "__tablesniff_mutation"
	detachedMarker  = "tablesniff:detached"
)

// observerScript reports structural mutations through the CDP binding, at
// most one insert and one remove call per observer batch. It runs on every
// new document and once on the current one.
const observerScript = `(() => {
	if (window.__tablesniff_observer) return;
	const notify = window.` + mutationBinding + `;
	if (typeof notify !== 'function') return;
	const start = () => {
		const obs = new MutationObserver(records => {
			let ins = false, rem = false;
			for (const r of records) {
				if (r.addedNodes.length) ins = true;
				if (r.removedNodes.length) rem = true;
			}
			if (ins) notify('insert');
			if (rem) notify('remove');
		});
		obs.observe(document.documentElement, {childList: true, subtree: true});
		window.__tablesniff_observer = obs;
	};
	if (document.documentElement) start();
	else document.addEventListener('DOMContentLoaded', start);
})()`

const guard = `if (!this.isConnected) throw new Error('` + detachedMarker + `');`

// Document is a dom.Document over a live rod page.
type Document struct {
	page   *rod.Page
	url    string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	startErr  error

	mu   sync.Mutex
	subs map[int]chan dom.Mutation
	next int
}

var _ dom.Document = (*Document)(nil)

func newDocument(page *rod.Page, url string, logger *slog.Logger) *Document {
	ctx, cancel := context.WithCancel(context.Background())
	return &Document{
		page:   page,
		url:    url,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan dom.Mutation),
	}
}

func (d *Document) URL() string { return d.url }

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return wrap(els), nil
}

// Mark sets window[name] and reports whether it was already set.
func (d *Document) Mark(ctx context.Context, name string) (bool, error) {
	res, err := d.page.Context(ctx).Eval(`(n) => { const had = !!window[n]; window[n] = true; return had; }`, name)
	if err != nil {
		return false, fmt.Errorf("browser: mark: %w", err)
	}
	return res.Value.Bool(), nil
}

// Subscribe forwards MutationObserver batches from the page. The observer
// and the CDP event loop are installed on first use and shared by all
// subscribers.
func (d *Document) Subscribe(ctx context.Context) (<-chan dom.Mutation, error) {
	d.startOnce.Do(func() { d.startErr = d.start() })
	if d.startErr != nil {
		return nil, d.startErr
	}

	ch := make(chan dom.Mutation, 1)
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = ch
	d.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-d.ctx.Done():
		}
		d.mu.Lock()
		if _, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(ch)
		}
		d.mu.Unlock()
	}()
	return ch, nil
}

func (d *Document) start() error {
	if err := (proto.RuntimeAddBinding{Name: mutationBinding}).Call(d.page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: observerScript}).Call(d.page); err != nil {
		return fmt.Errorf("browser: install observer: %w", err)
	}
	if _, err := d.page.Context(d.ctx).Eval(`() => ` + observerScript); err != nil {
		return fmt.Errorf("browser: start observer: %w", err)
	}

	wait := d.page.Context(d.ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name == mutationBinding {
				d.broadcast(dom.Mutation{Kind: e.Payload})
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame.ParentID == "" {
				d.broadcast(dom.Mutation{Kind: dom.MutationReset})
			}
		},
	)
	go wait()
	d.logger.Debug("browser: mutation observer installed", "url", d.url)
	return nil
}

func (d *Document) broadcast(m dom.Mutation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

func (d *Document) close() {
	d.cancel()
}

type element struct {
	el *rod.Element
}

var _ dom.Element = (*element)(nil)

func wrap(els rod.Elements) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out
}

// call evaluates a function with this bound to the element and decodes the
// JSON result into out when out is non-nil.
func (e *element) call(ctx context.Context, js string, out any, args ...any) error {
	res, err := e.el.Context(ctx).Eval(js, args...)
	if err != nil {
		return mapErr(err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("browser: result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("browser: decode result: %w", err)
	}
	return nil
}

// mapErr turns the errors of a node that left the document, or of a page
// that navigated away, into dom.ErrDetached.
func mapErr(err error) error {
	msg := err.Error()
	for _, s := range []string{
		detachedMarker,
		"Could not find object",
		"Could not find node",
		"Cannot find context",
		"does not belong to the document",
	} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", dom.ErrDetached, err)
		}
	}
	return fmt.Errorf("browser: eval: %w", err)
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := e.call(ctx, `() => { `+guard+` }`, nil); err != nil {
		return nil, err
	}
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrap(els), nil
}

func (e *element) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := e.call(ctx, `(s) => { `+guard+` return this.querySelectorAll(s).length; }`, &n, selector)
	return n, err
}

func (e *element) Rows(ctx context.Context, limit int) ([][]string, error) {
	var rows [][]string
	err := e.call(ctx, `(limit) => { `+guard+`
		const rows = this.rows || [];
		const n = limit > 0 ? Math.min(limit, rows.length) : rows.length;
		const out = [];
		for (let i = 0; i < n; i++) {
			out.push(Array.from(rows[i].cells, c => (c.innerText || '').trim()));
		}
		return out;
	}`, &rows, limit)
	return rows, err
}

func (e *element) RowCount(ctx context.Context) (int, error) {
	var n int
	err := e.call(ctx, `() => { `+guard+` return (this.rows || []).length; }`, &n)
	return n, err
}

func (e *element) Box(ctx context.Context) (dom.Box, error) {
	var b struct {
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	err := e.call(ctx, `() => { `+guard+`
		if (this.offsetWidth !== undefined) return {w: this.offsetWidth, h: this.offsetHeight};
		const r = this.getBoundingClientRect();
		return {w: r.width, h: r.height};
	}`, &b)
	return dom.Box{Width: b.W, Height: b.H}, err
}

func (e *element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, `() => { `+guard+` return (this.innerText || '').trim(); }`, &s)
	return s, err
}

func (e *element) Attr(ctx context.Context, name string) (string, bool, error) {
	var a struct {
		Has   bool   `json:"has"`
		Value string `json:"value"`
	}
	err := e.call(ctx, `(n) => { `+guard+`
		return this.hasAttribute(n) ? {has: true, value: this.getAttribute(n)} : {has: false, value: ''};
	}`, &a, name)
	return a.Value, a.Has, err
}

func (e *element) Click(ctx context.Context) error {
	return e.call(ctx, `() => { `+guard+`
		if (typeof this.click === 'function') this.click();
		else this.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true}));
	}`, nil)
}

func (e *element) Options(ctx context.Context) ([]dom.Option, error) {
	var opts []struct {
		Text     string `json:"text"`
		Selected bool   `json:"selected"`
	}
	err := e.call(ctx, `() => { `+guard+`
		return Array.from(this.options || [], o => ({text: (o.text || '').trim(), selected: o.selected}));
	}`, &opts)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Option, len(opts))
	for i, o := range opts {
		out[i] = dom.Option{Text: o.Text, Selected: o.Selected}
	}
	return out, nil
}

func (e *element) SelectOption(ctx context.Context, index int) error {
	return e.call(ctx, `(i) => { `+guard+`
		this.selectedIndex = i;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`, nil, index)
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, `() => { `+guard+` return this.outerHTML; }`, &s)
	return s, err
}

func (e *element) SetOutline(ctx context.Context, style string) error {
	return e.call(ctx, `(s) => { `+guard+` this.style.outline = s; }`, nil, style)
}
