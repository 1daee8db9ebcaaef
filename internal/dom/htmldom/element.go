package htmldom

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

// Default rendered size of a visible element without an inline width or
// height.
const (
	defaultWidth  = 100
	defaultHeight = 20
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

var (
	widthPattern   = regexp.MustCompile(`(?i)(?:^|;)\s*width\s*:\s*(\d+(?:\.\d+)?)(?:px)?\s*(?:;|$)`)
	heightPattern  = regexp.MustCompile(`(?i)(?:^|;)\s*height\s*:\s*(\d+(?:\.\d+)?)(?:px)?\s*(?:;|$)`)
	outlinePattern = regexp.MustCompile(`(?i)\s*outline\s*:[^;]*;?`)
)

type element struct {
	d *Document
	n *html.Node
}

var _ dom.Element = (*element)(nil)

func (e *element) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.n).Selection
}

func (e *element) QueryAll(_ context.Context, selector string) ([]dom.Element, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return nil, dom.ErrDetached
	}
	return e.d.wrap(e.sel().Find(selector)), nil
}

func (e *element) Count(_ context.Context, selector string) (int, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return 0, dom.ErrDetached
	}
	return e.sel().Find(selector).Length(), nil
}

func (e *element) Rows(_ context.Context, limit int) ([][]string, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return nil, dom.ErrDetached
	}
	rows := tableRows(e.n)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([][]string, len(rows))
	for i, tr := range rows {
		cells := []string{}
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				cells = append(cells, innerText(c))
			}
		}
		out[i] = cells
	}
	return out, nil
}

func (e *element) RowCount(_ context.Context) (int, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return 0, dom.ErrDetached
	}
	return len(tableRows(e.n)), nil
}

func (e *element) Box(_ context.Context) (dom.Box, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return dom.Box{}, dom.ErrDetached
	}
	for p := e.n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && isHidden(p) {
			return dom.Box{}, nil
		}
	}
	style := attr(e.n, "style")
	return dom.Box{
		Width:  dimension(widthPattern, style, defaultWidth),
		Height: dimension(heightPattern, style, defaultHeight),
	}, nil
}

func (e *element) Text(_ context.Context) (string, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return "", dom.ErrDetached
	}
	return innerText(e.n), nil
}

func (e *element) Attr(_ context.Context, name string) (string, bool, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return "", false, dom.ErrDetached
	}
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

func (e *element) Click(_ context.Context) error {
	e.d.mu.Lock()
	if !e.d.attached(e.n) {
		e.d.mu.Unlock()
		return dom.ErrDetached
	}
	fns := e.d.dispatch(e.n, "click")
	e.d.mu.Unlock()

	e.d.run(fns)
	return nil
}

func (e *element) Options(_ context.Context) ([]dom.Option, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return nil, dom.ErrDetached
	}
	opts := e.sel().Find("option")
	out := make([]dom.Option, 0, opts.Length())
	selected := -1
	opts.Each(func(i int, s *goquery.Selection) {
		_, sel := s.Attr("selected")
		if sel && selected < 0 {
			selected = i
		}
		out = append(out, dom.Option{Text: innerText(s.Nodes[0])})
	})
	if selected < 0 && len(out) > 0 {
		selected = 0
	}
	if selected >= 0 {
		out[selected].Selected = true
	}
	return out, nil
}

func (e *element) SelectOption(_ context.Context, index int) error {
	e.d.mu.Lock()
	if !e.d.attached(e.n) {
		e.d.mu.Unlock()
		return dom.ErrDetached
	}
	opts := e.sel().Find("option")
	if index < 0 || index >= opts.Length() {
		e.d.mu.Unlock()
		return fmt.Errorf("htmldom: option index %d out of range [0,%d)", index, opts.Length())
	}
	opts.RemoveAttr("selected")
	opts.Eq(index).SetAttr("selected", "")

	fns := e.d.dispatch(e.n, "input")
	fns = append(fns, e.d.dispatch(e.n, "change")...)
	e.d.mu.Unlock()

	e.d.run(fns)
	return nil
}

func (e *element) OuterHTML(_ context.Context) (string, error) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	if !e.d.attached(e.n) {
		return "", dom.ErrDetached
	}
	return goquery.OuterHtml(e.sel())
}

func (e *element) SetOutline(_ context.Context, style string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if !e.d.attached(e.n) {
		return dom.ErrDetached
	}
	css := strings.TrimSuffix(strings.TrimSpace(outlinePattern.ReplaceAllString(attr(e.n, "style"), "")), ";")
	if style != "" {
		if css != "" && !strings.HasSuffix(css, ";") {
			css += ";"
		}
		css = strings.TrimSpace(css + " outline: " + style + ";")
	}
	setAttr(e.n, "style", css)
	return nil
}

// tableRows returns the tr elements of a table in HTMLTableElement.rows
// order: thead rows, then body rows in tree order, then tfoot rows. Rows of
// nested tables are not included.
func tableRows(t *html.Node) []*html.Node {
	var head, body, foot []*html.Node
	collect := func(sec *html.Node) []*html.Node {
		var rows []*html.Node
		for c := sec.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Tr {
				rows = append(rows, c)
			}
		}
		return rows
	}
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Thead:
			head = append(head, collect(c)...)
		case atom.Tbody:
			body = append(body, collect(c)...)
		case atom.Tfoot:
			foot = append(foot, collect(c)...)
		case atom.Tr:
			body = append(body, c)
		}
	}
	rows := append(head, body...)
	return append(rows, foot...)
}

// innerText approximates the rendered text of n: hidden subtrees, scripts
// and styles are skipped, <br> breaks lines, whitespace runs collapse.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template:
				return
			case atom.Br:
				b.WriteByte('\n')
				return
			}
			if isHidden(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
		if a.Key == "style" {
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(a.Val) {
					return true
				}
			}
		}
	}
	return false
}

func dimension(pat *regexp.Regexp, style string, def float64) float64 {
	m := pat.FindStringSubmatch(style)
	if m == nil {
		return def
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return def
	}
	return v
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			if val == "" {
				n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			} else {
				n.Attr[i].Val = val
			}
			return
		}
	}
	if val != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
}
