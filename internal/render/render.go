// Package render serialises an extracted grid into the export formats:
// delimited text, Markdown and sanitised HTML.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	mdtable "github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/encoding/unicode"

	"github.com/hazyhaar/tablesniff/csvcodec"
	"github.com/hazyhaar/tablesniff/table"
)

// Input is everything a renderer may draw from.
type Input struct {
	Grid table.Grid
	// OuterHTML is the live markup of the table, used by the HTML format.
	// When empty the markup is rebuilt from Grid.
	OuterHTML string
	// Delimiter and LineEnding apply to CSV. TSV always uses a tab.
	Delimiter  string
	LineEnding string
}

// Renderer turns an Input into export bytes.
type Renderer struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New builds a Renderer.
func New() *Renderer {
	return &Renderer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				mdtable.NewTablePlugin(),
			),
		),
		policy: tablePolicy(),
	}
}

// tablePolicy keeps table structure and text, nothing else.
func tablePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("table", "caption", "colgroup", "col", "thead", "tbody", "tfoot", "tr", "th", "td", "br")
	p.AllowAttrs("colspan", "rowspan", "scope").OnElements("th", "td")
	p.AllowAttrs("span").OnElements("col", "colgroup")
	return p
}

// Render encodes in according to f.
func (r *Renderer) Render(f table.Format, in Input) ([]byte, error) {
	switch f {
	case table.FormatCSV:
		return []byte(csvcodec.Encode(in.Grid, in.Delimiter, in.LineEnding)), nil
	case table.FormatTSV:
		return []byte(csvcodec.Encode(in.Grid, csvcodec.TSVDelimiter, in.LineEnding)), nil
	case table.FormatMarkdown:
		return r.Markdown(in.Grid)
	case table.FormatHTML:
		return r.HTML(in)
	}
	return nil, fmt.Errorf("render: unknown format %q", f)
}

// Markdown renders grid as a pipe table. The first row is the header.
func (r *Renderer) Markdown(grid table.Grid) ([]byte, error) {
	if grid.Empty() {
		return []byte{}, nil
	}
	md, err := r.md.ConvertString(GridHTML(grid))
	if err != nil {
		return nil, fmt.Errorf("render: markdown: %w", err)
	}
	return []byte(strings.TrimSpace(md) + "\n"), nil
}

// HTML returns sanitised table markup: the live markup when available,
// otherwise markup rebuilt from the grid.
func (r *Renderer) HTML(in Input) ([]byte, error) {
	src := in.OuterHTML
	if strings.TrimSpace(src) == "" {
		src = GridHTML(in.Grid)
	}
	return r.policy.SanitizeBytes([]byte(src)), nil
}

// GridHTML builds a <table> whose first row is a header row.
func GridHTML(grid table.Grid) string {
	tbl := element(atom.Table)
	if len(grid) > 0 {
		thead := element(atom.Thead)
		thead.AppendChild(row(grid[0], atom.Th))
		tbl.AppendChild(thead)
	}
	if len(grid) > 1 {
		tbody := element(atom.Tbody)
		for _, cells := range grid[1:] {
			tbody.AppendChild(row(cells, atom.Td))
		}
		tbl.AppendChild(tbody)
	}
	var buf bytes.Buffer
	_ = html.Render(&buf, tbl)
	return buf.String()
}

func row(cells []string, cell atom.Atom) *html.Node {
	tr := element(atom.Tr)
	for _, c := range cells {
		td := element(cell)
		for i, line := range strings.Split(c, "\n") {
			if i > 0 {
				td.AppendChild(element(atom.Br))
			}
			td.AppendChild(&html.Node{Type: html.TextNode, Data: line})
		}
		tr.AppendChild(td)
	}
	return tr
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// WithBOM prefixes data with a UTF-8 byte order mark so spreadsheet
// applications detect the encoding.
func WithBOM(data []byte) ([]byte, error) {
	out, err := unicode.UTF8BOM.NewEncoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("render: bom: %w", err)
	}
	return out, nil
}
