package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/tablesniff/internal/dom/htmldom"
	"github.com/hazyhaar/tablesniff/internal/scanner"
	"github.com/hazyhaar/tablesniff/table"
)

func TestExtract_LiveState(t *testing.T) {
	doc, err := htmldom.Parse("", `<table id="t">
<thead><tr><th>Name</th><th>Price</th></tr></thead>
<tbody><tr><td> Widget </td><td>10</td></tr></tbody></table>`)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := scanner.New(doc, scanner.Config{})
	if _, err := s.Scan(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Rows added after the scan must appear: extraction reads the DOM, not
	// the preview.
	doc.Mutate(func(root *goquery.Selection) {
		root.Find("tbody").AppendHtml(`<tr><td>Gadget</td><td>20</td></tr>`)
	})

	got, err := Extract(ctx, s, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := table.Grid{{"Name", "Price"}, {"Widget", "10"}, {"Gadget", "20"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("grid: got %q, want %q", got, want)
	}
}

func TestExtract_NotFound(t *testing.T) {
	doc, _ := htmldom.Parse("", `<table><tr><td>a</td><td>b</td></tr></table>`)
	ctx := context.Background()
	s := scanner.New(doc, scanner.Config{})

	// Never scanned.
	if _, err := Extract(ctx, s, 0); !errors.Is(err, table.ErrNotFound) {
		t.Errorf("unscanned: got %v, want ErrNotFound", err)
	}

	s.Scan(ctx, false)
	if _, err := Extract(ctx, s, 5); !errors.Is(err, table.ErrNotFound) {
		t.Errorf("out of range: got %v, want ErrNotFound", err)
	}

	el, _ := s.Resolve(0)
	doc.Mutate(func(root *goquery.Selection) { root.Find("table").Remove() })
	if _, err := Element(ctx, el); !errors.Is(err, table.ErrNotFound) {
		t.Errorf("detached: got %v, want ErrNotFound", err)
	}
}

func TestElement_EmptyTable(t *testing.T) {
	doc, _ := htmldom.Parse("", `<table id="e"></table>`)
	els, _ := doc.QueryAll(context.Background(), "#e")
	got, err := Element(context.Background(), els[0])
	if err != nil {
		t.Fatal(err)
	}
	if !got.Empty() || got == nil {
		t.Errorf("empty table: got %#v", got)
	}
}
