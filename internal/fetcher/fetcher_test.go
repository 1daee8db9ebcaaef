package fetcher

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
)

const staticPage = `<!DOCTYPE html>
<html><head><title>Prices</title></head>
<body>
<table id="prices">
<thead><tr><th>Item</th><th>Price</th></tr></thead>
<tbody><tr><td>Tea</td><td>3</td></tr></tbody>
</table>
</body></html>`

const spaShell = `<!DOCTYPE html>
<html><head><title>App</title></head>
<body><div id="root"></div><script src="/static/js/main.js"></script></body></html>`

func htmlResponder(status int, body, contentType string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", contentType)
	return httpmock.ResponderFromResponse(resp)
}

func newFetcher(transport http.RoundTripper) *Fetcher {
	return New(WithClient(&http.Client{Transport: transport}))
}

func TestIsSufficient(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{"static table", staticPage, true},
		{"spa shell", spaShell, false},
		{"no table", `<html><body><p>Nothing tabular here.</p></body></html>`, false},
		{"single cell", `<table><tr><td>only</td></tr></table>`, false},
		{"uppercase tags", `<TABLE><TR><TH>a</TH><TD>b</TD></TR></TABLE>`, true},
		{"cells before table do not count", `<td>x</td><td>y</td><table></table>`, false},
		{"tbody is not a cell", `<table><tbody><tr><td>a</td></tr></tbody></table>`, false},
		{"quasar shell", `<div id="q-app"></div><table><tr><td>a</td><td>b</td></tr></table>`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsSufficient([]byte(c.html)); got != c.want {
				t.Errorf("IsSufficient = %v, want %v", got, c.want)
			}
		})
	}
}

func TestFetch_StaticPage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/prices",
		func(req *http.Request) (*http.Response, error) {
			if ua := req.Header.Get("User-Agent"); !strings.Contains(ua, "tablesniff") {
				t.Errorf("user agent: %q", ua)
			}
			return htmlResponder(200, staticPage, "text/html; charset=utf-8")(req)
		})

	res, err := newFetcher(transport).Fetch(context.Background(), "http://example.test/prices")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Sufficient || res.StatusCode != 200 {
		t.Errorf("result: sufficient=%v status=%d", res.Sufficient, res.StatusCode)
	}

	doc, err := res.Document()
	if err != nil {
		t.Fatal(err)
	}
	tables, err := doc.QueryAll(context.Background(), "table")
	if err != nil || len(tables) != 1 {
		t.Fatalf("tables: %d, %v", len(tables), err)
	}
	rows, err := tables[0].Rows(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "Tea" {
		t.Errorf("rows: %v", rows)
	}
}

func TestFetch_Charset(t *testing.T) {
	transport := httpmock.NewMockTransport()
	// "Café" in ISO-8859-1.
	latin1 := "<table><tr><th>Caf\xe9</th><td>1</td></tr></table>"
	transport.RegisterResponder("GET", "http://example.test/latin1",
		htmlResponder(200, latin1, "text/html; charset=iso-8859-1"))

	res, err := newFetcher(transport).Fetch(context.Background(), "http://example.test/latin1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(res.Body), "Café") {
		t.Errorf("body not decoded to UTF-8: %q", res.Body)
	}
}

func TestFetch_Errors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/missing", httpmock.NewStringResponder(404, "not found"))
	f := newFetcher(transport)

	if _, err := f.Fetch(context.Background(), "http://example.test/missing"); err == nil {
		t.Error("404: expected error")
	}
	if _, err := f.Fetch(context.Background(), "http://example.test/unregistered"); err == nil {
		t.Error("transport error: expected error")
	}
	if _, err := f.Fetch(context.Background(), "::not a url"); err == nil {
		t.Error("bad url: expected error")
	}
}

func TestFetch_SPAShellInsufficient(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/app", htmlResponder(200, spaShell, "text/html"))

	res, err := newFetcher(transport).Fetch(context.Background(), "http://example.test/app")
	if err != nil {
		t.Fatal(err)
	}
	if res.Sufficient {
		t.Error("spa shell reported sufficient")
	}
}
