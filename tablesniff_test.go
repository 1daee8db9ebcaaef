package tablesniff

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/hazyhaar/tablesniff/dbopen"
	"github.com/hazyhaar/tablesniff/idgen"
	"github.com/hazyhaar/tablesniff/internal/config"
	"github.com/hazyhaar/tablesniff/internal/delivery"
	"github.com/hazyhaar/tablesniff/internal/dom/htmldom"
	"github.com/hazyhaar/tablesniff/internal/fetcher"
	"github.com/hazyhaar/tablesniff/internal/metrics"
	"github.com/hazyhaar/tablesniff/table"

	_ "modernc.org/sqlite"
)

var fixed = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

const pricesPage = `<!DOCTYPE html>
<html><body>
<table id="small"><tr><td>a</td><td>b</td></tr></table>
<table id="prices">
<tr><th>Item</th><th>Price</th></tr>
<tr><td>Tea</td><td>3</td></tr>
<tr><td>Coffee</td><td>4</td></tr>
</table>
</body></html>`

// sink records exports handed to a delivery target.
type sink struct {
	mu   sync.Mutex
	exps []table.Export
	err  error
}

func (s *sink) target() delivery.Target {
	return delivery.NewCallback(func(_ context.Context, exp table.Export) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		s.exps = append(s.exps, exp)
		return nil
	})
}

func (s *sink) all() []table.Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]table.Export(nil), s.exps...)
}

type fixture struct {
	engine    *Engine
	downloads *sink
	clipboard *sink
	mock      *httpmock.MockTransport
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Scan.Debounce = 10 * time.Millisecond
	cfg.Quiesce.PollInterval = 20 * time.Millisecond
	cfg.Quiesce.BatchWindow = 5 * time.Millisecond
	cfg.Quiesce.Deadline = 2 * time.Second
	cfg.Sessions.MaxOpen = 2
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		downloads: &sink{},
		clipboard: &sink{},
		mock:      httpmock.NewMockTransport(),
	}
	base := []Option{
		WithoutBrowser(),
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(idgen.Sequence("id")),
		WithFetcher(fetcher.New(fetcher.WithClient(&http.Client{Transport: f.mock}))),
		WithDownloadTargets(f.downloads.target()),
		WithClipboard(f.clipboard.target()),
	}
	e, err := New(testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	f.engine = e
	return f
}

func (f *fixture) serve(url, body string) {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	f.mock.RegisterResponder(http.MethodGet, url, httpmock.ResponderFromResponse(resp))
}

func attach(t *testing.T, e *Engine, src string) PageInfo {
	t.Helper()
	doc, err := htmldom.Parse("https://example.com/data", src)
	if err != nil {
		t.Fatal(err)
	}
	info, err := e.Attach(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func TestOpenPage_HTTP(t *testing.T) {
	f := newFixture(t)
	f.serve("https://shop.example.com/prices", pricesPage)

	info, err := f.engine.OpenPage(context.Background(), "https://shop.example.com/prices", LevelAuto)
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != "id1" || info.Method != MethodHTTP || info.URL != "https://shop.example.com/prices" {
		t.Errorf("info: %+v", info)
	}
	if info.AutoDownload != nil {
		t.Error("auto-download ran for a host that did not opt in")
	}

	sums, err := f.engine.ListTables(context.Background(), info.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("tables: got %d, want 2", len(sums))
	}
}

func TestOpenPage_InvalidURL(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{"", "ftp://example.com/x", "not a url", "https://"} {
		if _, err := f.engine.OpenPage(context.Background(), u, LevelAuto); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: got %v, want ErrInvalidInput", u, err)
		}
	}
}

func TestOpenPage_FetchErrorWithoutBrowser(t *testing.T) {
	f := newFixture(t)
	f.mock.RegisterResponder(http.MethodGet, "https://example.com/gone", httpmock.NewStringResponder(404, "gone"))

	if _, err := f.engine.OpenPage(context.Background(), "https://example.com/gone", LevelAuto); err == nil {
		t.Error("expected an error for a 404 page")
	}
	if _, err := f.engine.OpenPage(context.Background(), "https://example.com/x", LevelHeadless); err == nil {
		t.Error("expected an error for a browser level with the browser disabled")
	}
}

func TestOpenPage_AutoDownloadOptIn(t *testing.T) {
	f := newFixture(t)
	f.serve("https://shop.example.com/prices", pricesPage)
	if _, err := f.engine.ToggleDomain(context.Background(), "Shop.Example.com:443"); err != nil {
		t.Fatal(err)
	}

	info, err := f.engine.OpenPage(context.Background(), "https://shop.example.com/prices", LevelHTTP)
	if err != nil {
		t.Fatal(err)
	}
	if info.AutoDownload == nil || info.AutoDownload.Error != "" {
		t.Fatalf("auto download: %+v", info.AutoDownload)
	}
	got := f.downloads.all()
	if len(got) != 1 {
		t.Fatalf("downloads: got %d, want 1", len(got))
	}
	if got[0].Filename != "table-export-2026-05-04.csv" || got[0].Rows != 3 {
		t.Errorf("export: %+v", got[0])
	}
	if got[0].ID == "" || got[0].ID != info.AutoDownload.ExportID {
		t.Errorf("export id %q, reported %q", got[0].ID, info.AutoDownload.ExportID)
	}
}

func TestOpenPage_AutoDownloadFailureDoesNotFailOpen(t *testing.T) {
	f := newFixture(t)
	f.serve("https://empty.example.com/", pricesPage)
	f.downloads.err = errors.New("disk full")
	f.engine.ToggleDomain(context.Background(), "empty.example.com")

	info, err := f.engine.OpenPage(context.Background(), "https://empty.example.com/", LevelHTTP)
	if err != nil {
		t.Fatal(err)
	}
	if info.AutoDownload == nil || !strings.Contains(info.AutoDownload.Error, "disk full") {
		t.Errorf("auto download: %+v", info.AutoDownload)
	}
}

func TestExport_Targets(t *testing.T) {
	f := newFixture(t)
	info := attach(t, f.engine, pricesPage)
	ctx := context.Background()

	exp, err := f.engine.Export(ctx, info.ID, 1, table.FormatTSV, TargetClipboard)
	if err != nil {
		t.Fatal(err)
	}
	if string(exp.Data) != "Item\tPrice\nTea\t3\nCoffee\t4" {
		t.Errorf("tsv: %q", exp.Data)
	}
	if exp.ID == "" || exp.Filename != "table-2026-05-04.tsv" {
		t.Errorf("export: %+v", exp)
	}
	if len(f.clipboard.all()) != 1 || len(f.downloads.all()) != 0 {
		t.Error("export not routed to the clipboard only")
	}

	if _, err := f.engine.Export(ctx, info.ID, 1, table.FormatCSV, TargetNone); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Export(ctx, info.ID, 0, table.FormatCSV, TargetDownload); err != nil {
		t.Fatal(err)
	}
	if len(f.clipboard.all()) != 1 || len(f.downloads.all()) != 1 {
		t.Errorf("deliveries: clipboard %d, downloads %d", len(f.clipboard.all()), len(f.downloads.all()))
	}
}

func TestExport_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.downloads.err = errors.New("disk full")
	info := attach(t, f.engine, pricesPage)

	exp, err := f.engine.Export(context.Background(), info.ID, 1, table.FormatCSV, TargetDownload)
	if !errors.Is(err, table.ErrDelivery) {
		t.Fatalf("got %v, want ErrDelivery", err)
	}
	if exp.Rows != 3 {
		t.Errorf("export not returned on delivery failure: %+v", exp)
	}
}

func TestUnknownPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checks := map[string]error{
		"list":  func() error { _, err := f.engine.ListTables(ctx, "nope", false); return err }(),
		"data":  func() error { _, err := f.engine.TableData(ctx, "nope", 0); return err }(),
		"light": f.engine.Highlight(ctx, "nope", 0),
		"close": f.engine.ClosePage("nope"),
	}
	for name, err := range checks {
		if !errors.Is(err, table.ErrNotFound) {
			t.Errorf("%s: got %v, want ErrNotFound", name, err)
		}
	}
}

func TestPages_EvictionClosesOldest(t *testing.T) {
	f := newFixture(t)
	first := attach(t, f.engine, pricesPage)
	second := attach(t, f.engine, pricesPage)
	third := attach(t, f.engine, pricesPage)

	pages := f.engine.Pages()
	if len(pages) != 2 {
		t.Fatalf("pages: got %d, want 2", len(pages))
	}
	if pages[0].ID != third.ID || pages[1].ID != second.ID {
		t.Errorf("order: %v, %v", pages[0].ID, pages[1].ID)
	}
	if _, err := f.engine.TableData(context.Background(), first.ID, 0); !errors.Is(err, table.ErrNotFound) {
		t.Errorf("evicted page still answers: %v", err)
	}

	if err := f.engine.ClosePage(second.ID); err != nil {
		t.Fatal(err)
	}
	if len(f.engine.Pages()) != 1 {
		t.Error("close did not remove the page")
	}
}

func TestOptions_InMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opts := table.DefaultOptions()
	opts.Delimiter = ";"
	opts.AutoDownloadDomains = []string{"https://www.Example.com/path", ""}
	saved, err := f.engine.SetOptions(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.AutoDownloadDomains) != 1 || saved.AutoDownloadDomains[0] != "www.example.com" {
		t.Errorf("domains: %v", saved.AutoDownloadDomains)
	}

	info := attach(t, f.engine, pricesPage)
	exp, err := f.engine.Export(ctx, info.ID, 1, table.FormatCSV, TargetNone)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(exp.Data), "Item;Price") {
		t.Errorf("delimiter not applied: %q", exp.Data)
	}

	bad := table.DefaultOptions()
	bad.Delimiter = ";;"
	if _, err := f.engine.SetOptions(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}

	on, _ := f.engine.ToggleDomain(ctx, "WWW.example.com")
	if on || len(f.engine.Options().AutoDownloadDomains) != 0 {
		t.Errorf("toggle off: %v %v", on, f.engine.Options().AutoDownloadDomains)
	}
	if _, err := f.engine.ToggleDomain(ctx, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty host: %v", err)
	}
}

func TestOptions_Store(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(config.Schema))
	store := config.NewStore(db)
	ctx := context.Background()

	seed := table.DefaultOptions()
	seed.LineEnding = "\r\n"
	if err := store.Save(ctx, seed); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, WithStore(store))
	if f.engine.Options().LineEnding != "\r\n" {
		t.Errorf("options not loaded from store: %+v", f.engine.Options())
	}

	if on, err := f.engine.ToggleDomain(ctx, "data.example.org"); err != nil || !on {
		t.Fatalf("toggle: %v %v", on, err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.AutoDownloadDomains) != 1 || loaded.AutoDownloadDomains[0] != "data.example.org" {
		t.Errorf("stored domains: %v", loaded.AutoDownloadDomains)
	}
	if !f.engine.Options().AutoDownload("data.example.org") {
		t.Error("cached options not refreshed after toggle")
	}
}

func TestWatchOptions_NoStore(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.WatchOptions(context.Background(), time.Second); err == nil {
		t.Error("expected an error without a store")
	}
}

func TestMetrics_Instrumented(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, WithMetrics(m))
	f.serve("https://shop.example.com/prices", pricesPage)

	info, err := f.engine.OpenPage(context.Background(), "https://shop.example.com/prices", LevelAuto)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Export(context.Background(), info.ID, 1, table.FormatCSV, TargetDownload); err != nil {
		t.Fatal(err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, fam := range families {
		seen[fam.GetName()] = true
	}
	for _, name := range []string{"tablesniff_fetches_total", "tablesniff_exports_total", "tablesniff_deliveries_total", "tablesniff_open_sessions"} {
		if !seen[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{"": TargetDownload, "download": TargetDownload, "clipboard": TargetClipboard, "none": TargetNone}
	for in, want := range cases {
		if got, err := ParseTarget(in); err != nil || got != want {
			t.Errorf("ParseTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("printer"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown target: %v", err)
	}
}
