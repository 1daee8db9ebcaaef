package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/tablesniff/table"
)

func export() table.Export {
	return table.Export{
		Filename:    "table-2026-01-02.csv",
		ContentType: table.FormatCSV.ContentType(),
		Format:      table.FormatCSV,
		Rows:        2,
		Data:        []byte("\ufeffa,b\n1,2"),
	}
}

func TestFile_WritesAndNumbersDuplicates(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "out"))
	ctx := context.Background()

	for range 2 {
		if err := f.Deliver(ctx, export()); err != nil {
			t.Fatal(err)
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "out", "table-2026-01-02.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, export().Data) {
		t.Errorf("content: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "table-2026-01-02-1.csv")); err != nil {
		t.Errorf("second export not numbered: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "out"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tablesniff-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFile_ConcurrentSameNameKeepsEvery(t *testing.T) {
	tests := []struct {
		name    string
		writers int
	}{
		{"pair", 2},
		{"burst", 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			f := NewFile(dir)

			var wg sync.WaitGroup
			errs := make(chan error, tt.writers)
			for range tt.writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- f.Deliver(context.Background(), export())
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatal(err)
				}
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.writers {
				t.Fatalf("got %d files, want %d", len(entries), tt.writers)
			}
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".tablesniff-") {
					t.Errorf("temp file left behind: %s", e.Name())
				}
				got, err := os.ReadFile(filepath.Join(dir, e.Name()))
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, export().Data) {
					t.Errorf("%s content: %q", e.Name(), got)
				}
			}
		})
	}
}

func TestFile_StripsDirectories(t *testing.T) {
	dir := t.TempDir()
	exp := export()
	exp.Filename = "../../escape.csv"
	if err := NewFile(dir).Deliver(context.Background(), exp); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.csv")); err != nil {
		t.Errorf("file not confined to dir: %v", err)
	}
}

func TestClipboard_SystemFirst(t *testing.T) {
	var copied string
	var term bytes.Buffer
	c := NewClipboard(
		WithClipboardWriter(func(s string) error { copied = s; return nil }),
		WithTerminal(&term),
	)
	if err := c.Deliver(context.Background(), export()); err != nil {
		t.Fatal(err)
	}
	if copied != "a,b\n1,2" {
		t.Errorf("copied %q, want text without BOM", copied)
	}
	if term.Len() != 0 {
		t.Error("osc52 used although the system clipboard worked")
	}
}

func TestClipboard_OSC52Fallback(t *testing.T) {
	var term bytes.Buffer
	c := NewClipboard(
		WithClipboardWriter(func(string) error { return errors.New("no xclip") }),
		WithTerminal(&term),
	)
	if err := c.Deliver(context.Background(), export()); err != nil {
		t.Fatal(err)
	}
	seq := term.String()
	if !strings.HasPrefix(seq, "\x1b]52;") {
		t.Fatalf("not an OSC 52 sequence: %q", seq)
	}
	if !strings.Contains(seq, base64.StdEncoding.EncodeToString([]byte("a,b\n1,2"))) {
		t.Errorf("payload missing from %q", seq)
	}
}

func TestClipboard_BothFail(t *testing.T) {
	c := NewClipboard(
		WithClipboardWriter(func(string) error { return errors.New("no xclip") }),
		WithTerminal(nil),
	)
	if err := c.Deliver(context.Background(), export()); err == nil {
		t.Error("expected an error without clipboard and terminal")
	}
}

func TestStdout(t *testing.T) {
	var raw, js bytes.Buffer
	ctx := context.Background()
	if err := NewStdout(&raw, false).Deliver(ctx, export()); err != nil {
		t.Fatal(err)
	}
	if raw.String() != "\ufeffa,b\n1,2\n" {
		t.Errorf("raw: %q", raw.String())
	}

	if err := NewStdout(&js, true).Deliver(ctx, export()); err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string       `json:"type"`
		Data table.Export `json:"data"`
	}
	if err := json.Unmarshal(js.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "export" || env.Data.Filename != "table-2026-01-02.csv" || !bytes.Equal(env.Data.Data, export().Data) {
		t.Errorf("envelope: %+v", env)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %s", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Deliver(context.Background(), export()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Deliver(context.Background(), export()); err == nil {
		t.Error("expected failure after retries")
	}
}

func TestRouter_FanOutFirstError(t *testing.T) {
	var delivered []string
	ok := NewCallback(func(_ context.Context, exp table.Export) error {
		delivered = append(delivered, exp.Filename)
		return nil
	})
	bad := NewCallback(func(context.Context, table.Export) error { return errors.New("disk full") })

	var observed []string
	r := NewRouter(nil, []Target{bad, ok}, WithObserver(func(target string, err error) {
		observed = append(observed, target)
	}))
	err := r.Deliver(context.Background(), export())
	if !errors.Is(err, table.ErrDelivery) {
		t.Errorf("got %v, want ErrDelivery", err)
	}
	if len(delivered) != 1 {
		t.Error("a failing target blocked the others")
	}
	if len(observed) != 2 {
		t.Errorf("observer calls: %v", observed)
	}

	empty := NewRouter(nil, nil)
	if err := empty.Deliver(context.Background(), export()); !errors.Is(err, table.ErrDelivery) {
		t.Errorf("no targets: got %v", err)
	}
}
