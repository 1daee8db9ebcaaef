package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/tablesniff/table"
)

// Stdout writes export content to an io.Writer (default os.Stdout), either
// raw or as one JSON envelope per line.
type Stdout struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

// NewStdout creates a Stdout target. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, asJSON bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w, asJSON: asJSON}
}

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Deliver(_ context.Context, exp table.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asJSON {
		return json.NewEncoder(s.w).Encode(envelope{Type: "export", Data: exp})
	}
	data := exp.Data
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(append([]byte(nil), data...), '\n')
	}
	_, err := s.w.Write(data)
	return err
}

func (s *Stdout) Close() error { return nil }

// envelope is the JSON shape of a delivered export. Data is base64 in JSON.
type envelope struct {
	Type string       `json:"type"`
	Data table.Export `json:"data"`
}

// Webhook POSTs exports as JSON to a URL with retry and exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook target.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay, doubled at each retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient sets the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook target for url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Close() error { return nil }

func (w *Webhook) Deliver(ctx context.Context, exp table.Export) error {
	body, err := json.Marshal(envelope{Type: "export", Data: exp})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.logger.Warn("webhook: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}
