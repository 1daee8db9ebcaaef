package table

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options is the persisted user configuration.
type Options struct {
	Delimiter           string   `json:"delimiter"`
	LineEnding          string   `json:"lineEnding"`
	DetectOnClickOnly   bool     `json:"detectOnClickOnly"`
	ShowHiddenTables    bool     `json:"showHiddenTables"`
	AutoDownloadDomains []string `json:"autoDownloadDomains"`
}

// DefaultOptions returns the options of a fresh installation.
func DefaultOptions() Options {
	return Options{
		Delimiter:           ",",
		LineEnding:          "\n",
		AutoDownloadDomains: []string{},
	}
}

// Validate checks the invariants of Options: a single printable delimiter
// that is not a quote or a line break, a known line ending, and no duplicate
// domains.
func (o Options) Validate() error {
	if utf8.RuneCountInString(o.Delimiter) != 1 {
		return fmt.Errorf("table: delimiter must be a single character, got %q", o.Delimiter)
	}
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	if r == '"' || r == '\r' || r == '\n' || (!unicode.IsPrint(r) && r != '\t') {
		return fmt.Errorf("table: delimiter %q is not allowed", o.Delimiter)
	}
	switch o.LineEnding {
	case "\n", "\r\n", "\r":
	default:
		return fmt.Errorf("table: line ending %q is not allowed", o.LineEnding)
	}
	seen := make(map[string]bool, len(o.AutoDownloadDomains))
	for _, d := range o.AutoDownloadDomains {
		if d == "" {
			return fmt.Errorf("table: empty auto-download domain")
		}
		if seen[d] {
			return fmt.Errorf("table: duplicate auto-download domain %q", d)
		}
		seen[d] = true
	}
	return nil
}

// AutoDownload reports whether host is opted into automatic extraction.
func (o Options) AutoDownload(host string) bool {
	return slices.Contains(o.AutoDownloadDomains, NormalizeHost(host))
}

// NormalizeHost lower-cases a hostname and strips any port. Full URLs are
// accepted and reduced to their hostname.
func NormalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			return strings.ToLower(u.Hostname())
		}
	}
	if h, _, ok := strings.Cut(s, ":"); ok {
		s = h
	}
	return strings.ToLower(strings.TrimSuffix(s, "."))
}
