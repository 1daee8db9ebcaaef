package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/tablesniff/dbopen"
	"github.com/hazyhaar/tablesniff/table"
)

// Schema creates the options tables.
const Schema = `
CREATE TABLE IF NOT EXISTS options (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS auto_download_domains (
	host     TEXT PRIMARY KEY,
	added_at INTEGER NOT NULL
);
`

const (
	keyDelimiter         = "delimiter"
	keyLineEnding        = "lineEnding"
	keyDetectOnClickOnly = "detectOnClickOnly"
	keyShowHiddenTables  = "showHiddenTables"
)

// Store persists table.Options in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps db, which must already carry Schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load returns the stored options. Missing keys keep their defaults.
func (s *Store) Load(ctx context.Context) (table.Options, error) {
	return load(ctx, s.db)
}

func load(ctx context.Context, q querier) (table.Options, error) {
	opts := table.DefaultOptions()

	rows, err := q.QueryContext(ctx, `SELECT key, value FROM options`)
	if err != nil {
		return opts, fmt.Errorf("config: load options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return opts, fmt.Errorf("config: scan option: %w", err)
		}
		switch k {
		case keyDelimiter:
			opts.Delimiter = v
		case keyLineEnding:
			opts.LineEnding = v
		case keyDetectOnClickOnly:
			opts.DetectOnClickOnly, _ = strconv.ParseBool(v)
		case keyShowHiddenTables:
			opts.ShowHiddenTables, _ = strconv.ParseBool(v)
		}
	}
	if err := rows.Err(); err != nil {
		return opts, fmt.Errorf("config: load options: %w", err)
	}

	drows, err := q.QueryContext(ctx, `SELECT host FROM auto_download_domains ORDER BY added_at, host`)
	if err != nil {
		return opts, fmt.Errorf("config: load domains: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var h string
		if err := drows.Scan(&h); err != nil {
			return opts, fmt.Errorf("config: scan domain: %w", err)
		}
		opts.AutoDownloadDomains = append(opts.AutoDownloadDomains, h)
	}
	return opts, drows.Err()
}

// Save validates opts and replaces the stored options in one transaction.
// Domains are normalised to bare lower-case hostnames first.
func (s *Store) Save(ctx context.Context, opts table.Options) error {
	domains := make([]string, 0, len(opts.AutoDownloadDomains))
	for _, d := range opts.AutoDownloadDomains {
		domains = append(domains, table.NormalizeHost(d))
	}
	opts.AutoDownloadDomains = domains
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	now := s.now().UnixMilli()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		kv := [][2]string{
			{keyDelimiter, opts.Delimiter},
			{keyLineEnding, opts.LineEnding},
			{keyDetectOnClickOnly, strconv.FormatBool(opts.DetectOnClickOnly)},
			{keyShowHiddenTables, strconv.FormatBool(opts.ShowHiddenTables)},
		}
		for _, p := range kv {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO options (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, p[0], p[1]); err != nil {
				return fmt.Errorf("config: save %s: %w", p[0], err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM auto_download_domains`); err != nil {
			return fmt.Errorf("config: clear domains: %w", err)
		}
		for i, d := range domains {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO auto_download_domains (host, added_at) VALUES (?, ?)`, d, now+int64(i)); err != nil {
				return fmt.Errorf("config: save domain %s: %w", d, err)
			}
		}
		return nil
	})
}

// ToggleDomain adds host to the auto-download set, or removes it when
// already present. It reports whether the host is enabled afterwards.
func (s *Store) ToggleDomain(ctx context.Context, host string) (bool, error) {
	h := table.NormalizeHost(host)
	if h == "" {
		return false, fmt.Errorf("config: empty host %q", host)
	}
	var enabled bool
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM auto_download_domains WHERE host = ?`, h)
		if err != nil {
			return fmt.Errorf("config: toggle %s: %w", h, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO auto_download_domains (host, added_at) VALUES (?, ?)`, h, s.now().UnixMilli()); err != nil {
			return fmt.Errorf("config: toggle %s: %w", h, err)
		}
		enabled = true
		return nil
	})
	return enabled, err
}
