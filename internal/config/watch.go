package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/tablesniff/table"
)

// Watch polls PRAGMA data_version on a dedicated connection and calls
// onChange with freshly loaded options whenever another connection or
// process commits to the database. It blocks until ctx is cancelled.
//
// data_version is per connection, so the watcher pins one for its whole
// lifetime. A failed reload leaves the version unacknowledged and is
// retried on the next tick.
func (s *Store) Watch(ctx context.Context, interval time.Duration, logger *slog.Logger, onChange func(table.Options)) error {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer conn.Close()

	version, err := dataVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Debug("config: watching options", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := dataVersion(ctx, conn)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("config: data_version check failed", "error", err)
				continue
			}
			if cur == version {
				continue
			}
			opts, err := load(ctx, conn)
			if err != nil {
				logger.Error("config: options reload failed", "error", err)
				continue
			}
			logger.Info("config: options reloaded", "old_version", version, "new_version", cur)
			version = cur
			onChange(opts)
		}
	}
}

func dataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var v int64
	err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
