// Command tablesniff finds the tables of a web page and exports them.
//
// Usage:
//
//	tablesniff -url https://example.com/prices              # list tables
//	tablesniff -url https://example.com/prices -table 1     # export table 1 to a file
//	tablesniff -url https://example.com/prices -table 1 -format tsv -copy
//	tablesniff -url https://example.com/prices -auto -stdout
//	tablesniff -serve -config tablesniff.yaml               # HTTP API on the configured address
//	tablesniff -mcp                                         # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tablesniff"
	"github.com/hazyhaar/tablesniff/dbopen"
	"github.com/hazyhaar/tablesniff/internal/delivery"
	"github.com/hazyhaar/tablesniff/internal/history"
	"github.com/hazyhaar/tablesniff/internal/metrics"
	"github.com/hazyhaar/tablesniff/table"
)

type flags struct {
	configPath string
	pageURL    string
	stealth    string
	tableID    int
	auto       bool
	copy       bool
	stdout     bool
	format     string
	outDir     string
	dbPath     string
	serve      bool
	mcp        bool
	retention  time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to tablesniff.yaml config file")
	flag.StringVar(&f.pageURL, "url", "", "page to open")
	flag.StringVar(&f.stealth, "stealth", "auto", "how to load the page: auto, http, headless, headful")
	flag.IntVar(&f.tableID, "table", -1, "export this table id (see the list output)")
	flag.BoolVar(&f.auto, "auto", false, "export the largest table as CSV")
	flag.BoolVar(&f.copy, "copy", false, "copy the export to the clipboard instead of saving it")
	flag.BoolVar(&f.stdout, "stdout", false, "write exports to stdout instead of a file")
	flag.StringVar(&f.format, "format", "csv", "export format: csv, tsv, markdown, html")
	flag.StringVar(&f.outDir, "out", "", "download directory (overrides config)")
	flag.StringVar(&f.dbPath, "db", "", "options database (overrides config; one-shot runs use defaults without it)")
	flag.BoolVar(&f.serve, "serve", false, "serve the HTTP API")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools over stdio")
	flag.DurationVar(&f.retention, "history-retention", 30*24*time.Hour, "how long export history is kept when serving")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("tablesniff: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg := tablesniff.DefaultConfig()
	if f.configPath != "" {
		loaded, err := tablesniff.LoadConfigFile(f.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if f.outDir != "" {
		cfg.Delivery.Dir = f.outDir
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}

	switch {
	case f.serve || f.mcp:
		return runServer(ctx, logger, cfg, f)
	case f.pageURL != "":
		return runOnce(ctx, logger, cfg, f)
	}
	fmt.Fprintln(os.Stderr, "usage: tablesniff -url <url> [-table N | -auto] | -serve | -mcp")
	flag.PrintDefaults()
	os.Exit(2)
	return nil
}

func runServer(ctx context.Context, logger *slog.Logger, cfg *tablesniff.Config, f flags) error {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithSchema(tablesniff.OptionsSchema),
		dbopen.WithSchema(history.Schema),
		dbopen.WithMkdirAll(),
	)
	if err != nil {
		return fmt.Errorf("open options db: %w", err)
	}
	defer db.Close()

	recorder := history.New(db, 1000, history.WithLogger(logger))
	defer recorder.Close()

	engine, err := tablesniff.New(cfg,
		tablesniff.WithLogger(logger),
		tablesniff.WithStore(tablesniff.NewOptionsStore(db)),
		tablesniff.WithMetrics(metrics.New()),
		tablesniff.WithHistory(recorder),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	go pruneHistory(ctx, logger, recorder, f.retention)

	go func() {
		if err := engine.WatchOptions(ctx, 2*time.Second); err != nil {
			logger.Warn("tablesniff: options watch stopped", "error", err)
		}
	}()

	if f.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "tablesniff", Version: "1.0.0"}, nil)
		engine.RegisterMCP(srv)
		logger.Info("tablesniff: mcp on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           engine.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("tablesniff: listening", "addr", cfg.HTTP.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("tablesniff: shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}

func pruneHistory(ctx context.Context, logger *slog.Logger, rec *history.Recorder, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := rec.Cleanup(ctx, retention)
		if err != nil {
			logger.Warn("tablesniff: history cleanup", "error", err)
		} else if n > 0 {
			logger.Info("tablesniff: history pruned", "entries", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, cfg *tablesniff.Config, f flags) error {
	level, err := tablesniff.ParseStealthLevel(f.stealth)
	if err != nil {
		return err
	}
	format, ok := table.ParseFormat(f.format)
	if !ok {
		return fmt.Errorf("unknown format %q", f.format)
	}

	opts := []tablesniff.Option{tablesniff.WithLogger(logger)}
	if f.dbPath != "" {
		db, err := dbopen.Open(cfg.DBPath, dbopen.WithSchema(tablesniff.OptionsSchema), dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open options db: %w", err)
		}
		defer db.Close()
		opts = append(opts, tablesniff.WithStore(tablesniff.NewOptionsStore(db)))
	}
	if f.stdout {
		opts = append(opts, tablesniff.WithDownloadTargets(delivery.NewStdout(os.Stdout, false)))
	}

	engine, err := tablesniff.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	info, err := engine.OpenPage(ctx, f.pageURL, level)
	if err != nil {
		return err
	}
	if info.AutoDownload != nil {
		logger.Info("tablesniff: auto-downloaded", "file", info.AutoDownload.Filename, "rows", info.AutoDownload.Rows)
	}

	switch {
	case f.auto:
		exp, err := engine.AutoDownload(ctx, info.ID)
		if err != nil {
			return err
		}
		logger.Info("tablesniff: exported", "file", exp.Filename, "rows", exp.Rows)
		return nil

	case f.tableID >= 0:
		target := tablesniff.TargetDownload
		if f.copy {
			target = tablesniff.TargetClipboard
		}
		exp, err := engine.Export(ctx, info.ID, f.tableID, format, target)
		if err != nil {
			return err
		}
		logger.Info("tablesniff: exported", "file", exp.Filename, "rows", exp.Rows, "target", target)
		return nil
	}

	sums, err := engine.ListTables(ctx, info.ID, false)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sums)
}
