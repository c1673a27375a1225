// Package main is the entry point for the tmdb server.
//
// tmdb is a translation memory server: it stores multilingual segments as
// files under a data directory, keeps a fuzzy-search index over them and
// exposes a JSON HTTP API. Configuration is read from config.yaml in the data
// directory and can be overridden with CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/maruel/tmdb/internal/server"
	"github.com/maruel/tmdb/internal/server/ratelimit"
	"github.com/maruel/tmdb/internal/storage"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "tmdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "", "Address to listen on, overrides config.yaml (e.g., localhost:8080, :8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config.yaml")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := storage.LoadConfig(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", storage.ConfigFile, err)
	}
	// Flags win over config.yaml.
	if *httpAddr != "" {
		cfg.HTTP = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	ll.Set(lvl)

	// Normalize addr: ":8080" becomes "localhost:8080"
	addr := cfg.HTTP
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	buildVersion, _, _, _ := getBuildInfo()
	repo, err := storage.Open(ctx, *dataDir, cfg, &storage.Options{Logger: logger, Version: buildVersion})
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close data directory", "err", err)
		}
	}()
	limits := ratelimit.NewConfig(cfg.RateLimits.ReadRatePerMin, cfg.RateLimits.WriteRatePerMin)
	defer limits.Close()

	if err := watchConfig(ctx, *dataDir, ll, *logLevel != "", repo); err != nil {
		return fmt.Errorf("failed to watch %s: %w", storage.ConfigFile, err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(repo, limits),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "data", *dataDir, "tms", len(repo.ListTMs()), "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("tmdb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// watchConfig reloads the log level and the search defaults when config.yaml
// changes. The data directory is watched rather than the file since editors
// replace files on save. Other settings need a restart.
func watchConfig(ctx context.Context, dataDir string, ll *slog.LevelVar, levelPinned bool, repo *storage.Repository) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dataDir); err != nil {
		_ = w.Close()
		return err
	}
	p := filepath.Join(dataDir, storage.ConfigFile)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(p) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				reloadConfig(ctx, dataDir, ll, levelPinned, repo)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching config", "err", err)
			}
		}
	}()
	return nil
}

func reloadConfig(ctx context.Context, dataDir string, ll *slog.LevelVar, levelPinned bool, repo *storage.Repository) {
	cfg, err := storage.LoadConfig(dataDir)
	if err != nil {
		// Keep the running configuration; the file may be half written.
		slog.WarnContext(ctx, "Ignoring invalid config", "err", err)
		return
	}
	if !levelPinned {
		if lvl, err := cfg.SlogLevel(); err == nil && lvl != ll.Level() {
			ll.Set(lvl)
			slog.InfoContext(ctx, "Log level changed", "level", lvl)
		}
	}
	if cfg.Search != repo.SearchDefaults() {
		if err := repo.SetSearchDefaults(cfg.Search); err != nil {
			slog.WarnContext(ctx, "Ignoring search defaults", "err", err)
			return
		}
		slog.InfoContext(ctx, "Search defaults changed", "threshold", cfg.Search.Threshold, "max_results", cfg.Search.MaxResults)
	}
}
