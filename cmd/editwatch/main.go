// Command editwatch is the editing-surface change detection daemon.
//
// Usage:
//
//	editwatch -config editwatch.yaml                # sessions, sinks and pages from YAML
//	editwatch -url https://docs.example.com/doc/1   # observe a single page (stdout sink)
//	editwatch -listen :8420                         # websocket agents only, stdout sink
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/editkit/editwatch"
)

func main() {
	configPath := flag.String("config", "", "path to editwatch.yaml config file")
	singleURL := flag.String("url", "", "observe a single page through Chrome (stdout sink)")
	listen := flag.String("listen", "", "HTTP listen address (overrides server.listen)")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL, *listen); err != nil {
		logger.Error("editwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL, listen string) error {
	cfg := editwatch.DefaultConfig()
	if configPath != "" {
		loaded, err := editwatch.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if singleURL != "" {
		cfg.Browser.Pages = append(cfg.Browser.Pages, editwatch.PageConfig{
			ID:           uuid.NewString(),
			URL:          singleURL,
			RootSelector: cfg.Editor.RootSelector,
		})
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	sinks, err := editwatch.SinksFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	w := editwatch.New(cfg, logger, sinks...)
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if configPath != "" {
		go func() {
			if err := w.WatchConfig(ctx, configPath); err != nil {
				logger.Warn("editwatch: config watch stopped", "error", err)
			}
		}()
	}

	return serve(ctx, logger, cfg.Server.Listen, w.Handler())
}

func serve(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("editwatch: server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("editwatch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("editwatch: shutdown", "error", err)
	}
	return nil
}
