package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"

	"github.com/cdnprobe/cdnprobe/pkg/config"
	"github.com/cdnprobe/cdnprobe/pkg/engine"
	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/server/internal/alerts"
	"github.com/cdnprobe/cdnprobe/server/internal/api"
	"github.com/cdnprobe/cdnprobe/server/internal/auth"
	"github.com/cdnprobe/cdnprobe/server/internal/sink"
	"github.com/cdnprobe/cdnprobe/server/internal/store"
	"github.com/cdnprobe/cdnprobe/server/internal/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown; open SSE streams are cut
// after it.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "err", err)
	}

	slog.Info("cdnprobe-server starting", "config", *configPath)

	cfg, watch, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"providers", len(cfg.Providers),
		"endpoints", len(cfg.Endpoints),
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Backend,
		"kafka", cfg.Server.Kafka.Enabled(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg conc.WaitGroup

	st := store.New()
	alertEngine := alerts.New(cfg.Server.Alerts)

	// WebSocket hub: relays run events and re-sends the last report.
	hub := ws.New(st, cfg.Server.SnapshotInterval)
	wg.Go(func() { hub.Run(ctx) })

	publishers := []run.Publisher{hub}

	if cfg.Server.Kafka.Enabled() {
		ks := sink.New(cfg.Server.Kafka.Brokers, cfg.Server.Kafka.Topic)
		wg.Go(func() { ks.Run(ctx) })
		publishers = append(publishers, ks)
		slog.Info("kafka sink enabled", "topic", cfg.Server.Kafka.Topic)
	}

	var history *store.History
	if cfg.Server.Storage.Backend == "sqlite" {
		history, err = store.OpenHistory(ctx, cfg.Server.Storage.Path, cfg.Server.Storage.HistoryLimit)
		if err != nil {
			slog.Error("failed to open run history", "path", cfg.Server.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer history.Close()
		slog.Info("run history enabled", "path", cfg.Server.Storage.Path)
	}

	handler := api.New(engine.New(cfg), api.Deps{
		Store:        st,
		Alerts:       alertEngine,
		History:      history,
		HistoryLimit: cfg.Server.Storage.HistoryLimit,
		Publishers:   publishers,
		Clients:      hub.Count,
		Auth: auth.APIKey(
			cfg.Server.Auth.Mode,
			cfg.Server.Auth.EffectiveHeader(),
			cfg.Server.Auth.Key(),
		),
		CORSOrigin: cfg.Server.CORSOrigin,
	})

	// Hot reload: later runs use the new catalog and vendor settings. Server
	// settings (port, auth, storage, kafka) need a restart.
	if watch {
		wg.Go(func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				handler.SetEngine(engine.New(next))
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		})
	}

	httpMux := http.NewServeMux()
	for _, prefix := range api.Prefixes {
		httpMux.Handle(prefix, handler)
	}
	httpMux.Handle("/ws/stream", hub)

	// Optional: serve the pre-built dashboard from a local directory.
	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if *uiDir != "" {
		httpMux.Handle("/", spaHandler(*uiDir))
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end on shutdown so open streams cancel their runs.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	wg.Go(func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("cdnprobe-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "err", err)
		httpSrv.Close() //nolint:errcheck
	}
	wg.Wait()
	alertEngine.Wait()
}

// loadConfig reads path. A missing file falls back to the built-in defaults
// and disables hot reload.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using built-in defaults", "path", path)
		return config.Default(), false, nil
	}
	return nil, false, err
}

// spaHandler serves files from dir and falls back to index.html so that
// client-side routes resolve.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}
