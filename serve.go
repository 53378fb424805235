package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/seafoodmarket/internal/api"
	"github.com/hazyhaar/seafoodmarket/internal/auth"
	"github.com/hazyhaar/seafoodmarket/internal/bundle"
	"github.com/hazyhaar/seafoodmarket/internal/db"
	"github.com/hazyhaar/seafoodmarket/internal/mcp"
	"github.com/hazyhaar/seafoodmarket/pkg/audit"
	"github.com/hazyhaar/seafoodmarket/pkg/chassis"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the MCP endpoint and the optional HTTP/3 listener",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          "seafoodmarket@" + version,
			EnableTracing:    cfg.Sentry.SampleRate > 0,
			TracesSampleRate: cfg.Sentry.SampleRate,
		}); err != nil {
			slog.Warn("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.OpenContext(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if codes := cfg.Invites.SystemCodes; len(codes) > 0 {
		n, err := database.SeedSystemInviteCodes(ctx, codes, cfg.Invites.SystemMaxUses)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("seeded system invite codes", "count", n)
		}
	}

	store, err := bundle.NewStore(cfg.Storage.PackagesDir)
	if err != nil {
		return err
	}

	auditLog := audit.NewSQLiteLogger(database.DB)
	defer auditLog.Close()

	hub := api.New(database, auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin), cfg, store)
	hub.SetAuditLogger(auditLog)

	mux := http.NewServeMux()
	hub.RegisterRoutes(mux)

	mcpSrv := mcp.NewServer(database, auditLog, version)
	if _, err := mcp.SeedDefaultTools(ctx, database.DB); err != nil {
		slog.Warn("seeding MCP tools", "error", err)
	}
	registry := mcp.NewRegistry(database.DB)
	if err := registry.LoadTools(ctx); err != nil {
		slog.Warn("loading MCP tools", "error", err)
	}
	reporting := mcp.NewReportingServer(version)
	mcp.Bridge(reporting, registry)
	go registry.RunWatcher(ctx, reporting, 5*time.Second)
	hub.MountMCP(mux,
		server.NewStreamableHTTPServer(mcpSrv, server.WithEndpointPath("/mcp")),
		server.NewStreamableHTTPServer(reporting, server.WithEndpointPath("/mcp/admin")))

	mountStatic(mux, cfg.Server.StaticDir)

	var handler http.Handler = mux
	handler = api.NoCacheStatic(handler)
	handler = api.SecurityHeaders(handler)
	handler = api.AccessLog(handler)
	handler = api.RequestID(handler)

	var h3 *chassis.Server
	if cfg.Server.HTTP3Addr != "" {
		h3, err = chassis.New(chassis.Config{
			Addr:     cfg.Server.HTTP3Addr,
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
			Handler:  handler,
		})
		if err != nil {
			return err
		}
		handler = h3.AltSvc(handler)
		go func() {
			if err := h3.Start(ctx); err != nil {
				slog.Error("http3 listener", "error", err)
			}
		}()
	}
	handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)

	go snapshotLoop(ctx, database)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("seafoodmarket listening",
			"version", version,
			"addr", cfg.Server.Addr,
			"http3", cfg.Server.HTTP3Addr,
			"db", cfg.Database.Path,
			"public_url", cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if h3 != nil {
		h3.Stop(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}

// mountStatic serves the web client when the directory exists, falling back
// to index.html for client-side routes.
func mountStatic(mux *http.ServeMux, dir string) {
	if dir == "" {
		return
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		slog.Info("static dir not found, web client disabled", "dir", dir)
		return
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	index := filepath.Join(dir, "index.html")
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	})
}

// snapshotLoop records today's totals at startup and every hour.
func snapshotLoop(ctx context.Context, database *db.DB) {
	snap := func() {
		if err := database.SnapshotDailyStats(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("daily stats snapshot", "error", err)
		}
	}
	snap()
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap()
		}
	}
}
