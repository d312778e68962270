package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docroute/config"
	"github.com/hazyhaar/docroute/dbopen"
	"github.com/hazyhaar/docroute/docroute"
	"github.com/hazyhaar/docroute/observability"
	"github.com/hazyhaar/docroute/parser"
	"github.com/hazyhaar/docroute/shield"
)

func newServeCmd(stderr io.Writer) *cobra.Command {
	var flags commonFlags
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP API with the parse worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(config.Overrides{})
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}
			logger, closeLog, err := config.NewLogger(cfg.Logging, stderr)
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(cmd.Context(), cfg, logger)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	sc := cfg.Server
	if err := os.MkdirAll(sc.InboxDir, 0o755); err != nil {
		return fmt.Errorf("inbox %s: %w", sc.InboxDir, err)
	}

	db, err := dbopen.Open(sc.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := observability.Init(ctx, db); err != nil {
		return fmt.Errorf("observability init: %w", err)
	}
	if err := shield.Init(ctx, db); err != nil {
		return fmt.Errorf("shield init: %w", err)
	}

	triager, err := cfg.BuildTriager(nil, logger)
	if err != nil {
		return err
	}
	metrics := observability.NewMetricsManager(db, observability.MetricsConfig{Logger: logger})
	defer metrics.Close()

	svc, err := docroute.New(&docroute.Config{
		DB:           db,
		Triager:      triager,
		Parsers:      parser.DefaultRegistry(logger),
		InboxDir:     sc.InboxDir,
		Workers:      sc.Workers,
		Visibility:   sc.Visibility,
		PollInterval: sc.PollInterval,
		MaxAttempts:  sc.MaxAttempts,
		RetryDelay:   sc.RetryDelay,
		// Three missed beats mark the worker as down.
		HeartbeatStale: 3 * sc.Heartbeat,
		Events:         observability.NewEventLogger(db, docroute.ServiceName, observability.WithEventLogger(logger)),
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	workerDone := svc.Start(ctx)

	depth := func(ctx context.Context) (int, error) {
		n, err := svc.QueueDepth(ctx)
		if err == nil {
			metrics.Record(observability.Metric{
				Name:   observability.MetricQueueDepth,
				Value:  float64(n),
				Labels: map[string]string{"queue": "parse"},
			})
		}
		return n, err
	}
	hb := observability.NewHeartbeatWriter(db, docroute.WorkerName, sc.Heartbeat, depth, logger)
	go hb.Run(ctx)
	go retention(ctx, db, sc.Retention, logger)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "docroute", Version: version}, nil)
	svc.RegisterMCP(mcpSrv)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)

	r := chi.NewRouter()
	r.Handle("/mcp", mcpHandler)
	r.Mount("/", svc.Handler())
	guard := shield.New(db, logger, "/v1/health")
	guard.StartReloader(ctx)

	srv := &http.Server{
		Addr:              sc.Listen,
		Handler:           guard.Wrap(r),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "listen", sc.Listen, "db", sc.DBPath, "inbox", sc.InboxDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case serveErr = <-errc:
		stop()
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	<-workerDone
	logger.Info("server stopped")
	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	return nil
}

// retention prunes observability tables once at startup and then hourly.
func retention(ctx context.Context, db *sql.DB, cfg observability.RetentionConfig, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := observability.Cleanup(ctx, db, cfg); err != nil && ctx.Err() == nil {
			logger.Warn("retention cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
