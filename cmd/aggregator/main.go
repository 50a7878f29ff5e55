package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epg_aggregator/internal/aggregator"
	"epg_aggregator/internal/cache"
	"epg_aggregator/internal/config"
	"epg_aggregator/internal/db"
	"epg_aggregator/internal/fetcher"
	"epg_aggregator/internal/logger"
	"epg_aggregator/internal/server"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	port     int
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Merges many XMLTV guides into one deduplicated feed served over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (JSON or YAML); EPG_* env vars override it")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default 10000 or EPG_PORT)")
	rootCmd.Flags().StringVarP(&logLevel, "loglevel", "l", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	defer logger.Log.Info("Application stopped")

	if err := logger.Init(logLevel); err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	if port > 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sources := cfg.Sources
	var (
		database *db.Database
		pinger   server.Pinger
	)
	if cfg.DatabaseURL != "" {
		database, err = openRegistry(ctx, cfg.DatabaseURL, cfg.Sources)
		if err != nil {
			return err
		}
		defer database.Close()
		pinger = database

		if sources, err = database.ListSources(ctx); err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
	}

	logger.Log.WithField("sources", len(sources)).Info("EPG sources loaded")

	f := fetcher.New(fetcher.Options{
		Timeout:     cfg.FetchTimeoutDuration(),
		Concurrency: cfg.Concurrency,
		RetryMax:    cfg.RetryMax,
		MaxBody:     cfg.MaxBodyBytes(),
	})
	svc := aggregator.NewService(f, cache.New(cfg.CacheCapacity), sources)
	if database != nil {
		svc.SetRecorder(database)
	}

	srv := server.NewServer(svc, cfg.TTL(), pinger)
	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Infof("Starting HTTP server on %s", cfg.Address())
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Log.Info("Shutting down...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}

// openRegistry подключается к БД, создаёт схему и записывает источники из конфигурации.
func openRegistry(ctx context.Context, connString string, sources []string) (*db.Database, error) {
	database, err := db.NewDB(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("DB connection error: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("DB migration error: %w", err)
	}
	if err := database.SyncSources(ctx, sources); err != nil {
		database.Close()
		return nil, fmt.Errorf("DB sync error: %w", err)
	}
	return database, nil
}
