package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/internal/collections"
	"github.com/mozilla-services/syncstorage-go/internal/config"
	"github.com/mozilla-services/syncstorage-go/internal/health"
	"github.com/mozilla-services/syncstorage-go/internal/logging"
	"github.com/mozilla-services/syncstorage-go/internal/metrics"
	"github.com/mozilla-services/syncstorage-go/internal/pool"
	"github.com/mozilla-services/syncstorage-go/internal/quota"
	"github.com/mozilla-services/syncstorage-go/internal/reqlog"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
	"github.com/mozilla-services/syncstorage-go/internal/storagefactory"
	"github.com/mozilla-services/syncstorage-go/internal/syncapi"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncstorage",
	Short: "Firefox Sync 1.5 storage server",
	Long: `syncstorage serves the Sync 1.5 BSO storage protocol: per-user,
per-collection reads and writes, the batch upload engine, and per-user
quota enforcement, against a pluggable storage backend.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"syncstorage version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to a YAML config file (optional)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.WithComponent("syncstorage")

	root, err := storagefactory.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}
	defer root.Close()

	sessioner, ok := root.(interface{ NewSession() storagedriver.Driver })
	if !ok {
		return fmt.Errorf("storage backend %q does not support pooled sessions", cfg.DatabaseURL)
	}

	poolCfg := pool.Config{
		MaxSize:           cfg.DatabasePoolMaxSize,
		ConnectionTimeout: cfg.DatabasePoolConnectionTimeout,
		MaxLifespan:       cfg.DatabasePoolConnectionLifespan,
		MaxIdle:           cfg.DatabasePoolConnectionMaxIdle,
	}
	p, err := pool.New(poolCfg, func() (storagedriver.Driver, error) {
		return sessioner.NewSession(), nil
	})
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer p.Close()

	var quotaLimits quota.Limits
	if cfg.EnableQuota {
		quotaLimits = quota.Limits{MaxBytes: cfg.Limits.MaxQuotaLimit, WarnPercent: 0.9}
	}

	router := syncapi.NewRouter(syncapi.Deps{
		Pool:            p,
		Collections:     collections.New(),
		Quota:           quota.New(quotaLimits),
		MaxBSOGetLimit:  cfg.Limits.MaxTotalRecords,
		MaxPostRecords:  cfg.Limits.MaxPostRecords,
		MaxPostBytes:    int(cfg.Limits.MaxPostBytes),
		MaxPayloadBytes: int(cfg.Limits.MaxRecordPayloadBytes),
	})

	heartbeats := health.NewServer(health.CheckerFunc(p.Check))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/__lbheartbeat__", heartbeats)
	mux.Handle("/__heartbeat__", heartbeats)
	mux.Handle("/1.5/", router)

	srv := &http.Server{
		Addr:         cfg.StorageListenAddr,
		Handler:      reqlog.Middleware("syncstorage", mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.StorageListenAddr).Msg("starting syncstorage server")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	return nil
}
