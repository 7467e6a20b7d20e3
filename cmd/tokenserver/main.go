package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozilla-services/syncstorage-go/internal/browseridverify"
	"github.com/mozilla-services/syncstorage-go/internal/config"
	"github.com/mozilla-services/syncstorage-go/internal/health"
	"github.com/mozilla-services/syncstorage-go/internal/jwkcache"
	"github.com/mozilla-services/syncstorage-go/internal/logging"
	"github.com/mozilla-services/syncstorage-go/internal/metrics"
	"github.com/mozilla-services/syncstorage-go/internal/oauthverify"
	"github.com/mozilla-services/syncstorage-go/internal/reqlog"
	"github.com/mozilla-services/syncstorage-go/internal/tokendb"
	"github.com/mozilla-services/syncstorage-go/internal/tokenissuer"
	"github.com/mozilla-services/syncstorage-go/internal/tokenserverapi"
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
	Use:   "tokenserver",
	Short: "Firefox Accounts token issuance server",
	Long: `tokenserver verifies FxA OAuth/BrowserID credentials and mints
Sync 1.5 MAC bearer tokens scoped to a user and a storage node.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tokenserver version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to a YAML config file (optional)")
	rootCmd.Flags().String("tokendb", "./data/tokenserver.db", "Path to the tokenserver bbolt database")

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
	tokenDBPath, _ := cmd.Flags().GetString("tokendb")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.WithComponent("tokenserver")

	db, err := tokendb.Open(tokenDBPath, cfg.NodeCapacityReleaseRate)
	if err != nil {
		return fmt.Errorf("opening tokenserver db: %w", err)
	}
	defer db.Close()

	var primaryJWK jwkcache.JWK
	if cfg.FxaOauthPrimaryJWK != "" {
		if err := json.Unmarshal([]byte(cfg.FxaOauthPrimaryJWK), &primaryJWK); err != nil {
			return fmt.Errorf("parsing fxa_oauth_primary_jwk: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.FxaOauthRequestTimeout}
	jwks := jwkcache.New(primaryJWK, cfg.FxaOauthServerURL+"/jwks", httpClient)
	oauthVerifier := oauthverify.New(jwks, cfg.FxaOauthServerURL+"/v1/verify", httpClient)

	browseridClient := &http.Client{Timeout: cfg.FxaBrowseridRequestTimeout}
	browseridVerifier := browseridverify.New(cfg.FxaBrowseridServerURL, cfg.TokenserverOrigin, browseridClient)

	issuer := tokenissuer.New(tokenissuer.Config{
		Service:           "sync-1.5",
		MasterSecret:      cfg.MasterSecret,
		TokenDuration:     cfg.TokenDuration,
		TokenserverOrigin: cfg.TokenserverOrigin,
	}, oauthVerifier, db)

	handler := tokenserverapi.New(issuer, oauthVerifier, browseridVerifier, cfg.MasterSecret)

	checker := health.CheckerFunc(func(ctx context.Context) error { return db.Check() })
	heartbeats := health.NewServer(checker)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/__lbheartbeat__", heartbeats)
	mux.Handle("/__heartbeat__", heartbeats)
	mux.Handle("/1.0/sync/1.5", handler)

	srv := &http.Server{
		Addr:         cfg.TokenserverListenAddr,
		Handler:      reqlog.Middleware("tokenserver", mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.TokenserverListenAddr).Msg("starting tokenserver")
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
