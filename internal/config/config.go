// Package config loads settings for both the storage and tokenserver
// binaries from an optional YAML file overlaid with SYNC_*-prefixed
// environment variables, following the env-prefix convention named in
// spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits bounds BSO payloads, batch sizes, and per-user storage.
type Limits struct {
	MaxRecordPayloadBytes int64 `yaml:"max_record_payload_bytes"`
	MaxPostRecords        int   `yaml:"max_post_records"`
	MaxPostBytes          int64 `yaml:"max_post_bytes"`
	MaxTotalRecords       int   `yaml:"max_total_records"`
	MaxTotalBytes         int64 `yaml:"max_total_bytes"`
	MaxQuotaLimit         int64 `yaml:"max_quota_limit"`
}

// Config is the full settings surface for both binaries; each only reads
// the sections relevant to it.
type Config struct {
	DatabaseURL                    string        `yaml:"database_url"`
	DatabasePoolMaxSize            int           `yaml:"database_pool_max_size"`
	DatabasePoolConnectionTimeout  time.Duration `yaml:"database_pool_connection_timeout"`
	DatabasePoolConnectionLifespan time.Duration `yaml:"database_pool_connection_lifespan"`
	DatabasePoolConnectionMaxIdle  time.Duration `yaml:"database_pool_connection_max_idle"`

	MasterSecret string `yaml:"master_secret"`

	Limits      Limits `yaml:"limits"`
	EnableQuota bool   `yaml:"enable_quota"`

	FxaOauthServerURL   string `yaml:"fxa_oauth_server_url"`
	FxaOauthPrimaryJWK  string `yaml:"fxa_oauth_primary_jwk"`
	FxaEmailDomain      string `yaml:"fxa_email_domain"`
	FxaOauthRequestTimeout    time.Duration `yaml:"fxa_oauth_request_timeout"`
	FxaBrowseridServerURL     string        `yaml:"fxa_browserid_server_url"`
	FxaBrowseridRequestTimeout time.Duration `yaml:"fxa_browserid_request_timeout"`
	FxaBrowseridConnectTimeout time.Duration `yaml:"fxa_browserid_connect_timeout"`

	NodeCapacityReleaseRate float64       `yaml:"node_capacity_release_rate"`
	TokenDuration           time.Duration `yaml:"token_duration"`
	TokenserverOrigin       string        `yaml:"tokenserver_origin"`

	StorageListenAddr     string `yaml:"storage_listen_addr"`
	TokenserverListenAddr string `yaml:"tokenserver_listen_addr"`
}

// Default returns the baseline configuration before any file or env
// overlay is applied.
func Default() *Config {
	return &Config{
		DatabaseURL:                    "bolt://./data/syncstorage.db",
		DatabasePoolMaxSize:            10,
		DatabasePoolConnectionTimeout:  3 * time.Second,
		DatabasePoolConnectionLifespan: 45 * time.Minute,
		DatabasePoolConnectionMaxIdle:  5 * time.Minute,
		Limits: Limits{
			MaxRecordPayloadBytes: 2 * 1024 * 1024,
			MaxPostRecords:        100,
			MaxPostBytes:          2 * 1024 * 1024,
			MaxTotalRecords:       10000,
			MaxTotalBytes:         200 * 1024 * 1024,
			MaxQuotaLimit:         2 * 1024 * 1024 * 1024,
		},
		EnableQuota:                false,
		FxaOauthRequestTimeout:      10 * time.Second,
		FxaBrowseridRequestTimeout:  10 * time.Second,
		FxaBrowseridConnectTimeout:  5 * time.Second,
		NodeCapacityReleaseRate:     0.1,
		TokenDuration:               5 * time.Minute,
		TokenserverOrigin:           "tokenserver",
		StorageListenAddr:           ":8000",
		TokenserverListenAddr:       ":8001",
	}
}

// Load reads the optional YAML file at path (skipped if empty or missing),
// then applies SYNC_*-prefixed environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str(&cfg.DatabaseURL, "SYNC_DATABASE_URL")
	ival(&cfg.DatabasePoolMaxSize, "SYNC_DATABASE_POOL_MAX_SIZE")
	dur(&cfg.DatabasePoolConnectionTimeout, "SYNC_DATABASE_POOL_CONNECTION_TIMEOUT")
	dur(&cfg.DatabasePoolConnectionLifespan, "SYNC_DATABASE_POOL_CONNECTION_LIFESPAN")
	dur(&cfg.DatabasePoolConnectionMaxIdle, "SYNC_DATABASE_POOL_CONNECTION_MAX_IDLE")
	str(&cfg.MasterSecret, "SYNC_MASTER_SECRET")

	i64(&cfg.Limits.MaxRecordPayloadBytes, "SYNC_LIMITS_MAX_RECORD_PAYLOAD_BYTES")
	ival(&cfg.Limits.MaxPostRecords, "SYNC_LIMITS_MAX_POST_RECORDS")
	i64(&cfg.Limits.MaxPostBytes, "SYNC_LIMITS_MAX_POST_BYTES")
	ival(&cfg.Limits.MaxTotalRecords, "SYNC_LIMITS_MAX_TOTAL_RECORDS")
	i64(&cfg.Limits.MaxTotalBytes, "SYNC_LIMITS_MAX_TOTAL_BYTES")
	i64(&cfg.Limits.MaxQuotaLimit, "SYNC_LIMITS_MAX_QUOTA_LIMIT")

	bval(&cfg.EnableQuota, "SYNC_ENABLE_QUOTA")

	str(&cfg.FxaOauthServerURL, "SYNC_FXA_OAUTH_SERVER_URL")
	str(&cfg.FxaOauthPrimaryJWK, "SYNC_FXA_OAUTH_PRIMARY_JWK")
	str(&cfg.FxaEmailDomain, "SYNC_FXA_EMAIL_DOMAIN")
	dur(&cfg.FxaOauthRequestTimeout, "SYNC_FXA_OAUTH_REQUEST_TIMEOUT")
	str(&cfg.FxaBrowseridServerURL, "SYNC_FXA_BROWSERID_SERVER_URL")
	dur(&cfg.FxaBrowseridRequestTimeout, "SYNC_FXA_BROWSERID_REQUEST_TIMEOUT")
	dur(&cfg.FxaBrowseridConnectTimeout, "SYNC_FXA_BROWSERID_CONNECT_TIMEOUT")

	fval(&cfg.NodeCapacityReleaseRate, "SYNC_NODE_CAPACITY_RELEASE_RATE")
	dur(&cfg.TokenDuration, "SYNC_TOKEN_DURATION")
	str(&cfg.TokenserverOrigin, "SYNC_TOKENSERVER_ORIGIN")

	str(&cfg.StorageListenAddr, "SYNC_STORAGE_LISTEN_ADDR")
	str(&cfg.TokenserverListenAddr, "SYNC_TOKENSERVER_LISTEN_ADDR")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func ival(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func i64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func fval(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func bval(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func dur(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(secs * float64(time.Second))
		}
	}
}
