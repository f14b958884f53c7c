package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "DRIFTNET"
	defaultDatabasePath      = "driftnet.db"
	defaultLogLevel          = "info"
	defaultStatsAddress      = "0.0.0.0:8080"
	defaultConnectTimeout    = 10 * time.Second
	defaultReceiveTimeout    = 30 * time.Second
	defaultWorkerBackoff     = 5 * time.Second
	defaultPerRelayTimeout   = 10 * time.Second
	defaultOverallTimeout    = 30 * time.Second
	defaultBatchSize         = 100
	defaultCleanupInterval   = time.Minute
	defaultConnectionMaxIdle = 5 * time.Minute
)

// AppConfig captures runtime configuration for the hydration pipeline.
type AppConfig struct {
	RelayURLs         []string
	DatabasePath      string
	LogLevel          string
	StatsAddress      string
	ConnectTimeout    time.Duration
	ReceiveTimeout    time.Duration
	WorkerBackoff     time.Duration
	PerRelayTimeout   time.Duration
	OverallTimeout    time.Duration
	BatchSize         int
	CleanupInterval   time.Duration
	ConnectionMaxIdle time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("relays", "")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("stats.address", defaultStatsAddress)
	configViper.SetDefault("relay.connect_timeout", defaultConnectTimeout)
	configViper.SetDefault("relay.receive_timeout", defaultReceiveTimeout)
	configViper.SetDefault("worker.backoff", defaultWorkerBackoff)
	configViper.SetDefault("query.per_relay_timeout", defaultPerRelayTimeout)
	configViper.SetDefault("query.overall_timeout", defaultOverallTimeout)
	configViper.SetDefault("backfill.batch_size", defaultBatchSize)
	configViper.SetDefault("pool.cleanup_interval", defaultCleanupInterval)
	configViper.SetDefault("pool.max_idle", defaultConnectionMaxIdle)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		RelayURLs:         splitRelayList(configViper.GetString("relays")),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		StatsAddress:      configViper.GetString("stats.address"),
		ConnectTimeout:    configViper.GetDuration("relay.connect_timeout"),
		ReceiveTimeout:    configViper.GetDuration("relay.receive_timeout"),
		WorkerBackoff:     configViper.GetDuration("worker.backoff"),
		PerRelayTimeout:   configViper.GetDuration("query.per_relay_timeout"),
		OverallTimeout:    configViper.GetDuration("query.overall_timeout"),
		BatchSize:         configViper.GetInt("backfill.batch_size"),
		CleanupInterval:   configViper.GetDuration("pool.cleanup_interval"),
		ConnectionMaxIdle: configViper.GetDuration("pool.max_idle"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if len(c.RelayURLs) == 0 {
		return fmt.Errorf("relays is required: provide at least one ws:// or wss:// url")
	}
	for _, url := range c.RelayURLs {
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("relay url %q must use a ws:// or wss:// scheme", url)
		}
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("backfill.batch_size must be positive")
	}
	return nil
}

// splitRelayList parses a comma- or whitespace-separated relay list.
func splitRelayList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	urls := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			urls = append(urls, strings.TrimRight(trimmed, "/"))
		}
	}
	return urls
}
