package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tidewater-labs/driftnet/internal/config"
	"github.com/tidewater-labs/driftnet/internal/database"
	"github.com/tidewater-labs/driftnet/internal/hydrate"
	"github.com/tidewater-labs/driftnet/internal/logging"
	"github.com/tidewater-labs/driftnet/internal/nostr"
	"github.com/tidewater-labs/driftnet/internal/relay"
	"github.com/tidewater-labs/driftnet/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "driftnet",
		Short: "Relay hydration pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newBackfillCommand())
	rootCmd.AddCommand(newStreamCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("relays", defaults.GetString("relays"), "Comma-separated relay websocket URLs")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("stats-address", defaults.GetString("stats.address"), "Stats HTTP listen address")
	cmd.PersistentFlags().Duration("connect-timeout", defaults.GetDuration("relay.connect_timeout"), "Relay dial timeout")
	cmd.PersistentFlags().Duration("receive-timeout", defaults.GetDuration("relay.receive_timeout"), "Streaming receive window")
	cmd.PersistentFlags().Duration("worker-backoff", defaults.GetDuration("worker.backoff"), "Reconnect backoff for streaming workers")
	cmd.PersistentFlags().Duration("per-relay-timeout", defaults.GetDuration("query.per_relay_timeout"), "Per-relay query timeout")
	cmd.PersistentFlags().Duration("overall-timeout", defaults.GetDuration("query.overall_timeout"), "Overall query timeout")
	cmd.PersistentFlags().Int("batch-size", defaults.GetInt("backfill.batch_size"), "Persistence flush batch size")

	bindFlag(cmd, "relays", "relays")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "stats.address", "stats-address")
	bindFlag(cmd, "relay.connect_timeout", "connect-timeout")
	bindFlag(cmd, "relay.receive_timeout", "receive-timeout")
	bindFlag(cmd, "worker.backoff", "worker-backoff")
	bindFlag(cmd, "query.per_relay_timeout", "per-relay-timeout")
	bindFlag(cmd, "query.overall_timeout", "overall-timeout")
	bindFlag(cmd, "backfill.batch_size", "batch-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// pipeline bundles the dependencies shared by both subcommands.
type pipeline struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	pool    *relay.Pool
	service *hydrate.Service
}

func buildPipeline() (*pipeline, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	pool := relay.NewPool(relay.PoolConfig{
		ConnectTimeout: appConfig.ConnectTimeout,
		Logger:         logger,
	})

	service, err := hydrate.NewService(hydrate.ServiceConfig{
		Database: db,
		Pool:     pool,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		sqlDB.Close()
		logger.Sync() //nolint:errcheck
	}
	return &pipeline{cfg: appConfig, logger: logger, db: db, pool: pool, service: service}, cleanup, nil
}

func newBackfillCommand() *cobra.Command {
	var (
		kinds   []int
		authors []string
		since   int64
		until   int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fan one filter out to the configured relays and project the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipe, cleanup, err := buildPipeline()
			if err != nil {
				return err
			}
			defer cleanup()

			filter := nostr.Filter{
				Kinds:   kinds,
				Authors: authors,
				Limit:   limit,
			}
			if since > 0 {
				filter.Since = &since
			}
			if until > 0 {
				filter.Until = &until
			}

			summary, err := pipe.service.Backfill(cmd.Context(), hydrate.BackfillRequest{
				RelayURLs:       pipe.cfg.RelayURLs,
				Filter:          filter,
				PerRelayTimeout: pipe.cfg.PerRelayTimeout,
				OverallTimeout:  pipe.cfg.OverallTimeout,
				BatchSize:       pipe.cfg.BatchSize,
			})
			for url, relayErr := range summary.FailedRelays {
				pipe.logger.Warn("relay unavailable during backfill",
					zap.String("url", url),
					zap.Error(relayErr))
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved=%d skipped=%d errors=%d\n",
				summary.Saved, summary.Skipped(), len(summary.FailedRelays))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&kinds, "kinds", []int{hydrate.KindLongFormArticle}, "Event kinds to fetch")
	cmd.Flags().StringSliceVar(&authors, "authors", nil, "Author pubkeys (hex) to fetch")
	cmd.Flags().Int64Var(&since, "since", 0, "Only events at or after this unix timestamp")
	cmd.Flags().Int64Var(&until, "until", 0, "Only events at or before this unix timestamp")
	cmd.Flags().IntVar(&limit, "limit", 500, "Per-relay event limit")
	return cmd
}

func newStreamCommand() *cobra.Command {
	var kinds []int

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Hold live subscriptions against every configured relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipe, cleanup, err := buildPipeline()
			if err != nil {
				return err
			}
			defer cleanup()
			return runStream(cmd.Context(), pipe, kinds)
		},
	}

	cmd.Flags().IntSliceVar(&kinds, "kinds", []int{
		hydrate.KindTextNote,
		hydrate.KindComment,
		hydrate.KindFileMetadata,
		hydrate.KindZapReceipt,
		hydrate.KindHighlight,
		hydrate.KindLongFormArticle,
	}, "Event kinds to subscribe to")
	return cmd
}

func runStream(ctx context.Context, pipe *pipeline, kinds []int) error {
	handler, err := server.NewHTTPHandler(server.Dependencies{
		HydrateService: pipe.service,
		Logger:         pipe.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    pipe.cfg.StatsAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		pipe.logger.Info("stats server starting", zap.String("address", pipe.cfg.StatsAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var workers sync.WaitGroup
	for _, relayURL := range pipe.cfg.RelayURLs {
		worker, err := relay.NewWorker(relay.WorkerConfig{
			Pool:           pipe.pool,
			RelayURL:       relayURL,
			Filter:         nostr.Filter{Kinds: kinds},
			OnEvent:        pipe.service.EventHandler(),
			Backoff:        pipe.cfg.WorkerBackoff,
			ReceiveTimeout: pipe.cfg.ReceiveTimeout,
			Logger:         pipe.logger,
		})
		if err != nil {
			return err
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(signalCtx); err != nil {
				pipe.logger.Error("subscription worker exited", zap.Error(err))
			}
		}()
	}

	// Staleness reaping is driven here, not inside the pool.
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(pipe.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-signalCtx.Done():
				return
			case <-ticker.C:
				if removed := pipe.pool.CleanupStale(pipe.cfg.ConnectionMaxIdle); removed > 0 {
					pipe.logger.Info("stale relay connections removed", zap.Int("count", removed))
				}
			}
		}
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		workers.Wait()
		return shutdownErr
	case err := <-errCh:
		stop()
		workers.Wait()
		return err
	}
}
