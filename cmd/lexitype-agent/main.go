package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lexitype/lexitype/internal/chapter"
	"github.com/lexitype/lexitype/internal/config"
	"github.com/lexitype/lexitype/internal/database"
	"github.com/lexitype/lexitype/internal/logging"
	"github.com/lexitype/lexitype/internal/plan"
	"github.com/lexitype/lexitype/internal/review"
	"github.com/lexitype/lexitype/internal/session"
	"github.com/lexitype/lexitype/internal/syncer"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexitype-agent",
		Short: "Lexitype device agent: periodic sync and daily rollover",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("server-url", "", "Sync server base URL")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between sync rounds")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "sync.server_url", "server-url")
	bindFlag(cmd, "sync.interval", "sync-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	_ = godotenv.Load()

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

func runAgent(ctx context.Context) error {
	appConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenLocal(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := review.NewUUIDProvider()

	wordStore, err := review.NewWordStore(review.WordStoreConfig{
		Database: db, IDProvider: idProvider, Logger: logger,
	})
	if err != nil {
		return err
	}
	configStore, err := review.NewConfigStore(review.ConfigStoreConfig{
		Database: db, IDProvider: idProvider, Logger: logger,
	})
	if err != nil {
		return err
	}
	historyStore, err := review.NewHistoryStore(review.HistoryStoreConfig{
		Database: db, Logger: logger,
	})
	if err != nil {
		return err
	}
	familiarStore, err := review.NewFamiliarStore(review.FamiliarStoreConfig{
		Database: db, IDProvider: idProvider, Logger: logger,
	})
	if err != nil {
		return err
	}
	progressStore, err := chapter.NewProgressStore(chapter.ProgressStoreConfig{
		Database: db, Logger: logger,
	})
	if err != nil {
		return err
	}
	stateStore, err := syncer.NewStateStore(db)
	if err != nil {
		return err
	}

	registry, err := syncer.NewRegistry(wordStore, configStore, historyStore, familiarStore)
	if err != nil {
		return err
	}
	transport, err := syncer.NewHTTPTransport(syncer.HTTPTransportConfig{
		BaseURL: appConfig.ServerURL,
		Token: func(context.Context) (string, error) {
			return appConfig.SyncToken, nil
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	engine, err := syncer.NewEngine(syncer.EngineConfig{
		Registry:  registry,
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	practiceSession, err := session.New(session.Config{
		Words:      wordStore,
		Configs:    configStore,
		Familiar:   familiarStore,
		Progress:   progressStore,
		IDProvider: idProvider,
		Planner:    plan.DefaultPlannerConfig(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unverified account pauses sync until the user resolves it; automatic
	// retries would only re-trigger the same 403.
	var syncPaused atomic.Bool

	runSync := func() {
		if syncPaused.Load() {
			return
		}
		watermark, err := stateStore.Watermark(signalCtx)
		if err != nil {
			logger.Error("reading sync watermark failed", zap.Error(err))
			return
		}
		result := engine.Run(signalCtx, watermark)
		if !result.Success {
			if errors.Is(result.Error, syncer.ErrRoundInFlight) {
				return
			}
			if errors.Is(result.Error, syncer.ErrNotVerified) {
				syncPaused.Store(true)
				logger.Warn("sync paused: account email not verified")
				return
			}
			logger.Warn("sync round failed", zap.Error(result.Error))
			return
		}
		if err := stateStore.SetWatermark(signalCtx, result.Watermark); err != nil {
			logger.Error("persisting sync watermark failed", zap.Error(err))
			return
		}
		logger.Info("sync round complete",
			zap.Int64("watermark", result.Watermark),
			zap.Int("pushed", result.Pushed),
			zap.Int("applied", result.Applied))
	}

	runRollover := func() {
		if err := practiceSession.Rollover(signalCtx); err != nil {
			logger.Warn("daily rollover failed", zap.Error(err))
		}
	}

	scheduler := gocron.NewScheduler(time.Local)
	if _, err := scheduler.Every(appConfig.SyncInterval).Do(runSync); err != nil {
		return err
	}
	if _, err := scheduler.Every(appConfig.RolloverCheck).Do(runRollover); err != nil {
		return err
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	logger.Info("agent started",
		zap.String("server", appConfig.ServerURL),
		zap.Duration("sync_interval", appConfig.SyncInterval))

	<-signalCtx.Done()
	engine.Abort()
	return nil
}
