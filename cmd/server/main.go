// Package main provides the entry point for the eco assistant bot backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eco-assistant/internal/adapter"
	"github.com/eco-assistant/internal/api"
	"github.com/eco-assistant/internal/cache"
	"github.com/eco-assistant/internal/config"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/ratelimit"
	"github.com/eco-assistant/internal/service"
	"github.com/eco-assistant/internal/storage"
	"github.com/eco-assistant/internal/worker"
)

func main() {
	fmt.Println("Eco Assistant Bot Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	defer postgres.Close()

	if err := storage.RunMigrations(cfg.Database.Postgres.URL(), storage.DefaultPostgresMigrations); err != nil {
		return fmt.Errorf("run Postgres migrations: %w", err)
	}

	// Redis is an optional second tier for point sets
	var (
		backing cache.PointBackingStore
		budget  *ratelimit.BudgetTracker
	)
	if cfg.Database.Redis.Host != "" {
		redis, err := storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, point sets will be cached in memory only")
		} else {
			defer func() { _ = redis.Close() }()
			backing = storage.NewPointCache(redis.Client(), cfg.Cache.PointTTL)
			if cfg.Overpass.DailyBudget > 0 {
				budget, err = ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
					Redis: redis.Client(),
					Name:  "overpass",
					Limit: cfg.Overpass.DailyBudget,
				})
				if err != nil {
					return err
				}
			}
		}
	}

	// ClickHouse is an optional analytics sink for credited actions
	var (
		actionLog *worker.ActionLog
		history   api.ActionHistory
	)
	if cfg.Database.ClickHouse.Host != "" {
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, action log disabled")
		} else {
			defer func() { _ = clickhouse.Close() }()
			if err := storage.RunClickHouseMigrations(ctx, clickhouse, storage.DefaultClickHouseMigrations); err != nil {
				return fmt.Errorf("run ClickHouse migrations: %w", err)
			}
			repo := storage.NewActionLogRepository(clickhouse)
			history = repo
			actionLog, err = worker.NewActionLog(&worker.ActionLogConfig{Writer: repo, Logger: logger})
			if err != nil {
				return err
			}
		}
	}
	logger.Info("Database connections established")

	overpassCfg := &adapter.OverpassClientConfig{
		URL:         cfg.Overpass.URL,
		Radius:      cfg.Overpass.Radius,
		Timeout:     cfg.Overpass.Timeout,
		RPS:         cfg.Overpass.RPS,
		MaxAttempts: cfg.Overpass.MaxAttempts,
		Logger:      logger,
	}
	if budget != nil {
		overpassCfg.Budget = budget
	}
	overpass := adapter.NewOverpassClient(overpassCfg)

	manager := cache.NewManager(&cache.ManagerConfig{
		Store:           storage.NewStore(postgres),
		Provider:        overpass,
		Backing:         backing,
		LeaderboardSize: cfg.Gamification.LeaderboardSize,
		// room for every Overpass attempt plus backoff
		LookupTimeout: time.Duration(cfg.Overpass.MaxAttempts+1) * cfg.Overpass.Timeout,
		Logger:        logger,
	})
	if !manager.LoadAll(ctx) {
		return errors.New("failed to load cached state from Postgres")
	}

	var recorder service.ActionRecorder
	if actionLog != nil {
		recorder = actionLog
		actionLog.Start(ctx)
	}
	gamification := service.NewGamificationService(manager, recorder, cfg.Gamification.Location())
	bot := service.NewBotService(manager, manager, gamification)

	var sender api.MessageSender
	var scheduler *worker.NotificationScheduler
	if cfg.VK.Token != "" {
		vk := adapter.NewVKClient(&adapter.VKClientConfig{
			Token:        cfg.VK.Token,
			APIURL:       cfg.VK.APIURL,
			APIVersion:   cfg.VK.APIVersion,
			SendRPS:      cfg.VK.SendRPS,
			SendAttempts: cfg.VK.SendAttempts,
			Logger:       logger,
		})
		sender = vk

		if cfg.Notifications.Enabled {
			scheduler, err = worker.NewNotificationScheduler(&worker.NotificationSchedulerConfig{
				Cache:       manager,
				Sender:      vk,
				MinInterval: cfg.Notifications.MinInterval,
				MaxInterval: cfg.Notifications.MaxInterval,
				Location:    cfg.Gamification.Location(),
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			scheduler.Start(ctx)
		}
	} else {
		logger.Warn("VK_TOKEN not set, replies are returned over HTTP only")
	}

	var snapshots *worker.SnapshotWorker
	if cfg.Cache.SnapshotInterval > 0 {
		snapshots, err = worker.NewSnapshotWorker(&worker.SnapshotWorkerConfig{
			Cache:    manager,
			Interval: cfg.Cache.SnapshotInterval,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := snapshots.Start(ctx); err != nil {
			return err
		}
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, &api.Dependencies{
		Cache:   manager,
		Bot:     bot,
		Credits: gamification,
		History: history,
		Sender:  sender,
		Logger:  logger,
		Workers: func() map[string]interface{} {
			stats := map[string]interface{}{}
			if scheduler != nil {
				stats["notifications"] = scheduler.Stats()
			}
			if snapshots != nil {
				stats["snapshots"] = snapshots.Stats()
			}
			if actionLog != nil {
				stats["actionLog"] = actionLog.Stats()
			}
			stats["overpass"] = overpass.BreakerStats()
			if budget != nil {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if usage, err := budget.Usage(ctx); err == nil {
					stats["overpassBudget"] = usage
				}
			}
			return stats
		},
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown error")
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Notification scheduler stop error")
		}
	}
	if snapshots != nil {
		if err := snapshots.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Snapshot worker stop error")
		}
	}
	if actionLog != nil {
		if err := actionLog.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Action log stop error")
		}
	}

	if !manager.SaveAll(shutdownCtx) {
		return errors.New("final save completed with errors")
	}
	logger.Info("Server stopped")
	return nil
}
