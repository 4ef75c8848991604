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

	"salesflow/internal/api"
	"salesflow/internal/catalog"
	"salesflow/internal/config"
	"salesflow/internal/crm"
	"salesflow/internal/funnel"
	"salesflow/internal/messenger"
	"salesflow/internal/metrics"
	"salesflow/internal/repository"
	"salesflow/internal/service"
	"salesflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	flags := pflag.NewFlagSet("salesflow", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to config.yaml (default: ./config.yaml or ./config/config.yaml)")
	role := flags.String("role", "", "override server.role: all, api or worker")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err == nil && *role != "" {
		cfg.Server.Role = *role
		err = cfg.Validate()
	}
	if err != nil {
		logger.InitLogger("prod")
		logger.Error("invalid configuration", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runAPI := cfg.Server.Role == "all" || cfg.Server.Role == "api"
	runWorkers := cfg.Server.Role == "all" || cfg.Server.Role == "worker"

	db, err := repository.Open(cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		if rdb, err = initRedis(cfg.Redis); err != nil {
			return err
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis not configured, locks and wakeups are process-local")
	}

	observer := metrics.NewPrometheusObserver()
	hub := service.NewHub(observer, cfg.Stream.HeartbeatInterval, cfg.Stream.BufferSize)

	policy := service.NewRetryPolicy(cfg.Workers)
	queue := repository.NewQueueRepository(db, repository.QueueOptions{
		MaxAttempts: cfg.Workers.MaxAttempts,
		Backoff:     policy.Delay,
		LockTimeout: cfg.Database.LockTimeout,
	})
	sessions := repository.NewSessionRepository(db)
	messages := repository.NewMessageRepository(db)
	leads := repository.NewLeadRepository(db)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("starting " + name)
			fn(ctx)
		}()
	}

	spawn("event hub", hub.Run)

	var notifier service.Notifier
	if rdb != nil {
		n := service.NewRedisNotifier(rdb)
		spawn("wakeup subscriber", n.Run)
		notifier = n
	} else {
		notifier = service.NewLocalNotifier()
	}

	if runWorkers {
		if err := startWorkers(ctx, cfg, spawn, db, rdb, queue, sessions, messages, leads, notifier, observer, hub); err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	var srv *http.Server
	if runAPI {
		router, err := buildRouter(cfg, db, rdb, queue, sessions, messages, leads, notifier, observer, hub)
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
		srv = &http.Server{
			Addr:              cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("server starting",
				zap.String("addr", cfg.Server.Port),
				zap.String("env", cfg.Server.Environment),
				zap.String("role", cfg.Server.Role))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server listen failed", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	var shutdownErr error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server forced to shutdown: %w", err)
		}
	}
	// in-flight entries finish before workers return
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info("server exited properly")
	return shutdownErr
}

func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	spawn func(string, func(context.Context)),
	db *gorm.DB,
	rdb *redis.Client,
	queue *repository.QueueRepository,
	sessions *repository.SessionRepository,
	messages *repository.MessageRepository,
	leads *repository.LeadRepository,
	notifier service.Notifier,
	observer metrics.Observer,
	hub *service.Hub,
) error {
	store, err := catalog.NewStore(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if cfg.Catalog.Watch {
		spawn("catalog watcher", func(ctx context.Context) {
			if err := store.Watch(ctx); err != nil {
				logger.Error("catalog watch stopped", zap.Error(err))
			}
		})
	}

	crmClient, err := crm.New(cfg.CRM)
	if err != nil {
		return err
	}

	var sender messenger.Sender = messenger.LogSender{}
	var telegram *messenger.TelegramClient
	if cfg.Telegram.Mode != "off" && cfg.Telegram.BotToken != "" {
		telegram = messenger.NewTelegramClient(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.PollTimeout+10*time.Second)
		sender = telegram
	} else {
		logger.Warn("telegram bot token not set, replies are only logged")
	}

	var locker service.UserLocker
	if rdb != nil {
		locker = service.NewRedisUserLocker(rdb, cfg.Workers.UserLockTTL, cfg.Workers.UserLockWait)
	} else {
		locker = service.NewLocalUserLocker(cfg.Workers.UserLockWait)
	}

	processor := service.NewProcessor(service.ProcessorDeps{
		DB:       db,
		Sessions: sessions,
		Messages: messages,
		Leads:    leads,
		Machine:  funnel.NewMachine(cfg.Funnel.BrandDefault),
		Locker:   locker,
		Catalog:  store,
		TopK:     cfg.Catalog.TopK,
		Sender:   sender,
		CRM:      crmClient,
	})

	pool := service.NewWorkerPool(queue, processor, cfg.Workers.Count, cfg.Workers.PollInterval, notifier, observer, hub)
	spawn("worker pool", pool.Run)

	var sweepLocker service.SweepLocker = service.NopSweepLocker{}
	if cfg.Etcd.Enabled() {
		etcdCli, err := initEtcd(cfg.Etcd)
		if err != nil {
			return err
		}
		etcdLocker := service.NewEtcdSweepLocker(etcdCli, cfg.Workers.SweepLockTTL)
		sweepLocker = etcdLocker
		go func() {
			<-ctx.Done()
			etcdLocker.Close()
			etcdCli.Close()
		}()
	}
	sweeper := service.NewSweeper(queue, sweepLocker, cfg.Workers.StaleAfter, cfg.Workers.SweepInterval, observer, hub)
	spawn("stale sweeper", sweeper.Run)

	if cfg.Telegram.Mode == "polling" && telegram != nil {
		poller := service.NewPoller(telegram, processor, cfg.Telegram.PollTimeout)
		spawn("telegram poller", poller.Run)
	}
	return nil
}

func buildRouter(
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	queue *repository.QueueRepository,
	sessions *repository.SessionRepository,
	messages *repository.MessageRepository,
	leads *repository.LeadRepository,
	notifier service.Notifier,
	observer metrics.Observer,
	hub *service.Hub,
) (http.Handler, error) {
	admin := service.NewAdminService(queue, leads, sessions, messages, notifier, hub)
	admin.SetAuditLog(repository.NewAuditRepository(db))
	admin.AddHealthCheck("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	var refreshStore service.RefreshStore = service.NewMemoryRefreshStore()
	if rdb != nil {
		admin.AddHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		refreshStore = service.NewRedisRefreshStore(rdb)
	}
	auth := service.NewAuthService(cfg.Auth, refreshStore)

	deps := api.RouterDeps{
		Admin:             api.NewAdminHandler(admin),
		Auth:              api.NewAuthHandler(auth),
		Stream:            api.NewStreamHandler(hub),
		Tokens:            auth,
		Redis:             rdb,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		AllowOrigins:      cfg.Server.AllowOrigins,
	}
	if cfg.Telegram.Mode == "webhook" {
		gateway, err := service.NewGateway(queue, cfg.Telegram.WebhookSecret, notifier, observer, hub)
		if err != nil {
			return nil, err
		}
		deps.Webhook = api.NewWebhookHandler(gateway)
		deps.SecretChecker = gateway
	}
	return api.RegisterRoutes(deps), nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}
