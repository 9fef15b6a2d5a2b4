package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"broadcaster/internal/app"
	"broadcaster/internal/config"
	"broadcaster/internal/lock"
	"broadcaster/internal/logger"
	"broadcaster/internal/queue"
	"broadcaster/internal/service"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	services, err := app.NewServices(cfg, db, log)
	if err != nil {
		log.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Leases keep two workers off the same campaign; in-process leases only cover one worker
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, cfg.Redis.URL, cfg.Redis.LeaseTTL)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info("connected to redis")
	} else {
		log.Warn("REDIS_URL not set, dispatch leases are process-local")
	}

	dispatcher := services.NewDispatcher(cfg, locker, log)
	scheduler := service.NewScheduler(dispatcher, services.Repos.StatusStores(), app.FamilySchedules(cfg), log)

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		log.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.DispatchQueue, func(ctx context.Context, job *queue.DispatchJob) error {
		log.Info("dispatch job received", "family", job.Family, "campaign_id", job.CampaignID)
		return dispatcher.Dispatch(ctx, job.Family, job.CampaignID)
	}, log)
	if err != nil {
		log.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Error("failed to start consumer", "error", err)
		os.Exit(1)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(groupCtx)
	})

	log.Info("worker started", "queue", cfg.RabbitMQ.DispatchQueue)
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}

	log.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		log.Error("failed to stop consumer", "error", err)
	}
	log.Info("worker stopped")
}
