package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"broadcaster/internal/app"
	"broadcaster/internal/config"
	"broadcaster/internal/handler"
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

	// The queue is optional for the api: without it started campaigns wait for the scheduler
	var trigger service.DispatchTrigger
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		log.Warn("rabbitmq unavailable, dispatch falls back to the scheduler", "error", err)
	} else {
		defer conn.Close()
		publisher, err := queue.NewPublisher(conn, cfg.RabbitMQ.DispatchQueue)
		if err != nil {
			log.Error("failed to create publisher", "error", err)
			os.Exit(1)
		}
		trigger = publisher
	}

	var leasePinger service.Pinger
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(context.Background(), cfg.Redis.URL, cfg.Redis.LeaseTTL)
		if err != nil {
			log.Warn("redis unavailable", "error", err)
		} else {
			defer redisLocker.Close()
			leasePinger = redisLocker
		}
	}

	repos := services.Repos
	campaigns := service.NewCampaignService(repos.SMS, repos.Email, repos.Marketing, repos.Messages, trigger, log)

	webhookCfg := handler.WebhookConfig{
		PublicBaseURL:       cfg.PublicBaseURL,
		ValidateTwilio:      cfg.Twilio.ValidateWebhookSignature,
		VerifySendGridEvent: cfg.SendGrid.EventWebhookVerify,
	}
	var twilioValidator handler.SignatureValidator
	if services.Transports.Twilio != nil {
		twilioValidator = services.Transports.Twilio
	}
	var sendgridVerifier handler.EventVerifier
	if services.Transports.SendGrid != nil {
		sendgridVerifier = services.Transports.SendGrid
	}

	router := handler.NewRouter(handler.Handlers{
		Health:   handler.NewHealthHandler(service.NewHealthService(db, cfg.GetRabbitMQURL(), leasePinger, app.Version)),
		Campaign: handler.NewCampaignHandler(campaigns, services.Marketing),
		Message:  handler.NewMessageHandler(services.Outbound),
		Preview:  handler.NewPreviewHandler(services.Templates, repos.Customers),
		Webhook:  handler.NewWebhookHandler(services.Reconciliation, twilioValidator, sendgridVerifier, webhookCfg, log),
	}, log)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api server starting", "port", cfg.Server.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	log.Info("api server stopped")
}
