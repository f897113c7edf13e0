package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copduh/Interviewzwt/internal/api"
	"github.com/copduh/Interviewzwt/internal/config"
	"github.com/copduh/Interviewzwt/internal/handler"
	"github.com/copduh/Interviewzwt/internal/infrastructure/auth"
	"github.com/copduh/Interviewzwt/internal/infrastructure/kafka"
	"github.com/copduh/Interviewzwt/internal/infrastructure/paypal"
	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
	"github.com/copduh/Interviewzwt/internal/observability"
	core "github.com/copduh/Interviewzwt/internal/repository/postgres"
	service "github.com/copduh/Interviewzwt/internal/services"
)

const consumerGroup = "payments-cache"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// logging, metrics and tracing
	shutdownTelemetry := observability.Setup(ctx, cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// Postgres
	db, err := core.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := core.Migrate(db); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Kafka is optional: without brokers events are not published.
	var producer kafka.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers)
		defer p.Close()
		producer = p

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicPayments, consumerGroup, redisClient)
		go consumer.Consume(ctx)
		defer consumer.Close()
	} else {
		slog.Warn("KAFKA_BROKERS is empty, payment events are disabled")
	}

	if !cfg.PayPal.Configured() {
		slog.Warn("PayPal credentials are not configured, captures will rely on order mappings")
	}

	// wiring
	userRepo := core.NewPostgresUserRepository(db)
	mappingRepo := core.NewPostgresOrderMappingRepository(db)
	creditRepo := core.NewPostgresCreditRepository(db)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	provider := paypal.NewClient(cfg.PayPal, redisClient)

	accounts := service.NewAccountService(userRepo, creditRepo, redisClient, tokens, cfg.SignupCredits, producer)
	payments := service.NewPaymentService(provider, mappingRepo, creditRepo, redisClient, producer)

	router := api.SetupRouter(api.Dependencies{
		ServiceName: cfg.ServiceName,
		Logger:      slog.Default().With("service", cfg.ServiceName),
		Handler:     handler.NewHandler(accounts, payments),
		Redis:       redisClient,
		Tokens:      tokens,
		DB:          db,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// capture waits on PayPal, so leave room for the provider timeout
		WriteTimeout: cfg.PayPal.Timeout + 15*time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	payments.Wait()
	accounts.Wait()
	slog.Info("server stopped")
}
