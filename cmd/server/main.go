package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/PaymentBoxService/internal/api"
	"github.com/honeynil/PaymentBoxService/internal/config"
	"github.com/honeynil/PaymentBoxService/internal/escrow"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/kafka"
	"github.com/honeynil/PaymentBoxService/internal/infrastructure/redis"
	"github.com/honeynil/PaymentBoxService/internal/observability"
	"github.com/honeynil/PaymentBoxService/internal/repository"
	"github.com/honeynil/PaymentBoxService/internal/repository/memory"
	core "github.com/honeynil/PaymentBoxService/internal/repository/postgres"
	service "github.com/honeynil/PaymentBoxService/internal/services"
	"github.com/honeynil/PaymentBoxService/internal/worker"
	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем логи, метрики, трейсы
	shutdown, metricsHandler, err := observability.Setup(ctx, "payment-box-service", cfg.LogLevel, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up observability: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("observability shutdown failed", "error", err)
		}
	}()

	// Хранилище
	var (
		boxRepo      repository.PaymentBoxRepository
		outboxRepo   repository.OutboxRepository
		settingsRepo repository.SettingsRepository
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store := memory.NewStore()
		boxRepo, outboxRepo, settingsRepo = store, store, store
		slog.Warn("using in-memory storage, data is lost on restart")
	default:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			fatal("failed to open Postgres", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			fatal("failed to connect to Postgres", err)
		}
		if cfg.AutoMigrate {
			if err := core.EnsureSchema(ctx, db); err != nil {
				fatal("failed to apply schema", err)
			}
		}
		boxRepo = core.NewPostgresPaymentBoxRepository(db)
		outboxRepo = core.NewPostgresOutboxRepository(db)
		settingsRepo = core.NewPostgresSettingsRepository(db)
	}

	// Redis опционален: без него нет кэша и идемпотентности create
	var cache redis.RedisClient
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			fatal("failed to connect to Redis", err)
		}
		defer client.Close()
		cache = client
	}

	machine := escrow.NewMachine(escrow.Policy{ConfirmOnlyAfterExpiry: cfg.ConfirmOnlyAfterExpiry})
	svc := service.NewPaymentBoxService(boxRepo, settingsRepo, cache, machine, service.SystemClock{}, cfg.CacheTTL)

	// Outbox -> Kafka, и обратно для инвалидации кэша на всех репликах
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		outboxWorker := worker.NewOutboxWorker(outboxRepo, producer, cfg.OutboxInterval, cfg.OutboxBatchSize, slog.Default())
		go outboxWorker.Run(ctx)

		if cache != nil {
			consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, cache)
			defer consumer.Close()
			go consumer.Consume(ctx)
		}
	} else {
		slog.Warn("KAFKA_BROKERS not set, outbox events stay pending")
	}

	var apiMetrics http.Handler
	if cfg.MetricsAddr == "" {
		apiMetrics = metricsHandler
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(svc, cfg.JWTSecret, apiMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go serve(server)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go serve(metricsServer)
	}

	// Graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
	slog.Info("server stopped")
}

func serve(server *http.Server) {
	slog.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("server failed", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
