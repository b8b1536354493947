package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/enercoop/gridmatch/internal/api"
	"github.com/enercoop/gridmatch/internal/config"
	"github.com/enercoop/gridmatch/internal/engine"
	"github.com/enercoop/gridmatch/internal/ledger"
	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/messaging"
	"github.com/enercoop/gridmatch/internal/repository"
	"github.com/enercoop/gridmatch/internal/settlement"
	"github.com/enercoop/gridmatch/internal/sweeper"
	"github.com/enercoop/gridmatch/internal/trigger"
	"github.com/enercoop/gridmatch/pkg/logger"
	"github.com/enercoop/gridmatch/pkg/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig(os.Getenv("GRIDMATCH_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("Failed to access database pool", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis not available, proceeding without cache", zap.Error(err))
			cache = nil
		}
		cancel()
	}

	repo, err := repository.NewGormRepository(db, zapLogger, cache)
	if err != nil {
		zapLogger.Fatal("Failed to create repository", zap.Error(err))
	}
	ledgerClient, err := ledger.NewGormLedger(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	var publisher engine.MatchPublisher
	var kafkaPublisher *messaging.KafkaPublisher
	if cfg.Kafka.Enabled {
		kcfg := messaging.DefaultKafkaConfig()
		kcfg.Brokers = cfg.Kafka.Brokers
		kcfg.Topic = cfg.Kafka.Topic
		kafkaPublisher = messaging.NewKafkaPublisher(zapLogger, kcfg)
		publisher = kafkaPublisher
	}

	settleCfg := settlement.DefaultConfig()
	settleCfg.FeeRate = decimal.NewFromFloat(cfg.Settlement.FeeRate)
	settleCfg.InitialBackoff = cfg.Settlement.InitialBackoff
	settleCfg.MaxBackoff = cfg.Settlement.MaxBackoff
	settleCfg.RecoveryInterval = cfg.Settlement.RecoveryInterval
	processor := settlement.NewProcessor(zapLogger, repo, ledgerClient, settleCfg)
	processor.Start()

	monitor := trigger.NewMonitor(zapLogger)
	eng := engine.New(zapLogger, repo, repository.NewGormSourceResolver(db), monitor,
		processor, publisher, market.RealClock{}, engine.Config{
			QueueSize:     cfg.Engine.QueueSize,
			SubmitTimeout: cfg.Engine.SubmitTimeout,
		})

	sweep := sweeper.New(zapLogger, eng, cfg.Sweeper.Interval)
	sweep.Start()

	server := api.NewServer(zapLogger, eng, processor, registry, cfg.Server.Addr)
	go func() {
		if err := server.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("gridmatch started", zap.String("addr", cfg.Server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP shutdown failed", zap.Error(err))
	}
	sweep.Stop()
	eng.Stop()
	processor.Stop()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			zapLogger.Error("Kafka close failed", zap.Error(err))
		}
	}
}
