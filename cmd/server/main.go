package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"stockline/backend/internal/cache"
	"stockline/backend/internal/config"
	"stockline/backend/internal/events"
	"stockline/backend/internal/httpapi"
	"stockline/backend/internal/ledger"
	"stockline/backend/internal/lock"
	"stockline/backend/internal/logging"
	"stockline/backend/internal/metrics"
	"stockline/backend/internal/realtime/hub"
	"stockline/backend/internal/recommendation"
	"stockline/backend/internal/service"
	"stockline/backend/internal/stockcount"
	"stockline/backend/internal/store"
	"stockline/backend/internal/store/memory"
	pgstore "stockline/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	metrics.Init()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	var (
		locker      lock.Locker       = lock.NewKeyedMutex()
		stockCache  cache.StockCache  = cache.NoopStockCache{}
		reportCache cache.ReportCache = cache.NoopReportCache{}
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisStockCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process locks and no stock cache", zap.Error(err))
			_ = client.Close()
		} else {
			locker = lock.NewRedisLocker(client, logger)
			stockCache = redisCache
			reportCache = cache.NewRedisReportCache(client)
			closers = append(closers, redisCache.Close)
			logger.Info("locks and caches: redis")
		}
	} else {
		logger.Info("locks: in-process, stock cache: noop")
	}

	rt := hub.New(logger, originChecker(cfg.AllowedOrigin))
	go rt.Run(rootCtx)

	notifier := events.Fanout{rt}
	if cfg.KafkaEnabled() {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaInventoryTopic, logger)
		notifier = append(notifier, publisher)
		closers = append(closers, publisher.Close)
		logger.Info("inventory events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaInventoryTopic))
	}

	l := ledger.New(repo, locker, stockCache, notifier, ledger.Config{
		DefaultStoreID:     cfg.StoreID,
		AllowNegativeStock: cfg.AllowNegativeStock,
		CacheTTL:           time.Duration(cfg.StockCacheTTLSeconds) * time.Second,
	}, logger)
	counts := stockcount.New(repo, l, locker, notifier, cfg.StoreID, logger)
	recommender := recommendation.NewEngine(reportCache, time.Duration(cfg.ReorderCacheTTLSeconds)*time.Second)
	svc := service.New(repo, l, counts, recommender, notifier, logger)

	if cfg.KafkaEnabled() {
		listener := events.NewOrderListener(
			events.NewOrderReader(cfg.KafkaBrokers, cfg.KafkaOrdersTopic, cfg.KafkaGroupID),
			cfg.KafkaOrdersTopic, svc, logger)
		closers = append(closers, listener.Close)
		go listener.Start(rootCtx)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, rt, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("inventory backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// originChecker accepts websocket handshakes from the configured origin. A
// wildcard or an empty origin accepts everything.
func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.EqualFold(strings.TrimRight(origin, "/"), allowed)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that repeat one digit, run in sequence,
// or appear on the common-PIN list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
		"159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
