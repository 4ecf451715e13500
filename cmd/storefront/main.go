package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/backend"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/bucket"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/catalog"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/checkout"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/handlers"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/ledger"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/config"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/idempotency"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/observability"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/pricing"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/session"
)

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{Service: "storefront"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	backendClient, err := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger.Named("backend")),
	)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}
	ledgerClient := ledger.New(backendClient)

	toys, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("failed to load toy catalog", zap.String("path", cfg.Catalog.Path), zap.Error(err))
	}
	logger.Info("toy catalog loaded", zap.Int("toys", toys.Len()))

	registry, err := bucket.NewRegistry(bucket.RegistryDeps{
		API: func(token string) bucket.API {
			return bucket.NewHTTPAPI(backendClient.WithToken(token))
		},
		Toys:    toys,
		Logger:  logger.Named("bucket"),
		IdleTTL: cfg.Bucket.IdleTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise bucket registry", zap.Error(err))
	}

	workflow, err := checkout.NewWorkflow(checkout.Deps{
		Ledger: ledgerClient,
		Logger: logger.Named("checkout"),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout workflow", zap.Error(err))
	}

	converter, err := pricing.NewConverter(cfg.Pricing.TokenPriceKZT)
	if err != nil {
		logger.Fatal("failed to initialise pricing", zap.Error(err))
	}

	var (
		store       idempotency.Store
		redisClient *redis.Client
	)
	if addr := strings.TrimSpace(cfg.Idempotency.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		redisStore, err := idempotency.NewRedisStore(redisClient, "storefront:idempotency:")
		if err != nil {
			logger.Fatal("failed to initialise redis idempotency store", zap.Error(err))
		}
		store = redisStore
	} else {
		logger.Warn("idempotency records are kept in memory; replays do not survive restarts")
		store = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	hashKey := []byte(cfg.Session.HashKey)
	if len(hashKey) == 0 {
		logger.Warn("session hash key not configured; using an ephemeral key")
		hashKey = securecookie.GenerateRandomKey(32)
	}
	sessionManager, err := session.NewManager(session.Config{
		HashKey:      hashKey,
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.Secure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	runEvery := func(interval time.Duration, job func(now time.Time)) {
		ticker := time.NewTicker(interval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					job(time.Now().UTC())
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	cleanupLogger := logger.Named("idempotency")
	runEvery(cfg.Idempotency.CleanupInterval, func(now time.Time) {
		runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
		removed, err := store.CleanupExpired(runCtx, now, cfg.Idempotency.CleanupBatchSize)
		cancel()
		if err != nil {
			cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
			return
		}
		if removed > 0 {
			cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
		}
	})

	sweepLogger := logger.Named("bucket")
	runEvery(cfg.Bucket.SweepInterval, func(now time.Time) {
		if evicted := registry.Sweep(now); evicted > 0 {
			sweepLogger.Info("evicted idle buckets", zap.Int("count", evicted), zap.Int("remaining", registry.Len()))
		}
	})

	ledgers := func(token string) handlers.Ledger {
		return ledgerClient.WithToken(token)
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuild(strings.TrimSpace(os.Getenv("STOREFRONT_BUILD_VERSION")), cfg.Environment),
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithHealthProbe("rental_backend", func(ctx context.Context) error {
			_, err := ledgerClient.Plans(ctx)
			return err
		}),
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, handlers.WithHealthProbe("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(handlers.CheckoutDeps{
		Stores:            registry,
		Ledgers:           ledgers,
		Workflow:          workflow,
		Idempotency:       idempotencyMiddleware,
		IdempotencyHeader: cfg.Idempotency.Header,
		PerMinute:         cfg.RateLimits.CheckoutPerMinute,
	})
	ledgerHandlers := handlers.NewLedgerHandlers(handlers.LedgerDeps{
		Ledgers:           ledgers,
		Pricing:           converter,
		PerMinute:         cfg.RateLimits.CheckoutPerMinute,
		Idempotency:       idempotencyMiddleware,
		IdempotencyHeader: cfg.Idempotency.Header,
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		session.Middleware(sessionManager),
		observability.RequestLoggerMiddleware(),
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)))
	opts = append(opts, handlers.WithBucketRoutes(handlers.NewBucketHandlers(registry, ledgers).Routes))
	opts = append(opts, handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(toys).Routes))
	opts = append(opts, handlers.WithSessionRoutes(handlers.NewSessionHandlers(registry).Routes))
	opts = append(opts, handlers.WithAdditionalRoutes(checkoutHandlers.Routes))
	opts = append(opts, handlers.WithAdditionalRoutes(ledgerHandlers.Routes))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("toy rental storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	backgroundCancel()
	backgroundWG.Wait()
}
